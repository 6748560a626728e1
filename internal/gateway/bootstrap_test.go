package gateway_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/gateway"
	"github.com/nulzo/query-router/internal/store/cache"
	"github.com/nulzo/query-router/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "github.com/nulzo/query-router/internal/llm/anthropic"
	_ "github.com/nulzo/query-router/internal/llm/mock"
	_ "github.com/nulzo/query-router/internal/llm/ollama"
	_ "github.com/nulzo/query-router/internal/llm/openai"
)

func availability(t *testing.T, settings config.Settings) map[string]bool {
	t.Helper()
	registry := gateway.BootstrapProviders(context.Background(), settings, zap.NewNop())

	out := make(map[string]bool)
	for _, p := range registry.List() {
		out[p.Name] = p.Available
	}
	return out
}

func TestBootstrapProviders_Availability(t *testing.T) {
	got := availability(t, config.Settings{
		Providers: map[string]config.ProviderConfig{
			"openai":    {APIKey: "sk-test"},
			"anthropic": {},
			"local":     {Type: "ollama", Host: "http://localhost:11434"},
			"broken":    {Type: "does-not-exist", APIKey: "x"},
		},
	})

	assert.True(t, got["openai"])
	assert.False(t, got["anthropic"])
	assert.True(t, got["local"])

	_, registered := got["broken"]
	assert.False(t, registered)

	// code present, never configured
	mockAvailable, ok := got["mock"]
	assert.True(t, ok)
	assert.False(t, mockAvailable)
	_, ok = got["ollama"]
	assert.True(t, ok)
}

func TestBootstrapProviders_CredentialFreeType(t *testing.T) {
	got := availability(t, config.Settings{
		Providers: map[string]config.ProviderConfig{
			"mock": {},
			"fake": {Type: "mock"},
		},
	})

	assert.True(t, got["mock"])
	assert.True(t, got["fake"])
}

func TestBootstrapProviders_InvalidHost(t *testing.T) {
	got := availability(t, config.Settings{
		Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "k", Host: "not a url"},
		},
	})

	assert.False(t, got["openai"])
}

func TestBootstrapProviders_HealthCheck(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
	}))
	defer up.Close()

	got := availability(t, config.Settings{
		CheckHealth: true,
		Providers: map[string]config.ProviderConfig{
			"down": {Type: "ollama", Host: down.URL},
			"up":   {Type: "ollama", Host: up.URL},
		},
	})

	assert.False(t, got["down"])
	assert.True(t, got["up"])
}

func roundTrip(t *testing.T, m *cache.Manager) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "qr:v1:k", cache.Value{Text: "hi"}))

	entry, err := m.Get(ctx, "qr:v1:k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "hi", entry.Value.Text)
	require.NoError(t, m.Close())
}

func TestOpenCache_Backends(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	t.Run("memory", func(t *testing.T) {
		m, err := gateway.OpenCache(ctx, config.CacheConfig{Backend: "memory", Size: 10}, time.Hour, nil, log)
		require.NoError(t, err)
		roundTrip(t, m)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.db")
		m, err := gateway.OpenCache(ctx, config.CacheConfig{Backend: "sqlite", Path: path}, 0, nil, log)
		require.NoError(t, err)
		roundTrip(t, m)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		m, err := gateway.OpenCache(ctx, config.CacheConfig{
			Backend: "redis",
			Redis:   config.RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
		}, time.Minute, nil, log)
		require.NoError(t, err)
		roundTrip(t, m)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := gateway.OpenCache(ctx, config.CacheConfig{Backend: "memcached"}, 0, nil, log)
		assert.Error(t, err)
	})
}

func TestOpenCache_SqlitePurgesStaleRowsAtStartup(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "router.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	previous := sqlite.NewCacheStore(repo)
	require.NoError(t, previous.Set(ctx, "qr:v1:stale", []byte(`{"value":{"text":"old"}}`), time.Millisecond))
	require.NoError(t, previous.Set(ctx, "qr:v1:fresh", []byte(`{"value":{"text":"new"}}`), time.Hour))
	time.Sleep(5 * time.Millisecond)

	m, err := gateway.OpenCache(ctx, config.CacheConfig{Backend: "sqlite"}, time.Hour, repo, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = repo.CacheEntries().Get(ctx, "qr:v1:stale")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = repo.CacheEntries().Get(ctx, "qr:v1:fresh")
	assert.NoError(t, err)
}
