package analytics_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/query-router/internal/analytics"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/model"
	"github.com/nulzo/query-router/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "analytics.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func queryLog(cacheHit bool, status string, latency int64) *model.QueryLog {
	return &model.QueryLog{
		ID:        uuid.NewString(),
		Provider:  "openai",
		Model:     "gpt-4",
		CacheHit:  cacheHit,
		Status:    status,
		LatencyMS: latency,
		CreatedAt: time.Now().UTC(),
	}
}

func TestIngestor_FlushesOnStop(t *testing.T) {
	repo := newRepo(t)
	ing := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithFlushInterval(time.Hour))
	ing.Start(context.Background())

	ing.Log(queryLog(false, "ok", 10))
	ing.Log(queryLog(true, "ok", 2))
	ing.Log(queryLog(false, "error", 30))
	ing.Stop()

	// logging after stop is a no-op
	ing.Log(queryLog(false, "ok", 1))

	logs, err := repo.Queries().GetRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	stats, err := analytics.NewService(repo).GetUsageOverview(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Requests)
	assert.Equal(t, 1, stats[0].CacheHits)
	assert.Equal(t, 1, stats[0].Errors)
}

func TestIngestor_FlushesOnBatchSize(t *testing.T) {
	repo := newRepo(t)
	ing := analytics.NewIngestor(zap.NewNop(), repo,
		analytics.WithBatchSize(2),
		analytics.WithFlushInterval(time.Hour),
	)
	ing.Start(context.Background())
	defer ing.Stop()

	ing.Log(queryLog(false, "ok", 5))
	ing.Log(queryLog(false, "ok", 5))

	assert.Eventually(t, func() bool {
		logs, err := repo.Queries().GetRecent(context.Background(), 10)
		return err == nil && len(logs) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIngestor_DropsWhenBufferFull(t *testing.T) {
	repo := newRepo(t)
	ing := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithBufferSize(1))

	// not started, so the buffer never drains
	ing.Log(queryLog(false, "ok", 1))
	ing.Log(queryLog(false, "ok", 1))
	ing.Stop()

	logs, err := repo.Queries().GetRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestService_GetRecentClampsLimit(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Queries().Log(context.Background(), queryLog(false, "ok", 1)))

	logs, err := analytics.NewService(repo).GetRecent(context.Background(), -1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestNoopIngestor(t *testing.T) {
	ing := analytics.NewNoopIngestor()
	ing.Start(context.Background())
	ing.Log(queryLog(false, "ok", 1))
	ing.Stop()
}
