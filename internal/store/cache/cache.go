package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nulzo/query-router/pkg/api"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss is returned by a Store when a key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheUnavailable wraps any backend I/O failure.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Store is a byte-oriented backing store. Implementations must be safe for
// concurrent use and may evict at any time.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Value is the cached result of a provider call.
type Value struct {
	Text    string         `json:"text"`
	ToolUse []api.ToolCall `json:"tool_use,omitempty"`
}

type Entry struct {
	Value     Value     `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Failures int64 `json:"failures"`
}

// Manager is the best-effort cache in front of a Store. Absence is never an
// error; only backend failures are reported, wrapped in ErrCacheUnavailable.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// NewManager takes ownership of store. A ttl of zero means entries live
// until the store evicts them.
func NewManager(store Store, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, ttl: ttl, logger: logger}
}

// Get returns the entry for key, or nil when there is no usable entry.
// Entries that fail to decode or carry no text are treated as misses.
func (m *Manager) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			m.misses.Add(1)
			if err != ErrCacheMiss {
				// a miss whose backend housekeeping failed
				m.logger.Warn("Cache miss with backend error", zap.String("cache_key", key), zap.Error(err))
			}
			return nil, nil
		}
		m.failures.Add(1)
		return nil, fmt.Errorf("%w: get: %v", ErrCacheUnavailable, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.misses.Add(1)
		m.logger.Debug("Discarding malformed cache entry", zap.String("cache_key", key), zap.Error(err))
		return nil, nil
	}
	if entry.Value.Text == "" {
		m.misses.Add(1)
		m.logger.Debug("Discarding cache entry without text", zap.String("cache_key", key))
		return nil, nil
	}

	m.hits.Add(1)
	return &entry, nil
}

func (m *Manager) Set(ctx context.Context, key string, value Value) error {
	data, err := json.Marshal(Entry{Value: value, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := m.store.Set(ctx, key, data, m.ttl); err != nil {
		m.failures.Add(1)
		return fmt.Errorf("%w: set: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		m.failures.Add(1)
		return fmt.Errorf("%w: delete: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (m *Manager) Stats() Stats {
	return Stats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Failures: m.failures.Load(),
	}
}

func (m *Manager) Close() error {
	return m.store.Close()
}
