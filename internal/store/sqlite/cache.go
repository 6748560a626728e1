package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/cache"
	"github.com/nulzo/query-router/internal/store/model"
	"go.uber.org/zap"
)

// CacheStore persists cache entries in the cache_entries table so they
// survive restarts.
type CacheStore struct {
	repo  store.Repository
	owned bool

	sweepEvery time.Duration
	logger     *zap.Logger
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type CacheOption func(*CacheStore)

// WithSweepInterval purges expired rows every d in the background until the
// store is closed. Rows are otherwise only removed when their key is read.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(s *CacheStore) { s.sweepEvery = d }
}

func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(s *CacheStore) { s.logger = logger }
}

// NewCacheStore uses a repository shared with the query log.
func NewCacheStore(repo store.Repository, opts ...CacheOption) *CacheStore {
	return newCacheStore(repo, false, opts)
}

// NewOwnedCacheStore closes repo when the store is closed.
func NewOwnedCacheStore(repo store.Repository, opts ...CacheOption) *CacheStore {
	return newCacheStore(repo, true, opts)
}

func newCacheStore(repo store.Repository, owned bool, opts []CacheOption) *CacheStore {
	s := &CacheStore{
		repo:   repo,
		owned:  owned,
		logger: zap.NewNop(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepEvery > 0 {
		s.wg.Add(1)
		go s.sweeper()
	}
	return s
}

var _ cache.Store = (*CacheStore)(nil)

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.repo.CacheEntries().Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrCacheMiss
		}
		return nil, err
	}

	if entry.Expired(time.Now()) {
		// still a miss; the caller decides how to report the failed cleanup
		if err := s.repo.CacheEntries().Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("%w: remove expired entry: %w", cache.ErrCacheMiss, err)
		}
		return nil, cache.ErrCacheMiss
	}

	return entry.Value, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	entry := &model.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now.UTC(),
	}
	if ttl > 0 {
		entry.ExpiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true}
	}
	return s.repo.CacheEntries().Upsert(ctx, entry)
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	return s.repo.CacheEntries().Delete(ctx, key)
}

// Sweep removes every expired row and reports how many were dropped.
func (s *CacheStore) Sweep(ctx context.Context) (int64, error) {
	return s.repo.CacheEntries().PurgeExpired(ctx, time.Now())
}

func (s *CacheStore) sweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			purged, err := s.Sweep(context.Background())
			if err != nil {
				s.logger.Warn("Failed to purge expired cache entries", zap.Error(err))
				continue
			}
			if purged > 0 {
				s.logger.Debug("Purged expired cache entries", zap.Int64("count", purged))
			}
		}
	}
}

// Close stops the sweeper and releases the repository only if the store
// owns it.
func (s *CacheStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	if !s.owned {
		return nil
	}
	return s.repo.Close()
}
