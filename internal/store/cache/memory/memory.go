package memory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nulzo/query-router/internal/store/cache"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

// Store is a bounded in-process LRU. Entries also expire individually when
// set with a ttl shorter than the store-wide one.
type Store struct {
	items *expirable.LRU[string, item]
}

// New creates a store holding at most size entries (0 means unbounded),
// each living at most maxTTL (0 means no store-wide expiry).
func New(size int, maxTTL time.Duration) *Store {
	return &Store{
		items: expirable.NewLRU[string, item](size, nil, maxTTL),
	}
}

var _ cache.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	it, ok := s.items.Get(key)
	if !ok {
		return nil, cache.ErrCacheMiss
	}

	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		s.items.Remove(key)
		return nil, cache.ErrCacheMiss
	}

	return it.value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	}
	s.items.Add(key, it)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.items.Remove(key)
	return nil
}

func (s *Store) Len() int {
	return s.items.Len()
}

func (s *Store) Close() error {
	s.items.Purge()
	return nil
}
