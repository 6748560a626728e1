package store

import (
	"context"
	"time"

	"github.com/nulzo/query-router/internal/store/model"
)

type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyAppName   contextKey = "app_name"
)

// Repository is the main contract for the data layer.
type Repository interface {
	Queries() QueryLogRepository
	CacheEntries() CacheEntryRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type QueryLogRepository interface {
	// Log stores a handled query.
	Log(ctx context.Context, log *model.QueryLog) error
	// GetByID returns a single query log by ID.
	GetByID(ctx context.Context, id string) (*model.QueryLog, error)
	// GetRecent returns the last N logs.
	GetRecent(ctx context.Context, limit int) ([]model.QueryLog, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

type CacheEntryRepository interface {
	// Get returns sql.ErrNoRows when the key is absent.
	Get(ctx context.Context, key string) (*model.CacheEntry, error)
	Upsert(ctx context.Context, entry *model.CacheEntry) error
	Delete(ctx context.Context, key string) error
	// PurgeExpired removes entries that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
