package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // required for starting new transactions
	executor DB       // used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Queries() store.QueryLogRepository {
	return &queryRepo{db: r.executor}
}

func (r *SqliteRepository) CacheEntries() store.CacheEntryRepository {
	return &cacheRepo{db: r.executor}
}

type queryRepo struct {
	db DB
}

func (r *queryRepo) Log(ctx context.Context, log *model.QueryLog) error {
	query := `
	INSERT INTO query_logs (
		id, app_name, provider, model, task, mime,
		cache_key, cache_hit, status, error_kind, latency_ms, created_at
	) VALUES (
		:id, :app_name, :provider, :model, :task, :mime,
		:cache_key, :cache_hit, :status, :error_kind, :latency_ms, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, log)
	return err
}

func (r *queryRepo) GetByID(ctx context.Context, id string) (*model.QueryLog, error) {
	var log model.QueryLog
	if err := r.db.GetContext(ctx, &log, `SELECT * FROM query_logs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *queryRepo) GetRecent(ctx context.Context, limit int) ([]model.QueryLog, error) {
	var logs []model.QueryLog
	query := `SELECT * FROM query_logs ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &logs, query, limit)
	return logs, err
}

func (r *queryRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	var stats []model.DailyStats
	query := `
		SELECT
			DATE(created_at) AS day,
			COUNT(*) AS requests,
			COALESCE(SUM(cache_hit), 0) AS cache_hits,
			COALESCE(SUM(CASE WHEN status = 'ok' THEN 0 ELSE 1 END), 0) AS errors,
			CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER) AS avg_latency_ms
		FROM query_logs
		WHERE created_at >= DATE('now', ?)
		GROUP BY day
		ORDER BY day DESC
	`
	// SQLite date offset format is '-7 days'
	err := r.db.SelectContext(ctx, &stats, query, fmt.Sprintf("-%d days", days))
	return stats, err
}

type cacheRepo struct {
	db DB
}

func (r *cacheRepo) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	if err := r.db.GetContext(ctx, &entry, `SELECT * FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *cacheRepo) Upsert(ctx context.Context, entry *model.CacheEntry) error {
	query := `
	INSERT INTO cache_entries (cache_key, value, expires_at, created_at)
	VALUES (:cache_key, :value, :expires_at, :created_at)
	ON CONFLICT(cache_key) DO UPDATE SET
		value = excluded.value,
		expires_at = excluded.expires_at,
		created_at = excluded.created_at`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

func (r *cacheRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	return err
}

func (r *cacheRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
