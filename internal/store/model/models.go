package model

import (
	"database/sql"
	"time"
)

// QueryLog records the outcome of a single routed query.
type QueryLog struct {
	ID        string    `db:"id" json:"id"`
	AppName   string    `db:"app_name" json:"app_name,omitempty"`
	Provider  string    `db:"provider" json:"provider"`
	Model     string    `db:"model" json:"model"`
	Task      string    `db:"task" json:"task,omitempty"`
	Mime      string    `db:"mime" json:"mime,omitempty"`
	CacheKey  string    `db:"cache_key" json:"cache_key,omitempty"`
	CacheHit  bool      `db:"cache_hit" json:"cache_hit"`
	Status    string    `db:"status" json:"status"` // 'ok', 'error'
	ErrorKind string    `db:"error_kind" json:"error_kind,omitempty"`
	LatencyMS int64     `db:"latency_ms" json:"latency_ms"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CacheEntry is a persisted cache value. ExpiresAt is unix nanoseconds.
type CacheEntry struct {
	Key       string        `db:"cache_key"`
	Value     []byte        `db:"value"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
	CreatedAt time.Time     `db:"created_at"`
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt.Valid && now.UnixNano() > e.ExpiresAt.Int64
}

type DailyStats struct {
	Day          string `db:"day" json:"day"`
	Requests     int    `db:"requests" json:"requests"`
	CacheHits    int    `db:"cache_hits" json:"cache_hits"`
	Errors       int    `db:"errors" json:"errors"`
	AvgLatencyMS int64  `db:"avg_latency_ms" json:"avg_latency_ms"`
}
