package analytics

import (
	"context"

	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/model"
)

type Service interface {
	GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error)
	GetRecent(ctx context.Context, limit int) ([]model.QueryLog, error)
}

type service struct {
	repo store.Repository
}

func NewService(repo store.Repository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days <= 0 {
		days = 7 // default to last week
	}
	return s.repo.Queries().GetDailyStats(ctx, days)
}

func (s *service) GetRecent(ctx context.Context, limit int) ([]model.QueryLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.Queries().GetRecent(ctx, limit)
}
