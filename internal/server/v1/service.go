package v1

import (
	"context"

	"github.com/nulzo/query-router/internal/store/cache"
	"github.com/nulzo/query-router/pkg/api"
)

// QueryService is the routing surface the handlers depend on. It is
// satisfied by *gateway.Router.
type QueryService interface {
	HandleQuery(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error)
	Explain(req *api.QueryRequest) api.RouteResponse
	Providers() []api.ProviderStatus
	DeleteCache(ctx context.Context, key string) error
	CacheStats() cache.Stats
}
