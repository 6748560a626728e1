package server

import (
	"github.com/nulzo/query-router/internal/server/middleware"
	v1 "github.com/nulzo/query-router/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.service)
	s.router.GET("/health", healthHandler.Health)

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)

	api := s.router.Group("/v1")
	api.Use(middleware.Identity())
	api.Use(limiter.Middleware())
	{
		queryHandler := v1.NewQueryHandler(s.service, s.validator)
		api.POST("/query", queryHandler.Query)
		api.POST("/route", queryHandler.Route)

		providerHandler := v1.NewProviderHandler(s.service)
		api.GET("/providers", providerHandler.List)

		analyticsHandler := v1.NewAnalyticsHandler(s.analytics, s.service)
		api.GET("/stats", analyticsHandler.GetUsage)

		cacheHandler := v1.NewCacheHandler(s.service)
		api.DELETE("/cache/:key", cacheHandler.Delete)
	}
}
