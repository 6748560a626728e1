package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/query-router/internal/analytics"
	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/server/middleware"
	v1 "github.com/nulzo/query-router/internal/server/v1"
	"github.com/nulzo/query-router/internal/server/validator"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    *zap.Logger
	service   v1.QueryService
	analytics analytics.Service
	validator *validator.Validator
}

// New wires the HTTP surface around service. stats may be nil when
// analytics are disabled.
func New(cfg *config.Config, logger *zap.Logger, service v1.QueryService, stats analytics.Service) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.RequestID())
	if cfg.Tracing.Enabled {
		engine.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	engine.Use(middleware.Logger(logger))

	s := &Server{
		router:    engine,
		config:    cfg,
		logger:    logger,
		service:   service,
		analytics: stats,
		validator: validator.New(),
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
