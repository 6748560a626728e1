package gateway

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/query-router/internal/cli"
	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/cache"
	"github.com/nulzo/query-router/internal/store/cache/memory"
	"github.com/nulzo/query-router/internal/store/redis"
	"github.com/nulzo/query-router/internal/store/sqlite"
	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

// BootstrapProviders builds the provider registry from settings.
//
// Every configured provider is registered; it is available only when it
// carries an api_key or host (or its type needs neither). Provider types
// with code but no settings entry are registered under their type name as
// unavailable, so routing to them reports a configuration problem rather
// than an unknown provider.
func BootstrapProviders(ctx context.Context, settings config.Settings, log *zap.Logger) *llm.Registry {
	registry := llm.NewRegistry()
	validate := validator.New()

	names := make([]string, 0, len(settings.Providers))
	for name := range settings.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pCfg := settings.Providers[name]
		pCfg.ID = name
		if pCfg.Type == "" {
			pCfg.Type = name
		}

		factoryFunc, err := llm.Get(pCfg.Type)
		if err != nil {
			log.Error("Unknown provider type", zap.String("id", name), zap.String("type", pCfg.Type))
			continue
		}

		providerInstance, err := factoryFunc(pCfg)
		if err != nil {
			log.Error("Failed to initialize provider", zap.String("id", name), zap.Error(err))
			continue
		}
		registry.Register(name, providerInstance)

		available := pCfg.Configured() || !llm.RequiresCredentials(pCfg.Type)
		if err := validate.Struct(&pCfg); err != nil {
			log.Warn("Invalid provider configuration", zap.String("id", name), zap.Error(err))
			available = false
		}

		if !available {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Stylize(fmt.Sprintf("%s\t", name), cli.Black),
				cli.Stylize("Registered without api_key or host, provider unavailable", cli.Yellow),
			))
			continue
		}

		if settings.CheckHealth {
			if checker, ok := providerInstance.(llm.HealthChecker); ok {
				healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
				err := checker.Health(healthCtx)
				cancel()
				if err != nil {
					log.Error("Provider unhealthy, marking unavailable", zap.String("id", name), zap.Error(err))
					continue
				}
			}
		}

		_ = registry.SetAvailable(name, true)
		log.Info(fmt.Sprintf("%s %s", cli.CheckMark(), cli.Stylize(name, cli.Green)),
			zap.String("type", pCfg.Type))
	}

	// vendors with code but no settings entry resolve as unavailable, not unknown
	for _, providerType := range llm.Types() {
		if registry.IsRegistered(providerType) {
			continue
		}
		factoryFunc, _ := llm.Get(providerType)
		providerInstance, err := factoryFunc(config.ProviderConfig{ID: providerType, Type: providerType})
		if err != nil {
			continue
		}
		registry.Register(providerType, providerInstance)
	}

	if registry.Len() == 0 {
		log.Warn("No providers are available. Queries will fail until settings.providers is configured.")
	}

	return registry
}

// sweepInterval runs the sqlite sweeper a few times per ttl, bounded to
// [1m, 1h].
func sweepInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	if d < time.Minute {
		return time.Minute
	}
	if d > time.Hour {
		return time.Hour
	}
	return d
}

// OpenCache builds the cache backend named by cfg. The sqlite backend reuses
// repo when one is given, otherwise it opens cfg.Path.
func OpenCache(ctx context.Context, cfg config.CacheConfig, ttl time.Duration, repo store.Repository, log *zap.Logger) (*cache.Manager, error) {
	var backend cache.Store

	switch cfg.Backend {
	case "", "memory":
		backend = memory.New(cfg.Size, ttl)
	case "redis":
		rs := redis.New(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		// an unreachable redis degrades to misses, it does not block startup
		if err := rs.Ping(ctx); err != nil {
			log.Warn("Redis cache unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		backend = rs
	case "sqlite":
		opts := []sqlite.CacheOption{sqlite.WithCacheLogger(log)}
		if ttl > 0 {
			opts = append(opts, sqlite.WithSweepInterval(sweepInterval(ttl)))
		}

		var cs *sqlite.CacheStore
		if repo != nil {
			cs = sqlite.NewCacheStore(repo, opts...)
		} else {
			owned, err := sqlite.NewSQLiteStorage(cfg.Path, log)
			if err != nil {
				return nil, fmt.Errorf("open sqlite cache: %w", err)
			}
			cs = sqlite.NewOwnedCacheStore(owned, opts...)
		}

		// rows left behind by earlier runs
		if purged, err := cs.Sweep(ctx); err != nil {
			log.Warn("Failed to purge expired cache entries", zap.Error(err))
		} else if purged > 0 {
			log.Info("Purged expired cache entries", zap.Int64("count", purged))
		}
		backend = cs
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	log.Info("Cache initialized", zap.String("backend", cfg.Backend), zap.Duration("ttl", ttl))
	return cache.NewManager(backend, ttl, log), nil
}
