package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/query-router/internal/analytics"
	"github.com/nulzo/query-router/internal/cachekey"
	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/internal/prompt"
	"github.com/nulzo/query-router/internal/rules"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/cache"
	"github.com/nulzo/query-router/internal/store/model"
	"github.com/nulzo/query-router/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/nulzo/query-router/internal/gateway"

var (
	// ErrProviderNotAvailable is returned when the resolved provider is
	// registered but has no credentials or host configured.
	ErrProviderNotAvailable = errors.New("provider not available")
	// ErrProviderCall wraps any error returned by an upstream provider.
	ErrProviderCall = errors.New("provider call failed")
)

// Router resolves a provider and model for each query, serves repeated
// queries from the cache and calls the provider on a miss. It is safe for
// concurrent use.
type Router struct {
	defaults  rules.Decision
	style     string
	timeout   time.Duration
	dedupe    bool
	rules     *rules.Engine
	prompts   *prompt.Manager
	cache     *cache.Manager
	providers *llm.Registry

	logger   *zap.Logger
	ingestor analytics.Ingestor
	tracer   trace.Tracer
	group    singleflight.Group
}

type Option func(*Router)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithIngestor records every handled query.
func WithIngestor(ingestor analytics.Ingestor) Option {
	return func(r *Router) { r.ingestor = ingestor }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Router) { r.tracer = tracer }
}

// New builds a Router from cfg. The router takes ownership of cacheManager;
// providers is shared and read-mostly.
func New(cfg config.RouterConfig, providers *llm.Registry, cacheManager *cache.Manager, opts ...Option) (*Router, error) {
	if cfg.DefaultProvider == "" || cfg.DefaultModel == "" {
		return nil, errors.New("router: default_provider and default_model are required")
	}
	if providers == nil || cacheManager == nil {
		return nil, errors.New("router: provider registry and cache are required")
	}
	// a shared call outlives its callers, so only the timeout can end a hung one
	if cfg.DedupeInflight && cfg.ProviderTimeout <= 0 {
		return nil, errors.New("router: dedupe_inflight requires a positive provider_timeout")
	}

	engine, err := rules.New(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	style := prompt.DefaultStyle
	var extraStyles map[string]string
	if cfg.AssistantPrompt != nil {
		if cfg.AssistantPrompt.Style != "" {
			style = cfg.AssistantPrompt.Style
		}
		extraStyles = cfg.AssistantPrompt.Styles
	}

	prompts, err := prompt.NewManager(extraStyles)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	if !prompts.HasStyle(style) {
		return nil, fmt.Errorf("router: %w: unknown assistant style %q", prompt.ErrPromptBuild, style)
	}

	r := &Router{
		defaults:  rules.Decision{Provider: cfg.DefaultProvider, Model: cfg.DefaultModel},
		style:     style,
		timeout:   cfg.ProviderTimeout,
		dedupe:    cfg.DedupeInflight,
		rules:     engine,
		prompts:   prompts,
		cache:     cacheManager,
		providers: providers,
		logger:    zap.NewNop(),
		ingestor:  analytics.NewNoopIngestor(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Route resolves provider and model for a request without any I/O. Rule
// output overrides the configured defaults field by field.
func (r *Router) Route(req *api.QueryRequest) rules.Decision {
	d := r.rules.Choose(rules.Descriptor{Query: req.Query, Task: req.Task, Mime: req.Mime})
	if d.Provider == "" {
		d.Provider = r.defaults.Provider
	}
	if d.Model == "" {
		d.Model = r.defaults.Model
	}
	return d
}

// Explain reports where req would be routed and whether that provider can
// serve it.
func (r *Router) Explain(req *api.QueryRequest) api.RouteResponse {
	d := r.Route(req)
	return api.RouteResponse{
		Provider:  d.Provider,
		Model:     d.Model,
		Available: r.providers.IsAvailable(d.Provider),
	}
}

// HandleQuery runs the routing pipeline for one query.
func (r *Router) HandleQuery(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "router.HandleQuery")
	defer span.End()

	decision := r.Route(req)
	span.SetAttributes(
		attribute.String("router.provider", decision.Provider),
		attribute.String("router.model", decision.Model),
	)

	resp, key, err := r.handle(ctx, req, decision)
	r.record(ctx, req, decision, key, resp, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("router.cache_hit", resp.Cached))
	return resp, nil
}

func (r *Router) handle(ctx context.Context, req *api.QueryRequest, d rules.Decision) (*api.QueryResponse, string, error) {
	// routing errors fail before any I/O
	provider, err := r.providers.Get(d.Provider)
	if err != nil {
		return nil, "", err
	}
	if !r.providers.IsAvailable(d.Provider) {
		return nil, "", fmt.Errorf("%w: %q has no api_key or host configured; add it under settings.providers",
			ErrProviderNotAvailable, d.Provider)
	}

	style := r.style
	if req.AssistantStyle != "" {
		style = req.AssistantStyle
	}

	built, err := r.prompts.Build(req.Query, prompt.Config{
		AssistantStyle: style,
		CacheContext:   req.CacheContext,
		ToolsAvailable: len(req.Tools) > 0,
	})
	if err != nil {
		return nil, "", err
	}

	key, err := cachekey.Derive(cachekey.Material{
		Fingerprint: built.Fingerprint,
		Provider:    d.Provider,
		Model:       d.Model,
		Extras:      req.CacheKeyExtras,
	})
	if err != nil {
		return nil, "", err
	}

	log := r.logger.With(
		zap.String("provider", d.Provider),
		zap.String("model", d.Model),
		zap.String("cache_key", key),
	)

	entry, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Warn("Cache lookup failed, treating as miss", zap.Error(err))
	}
	if entry != nil {
		log.Debug("Cache hit")
		return &api.QueryResponse{
			Text:     entry.Value.Text,
			Provider: d.Provider,
			Model:    d.Model,
			ToolUse:  entry.Value.ToolUse,
			Cached:   true,
		}, key, nil
	}

	log.Debug("Cache miss")

	call := &llm.CallRequest{Model: d.Model, Messages: built.Messages, Tools: req.Tools}

	var value *cache.Value
	if r.dedupe {
		value, err = r.callShared(ctx, key, provider, call, log)
	} else {
		value, err = r.callAndStore(ctx, key, provider, call, log)
	}
	if err != nil {
		return nil, key, err
	}

	return &api.QueryResponse{
		Text:     value.Text,
		Provider: d.Provider,
		Model:    d.Model,
		ToolUse:  value.ToolUse,
	}, key, nil
}

// callShared collapses concurrent misses on the same key into one upstream
// call. The shared call is detached from any single caller's cancellation
// and bounded by the provider timeout instead; each caller still stops
// waiting when its own context ends.
func (r *Router) callShared(ctx context.Context, key string, provider llm.Provider, call *llm.CallRequest, log *zap.Logger) (*cache.Value, error) {
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.callAndStore(context.WithoutCancel(ctx), key, provider, call, log)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debug("Joined in-flight provider call")
		}
		return res.Val.(*cache.Value), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderCall, provider.Name(), ctx.Err())
	}
}

func (r *Router) callAndStore(ctx context.Context, key string, provider llm.Provider, call *llm.CallRequest, log *zap.Logger) (*cache.Value, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	callCtx, span := r.tracer.Start(callCtx, "provider.Call", trace.WithAttributes(
		attribute.String("provider.name", provider.Name()),
		attribute.String("provider.type", provider.Type()),
	))
	start := time.Now()
	result, err := provider.Call(callCtx, call)
	span.End()

	if err != nil {
		log.Error("Provider call failed", zap.Duration("latency", time.Since(start)), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderCall, provider.Name(), err)
	}

	value := &cache.Value{Text: normalize(result), ToolUse: result.ToolUse}
	log.Info("Provider call succeeded", zap.Duration("latency", time.Since(start)))

	if value.Text == "" {
		// an empty answer would never be served back as a hit
		log.Warn("Provider returned an empty result, not caching")
		return value, nil
	}

	// the caller already has a valid result; a failed write only costs a future miss
	if err := r.cache.Set(ctx, key, *value); err != nil {
		log.Warn("Cache write failed", zap.Error(err))
	}

	return value, nil
}

// normalize returns the result text, or a deterministic JSON rendering of
// the structured parts when the provider produced no text.
func normalize(result *llm.CallResult) string {
	if result.Text != "" {
		return result.Text
	}
	if len(result.ToolUse) == 0 && len(result.Structured) == 0 {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

func (r *Router) record(ctx context.Context, req *api.QueryRequest, d rules.Decision, key string, resp *api.QueryResponse, err error, latency time.Duration) {
	entry := &model.QueryLog{
		ID:        requestID(ctx),
		Provider:  d.Provider,
		Model:     d.Model,
		Task:      req.Task,
		Mime:      req.Mime,
		CacheKey:  key,
		Status:    "ok",
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if appName, ok := ctx.Value(store.ContextKeyAppName).(string); ok {
		entry.AppName = appName
	}
	if resp != nil {
		entry.CacheHit = resp.Cached
	}
	if err != nil {
		entry.Status = "error"
		entry.ErrorKind = ErrorKind(err)
	}

	r.ingestor.Log(entry)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(store.ContextKeyRequestID).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// ErrorKind classifies err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, llm.ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, ErrProviderNotAvailable):
		return "provider_not_available"
	case errors.Is(err, prompt.ErrPromptBuild):
		return "prompt_build"
	case errors.Is(err, cachekey.ErrInvalidExtras):
		return "invalid_extras"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrProviderCall):
		return "provider_call"
	default:
		return "internal"
	}
}

// Providers lists every registered provider and whether it is available.
func (r *Router) Providers() []api.ProviderStatus {
	return r.providers.List()
}

// DeleteCache removes a single cache entry.
func (r *Router) DeleteCache(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}

func (r *Router) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Close releases the cache backend.
func (r *Router) Close() error {
	return r.cache.Close()
}
