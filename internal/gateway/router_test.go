package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/gateway"
	"github.com/nulzo/query-router/internal/httpclient"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/internal/prompt"
	"github.com/nulzo/query-router/internal/rules"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/cache"
	"github.com/nulzo/query-router/internal/store/cache/memory"
	"github.com/nulzo/query-router/internal/store/model"
	"github.com/nulzo/query-router/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// countingProvider answers with a fixed reply and counts calls.
type countingProvider struct {
	name   string
	calls  atomic.Int32
	result *llm.CallResult
	err    error
	block  chan struct{} // when set, Call waits for it or ctx
	last   *llm.CallRequest
	mu     sync.Mutex
}

func newProvider(name string) *countingProvider {
	return &countingProvider{name: name}
}

func (p *countingProvider) Name() string { return p.name }
func (p *countingProvider) Type() string { return "stub" }

func (p *countingProvider) Call(ctx context.Context, req *llm.CallRequest) (*llm.CallResult, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.last = req
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &llm.CallResult{Text: fmt.Sprintf("%s answered with %s", p.name, req.Model)}, nil
}

func (p *countingProvider) Calls() int { return int(p.calls.Load()) }

func (p *countingProvider) LastRequest() *llm.CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type mockIngestor struct {
	mock.Mock
}

func (m *mockIngestor) Log(l *model.QueryLog)   { m.Called(l) }
func (m *mockIngestor) Start(_ context.Context) {}
func (m *mockIngestor) Stop()                   {}

// failingStore simulates a cache backend that is down.
type failingStore struct {
	getErr error
	setErr error
}

func (s failingStore) Get(context.Context, string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return nil, cache.ErrCacheMiss
}
func (s failingStore) Set(context.Context, string, []byte, time.Duration) error { return s.setErr }
func (s failingStore) Delete(context.Context, string) error                     { return nil }
func (s failingStore) Close() error                                             { return nil }

func strPtr(s string) *string { return &s }

func baseConfig() config.RouterConfig {
	return config.RouterConfig{
		DefaultProvider: "openai",
		DefaultModel:    "gpt-4",
		Rules: []rules.Rule{
			{Match: rules.Match{Task: strPtr("code")}, Provider: "anthropic", Model: "claude-3-5-sonnet"},
		},
	}
}

type fixture struct {
	router    *gateway.Router
	registry  *llm.Registry
	openai    *countingProvider
	anthropic *countingProvider
}

func newFixture(t *testing.T, cfg config.RouterConfig, backend cache.Store, opts ...gateway.Option) *fixture {
	t.Helper()

	f := &fixture{
		registry:  llm.NewRegistry(),
		openai:    newProvider("openai"),
		anthropic: newProvider("anthropic"),
	}
	f.registry.Register("openai", f.openai)
	f.registry.Register("anthropic", f.anthropic)
	require.NoError(t, f.registry.SetAvailable("openai", true))
	require.NoError(t, f.registry.SetAvailable("anthropic", true))

	if backend == nil {
		backend = memory.New(100, 0)
	}

	router, err := gateway.New(cfg, f.registry, cache.NewManager(backend, 0, nil), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })
	f.router = router

	return f
}

func TestHandleQuery_RuleSelectsProvider(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)

	resp, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "write a function", Task: "code"})

	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "claude-3-5-sonnet", resp.Model)
	assert.Equal(t, "anthropic answered with claude-3-5-sonnet", resp.Text)
	assert.Equal(t, 1, f.anthropic.Calls())
	assert.Zero(t, f.openai.Calls())
}

func TestHandleQuery_DefaultsWhenNoRuleMatches(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)

	resp, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4", resp.Model)
	assert.False(t, resp.Cached)
}

func TestHandleQuery_RepeatedQueryServedFromCache(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	req := &api.QueryRequest{Query: "hello", Task: "chat", Mime: "text/plain"}

	first, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Provider, second.Provider)
	assert.Equal(t, first.Model, second.Model)

	assert.Equal(t, 1, f.openai.Calls())
	assert.Equal(t, cache.Stats{Hits: 1, Misses: 1}, f.router.CacheStats())
}

func TestHandleQuery_ExtrasDisambiguate(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	ctx := context.Background()

	tenantA := &api.QueryRequest{Query: "hello", CacheKeyExtras: map[string]interface{}{"tenant": "a"}}
	tenantB := &api.QueryRequest{Query: "hello", CacheKeyExtras: map[string]interface{}{"tenant": "b"}}

	_, err := f.router.HandleQuery(ctx, tenantA)
	require.NoError(t, err)
	resp, err := f.router.HandleQuery(ctx, tenantB)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, f.openai.Calls())

	resp, err = f.router.HandleQuery(ctx, tenantA)
	require.NoError(t, err)
	assert.True(t, resp.Cached)

	// absent extras and a zero value are different keys
	_, err = f.router.HandleQuery(ctx, &api.QueryRequest{Query: "hello"})
	require.NoError(t, err)
	_, err = f.router.HandleQuery(ctx, &api.QueryRequest{Query: "hello", CacheKeyExtras: float64(0)})
	require.NoError(t, err)
	assert.Equal(t, 4, f.openai.Calls())
}

func TestHandleQuery_PromptInputsChangeKey(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	ctx := context.Background()

	for _, req := range []*api.QueryRequest{
		{Query: "hello"},
		{Query: "hello", AssistantStyle: "concise"},
		{Query: "hello", CacheContext: "We talked about Go earlier."},
		{Query: "hello", Tools: []api.Tool{{Type: "function", Function: api.FunctionDescription{Name: "f"}}}},
	} {
		resp, err := f.router.HandleQuery(ctx, req)
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}

	assert.Equal(t, 4, f.openai.Calls())
}

func TestHandleQuery_BuildsPromptForProvider(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	tools := []api.Tool{{Type: "function", Function: api.FunctionDescription{Name: "lookup"}}}

	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{
		Query:        "find it",
		CacheContext: "prior notes",
		Tools:        tools,
	})
	require.NoError(t, err)

	call := f.openai.LastRequest()
	require.NotNil(t, call)
	assert.Equal(t, "gpt-4", call.Model)
	assert.Equal(t, tools, call.Tools)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, api.System, call.Messages[0].Role)
	assert.Contains(t, call.Messages[0].Content, "prior notes")
	assert.Contains(t, call.Messages[0].Content, prompt.ToolsNote)
	assert.Equal(t, api.Message{Role: api.User, Content: "find it"}, call.Messages[1])
}

func TestHandleQuery_RegisteredButUnavailable(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	require.NoError(t, f.registry.SetAvailable("anthropic", false))

	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "write a function", Task: "code"})

	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrProviderNotAvailable)
	assert.NotErrorIs(t, err, llm.ErrProviderNotFound)
	assert.Contains(t, err.Error(), "settings.providers")
	assert.Zero(t, f.anthropic.Calls())
}

func TestHandleQuery_UnknownProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProvider = "ghost"
	f := newFixture(t, cfg, nil)

	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})

	assert.ErrorIs(t, err, llm.ErrProviderNotFound)
	assert.NotErrorIs(t, err, gateway.ErrProviderNotAvailable)
}

func TestHandleQuery_UnavailableEvenWhenCached(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	req := &api.QueryRequest{Query: "hello"}

	_, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, f.registry.SetAvailable("openai", false))
	_, err = f.router.HandleQuery(context.Background(), req)
	assert.ErrorIs(t, err, gateway.ErrProviderNotAvailable)
}

func TestHandleQuery_UnknownStyle(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)

	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello", AssistantStyle: "pirate"})

	assert.ErrorIs(t, err, prompt.ErrPromptBuild)
	assert.Zero(t, f.openai.Calls())
}

func TestHandleQuery_CacheOutageDegradesToMiss(t *testing.T) {
	f := newFixture(t, baseConfig(), failingStore{
		getErr: errors.New("connection refused"),
		setErr: errors.New("connection refused"),
	})
	req := &api.QueryRequest{Query: "hello"}

	for i := 0; i < 2; i++ {
		resp, err := f.router.HandleQuery(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "openai answered with gpt-4", resp.Text)
		assert.False(t, resp.Cached)
	}

	assert.Equal(t, 2, f.openai.Calls())
	assert.Equal(t, int64(4), f.router.CacheStats().Failures)
}

func TestHandleQuery_CacheWriteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, baseConfig(), failingStore{setErr: errors.New("read-only replica")})

	resp, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
}

func TestHandleQuery_ProviderErrorPropagates(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	upstream := &httpclient.UpstreamError{StatusCode: http.StatusTooManyRequests, URL: "https://api.openai.com/v1/chat/completions"}
	f.openai.err = fmt.Errorf("openai: rate limited: %w", upstream)

	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})

	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrProviderCall)
	var got *httpclient.UpstreamError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, http.StatusTooManyRequests, got.StatusCode)
	assert.Equal(t, "provider_call", gateway.ErrorKind(err))

	// failures are not cached
	f.openai.err = nil
	resp, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestHandleQuery_ProviderTimeout(t *testing.T) {
	cfg := baseConfig()
	cfg.ProviderTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.openai.block = make(chan struct{})

	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})

	assert.ErrorIs(t, err, gateway.ErrProviderCall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", gateway.ErrorKind(err))
}

func TestHandleQuery_ToolUseIsCached(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	toolUse := []api.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: api.FunctionCall{Name: "lookup", Arguments: `{"q":"go"}`},
	}}
	f.openai.result = &llm.CallResult{ToolUse: toolUse}
	req := &api.QueryRequest{Query: "find go"}

	first, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool_use":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"go\"}"}}]}`, first.Text)
	assert.Equal(t, toolUse, first.ToolUse)

	second, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, toolUse, second.ToolUse)
	assert.Equal(t, 1, f.openai.Calls())
}

func TestHandleQuery_EmptyResultNotCached(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	f.openai.result = &llm.CallResult{}
	req := &api.QueryRequest{Query: "hello"}

	for i := 0; i < 2; i++ {
		resp, err := f.router.HandleQuery(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, resp.Text)
		assert.False(t, resp.Cached)
	}
	assert.Equal(t, 2, f.openai.Calls())
}

func TestHandleQuery_DedupesConcurrentMisses(t *testing.T) {
	cfg := baseConfig()
	cfg.DedupeInflight = true
	cfg.ProviderTimeout = 5 * time.Second
	f := newFixture(t, cfg, nil)
	f.openai.block = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*api.QueryResponse, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})
		}(i)
	}

	require.Eventually(t, func() bool { return f.openai.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.openai.block)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "openai answered with gpt-4", results[i].Text)
	}
	assert.Equal(t, 1, f.openai.Calls())
}

func TestHandleQuery_DedupeCallerCancellation(t *testing.T) {
	cfg := baseConfig()
	cfg.DedupeInflight = true
	cfg.ProviderTimeout = 5 * time.Second
	f := newFixture(t, cfg, nil)
	f.openai.block = make(chan struct{})
	defer close(f.openai.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.router.HandleQuery(ctx, &api.QueryRequest{Query: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleQuery_SharedCallBoundedByProviderTimeout(t *testing.T) {
	cfg := baseConfig()
	cfg.DedupeInflight = true
	cfg.ProviderTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.openai.block = make(chan struct{})
	defer close(f.openai.block)

	// callers without a deadline must not wait on a hung upstream forever
	_, err := f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})
	assert.ErrorIs(t, err, gateway.ErrProviderCall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the key is released, so the next caller starts a fresh call
	_, err = f.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, f.openai.Calls())
}

func TestHandleQuery_RecordsQueryLog(t *testing.T) {
	ing := &mockIngestor{}
	var logs []*model.QueryLog
	ing.On("Log", mock.Anything).Run(func(args mock.Arguments) {
		logs = append(logs, args.Get(0).(*model.QueryLog))
	})

	f := newFixture(t, baseConfig(), nil, gateway.WithIngestor(ing))
	ctx := context.WithValue(context.Background(), store.ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, store.ContextKeyAppName, "docs-bot")

	_, err := f.router.HandleQuery(ctx, &api.QueryRequest{Query: "hello", Task: "chat"})
	require.NoError(t, err)
	_, err = f.router.HandleQuery(ctx, &api.QueryRequest{Query: "hello", Task: "chat"})
	require.NoError(t, err)
	_, err = f.router.HandleQuery(ctx, &api.QueryRequest{Query: "hello", AssistantStyle: "pirate"})
	require.Error(t, err)

	ing.AssertNumberOfCalls(t, "Log", 3)
	require.Len(t, logs, 3)

	assert.Equal(t, "req-1", logs[0].ID)
	assert.Equal(t, "docs-bot", logs[0].AppName)
	assert.Equal(t, "chat", logs[0].Task)
	assert.False(t, logs[0].CacheHit)
	assert.Equal(t, "ok", logs[0].Status)
	assert.NotEmpty(t, logs[0].CacheKey)

	assert.True(t, logs[1].CacheHit)
	assert.Equal(t, logs[0].CacheKey, logs[1].CacheKey)

	assert.Equal(t, "error", logs[2].Status)
	assert.Equal(t, "prompt_build", logs[2].ErrorKind)
}

func TestDeleteCache(t *testing.T) {
	ing := &mockIngestor{}
	var key string
	ing.On("Log", mock.Anything).Run(func(args mock.Arguments) {
		key = args.Get(0).(*model.QueryLog).CacheKey
	})
	f := newFixture(t, baseConfig(), nil, gateway.WithIngestor(ing))
	req := &api.QueryRequest{Query: "hello"}

	_, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	require.NoError(t, f.router.DeleteCache(context.Background(), key))

	resp, err := f.router.HandleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, f.openai.Calls())
}

func TestRoute_FieldByFieldOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = append([]rules.Rule{
		{Match: rules.Match{Contains: strPtr("summarize")}, Model: "gpt-4o-mini"},
	}, cfg.Rules...)
	f := newFixture(t, cfg, nil)

	assert.Equal(t, rules.Decision{Provider: "openai", Model: "gpt-4o-mini"},
		f.router.Route(&api.QueryRequest{Query: "Please SUMMARIZE this", Task: "code"}))
	assert.Equal(t, rules.Decision{Provider: "anthropic", Model: "claude-3-5-sonnet"},
		f.router.Route(&api.QueryRequest{Query: "write a function", Task: "code"}))
}

func TestProviders(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	require.NoError(t, f.registry.SetAvailable("anthropic", false))

	assert.Equal(t, []api.ProviderStatus{
		{Name: "anthropic", Type: "stub", Available: false},
		{Name: "openai", Type: "stub", Available: true},
	}, f.router.Providers())
}

func TestNew_Validation(t *testing.T) {
	registry := llm.NewRegistry()
	newManager := func() *cache.Manager { return cache.NewManager(memory.New(10, 0), 0, nil) }

	_, err := gateway.New(config.RouterConfig{}, registry, newManager())
	assert.Error(t, err)

	cfg := baseConfig()
	cfg.Rules = []rules.Rule{{Provider: "openai"}}
	_, err = gateway.New(cfg, registry, newManager())
	assert.ErrorIs(t, err, rules.ErrInvalidRule)

	cfg = baseConfig()
	cfg.AssistantPrompt = &config.AssistantPromptConfig{Style: "pirate"}
	_, err = gateway.New(cfg, registry, newManager())
	assert.ErrorIs(t, err, prompt.ErrPromptBuild)

	cfg.AssistantPrompt.Styles = map[string]string{"pirate": "Answer like a pirate."}
	r, err := gateway.New(cfg, registry, newManager())
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = gateway.New(baseConfig(), nil, newManager())
	assert.Error(t, err)

	cfg = baseConfig()
	cfg.DedupeInflight = true
	_, err = gateway.New(cfg, registry, newManager())
	assert.ErrorContains(t, err, "provider_timeout")
}

func TestNew_FreshInstancesShareNoState(t *testing.T) {
	first := newFixture(t, baseConfig(), nil)
	_, err := first.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})
	require.NoError(t, err)

	second := newFixture(t, baseConfig(), nil)
	resp, err := second.router.HandleQuery(context.Background(), &api.QueryRequest{Query: "hello"})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestExplain(t *testing.T) {
	f := newFixture(t, baseConfig(), nil)
	require.NoError(t, f.registry.SetAvailable("anthropic", false))

	assert.Equal(t, api.RouteResponse{Provider: "anthropic", Model: "claude-3-5-sonnet", Available: false},
		f.router.Explain(&api.QueryRequest{Query: "x", Task: "code"}))
	assert.Equal(t, api.RouteResponse{Provider: "openai", Model: "gpt-4", Available: true},
		f.router.Explain(&api.QueryRequest{Query: "x"}))
	assert.Zero(t, f.openai.Calls()+f.anthropic.Calls())
}
