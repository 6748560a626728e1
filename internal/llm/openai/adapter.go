package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/httpclient"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/internal/llm/processing"
	"github.com/nulzo/query-router/pkg/api"
)

const defaultHost = "https://api.openai.com/v1"

// compatible lists vendors that speak the OpenAI chat completions wire format.
var compatible = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1",
	"xai":        "https://api.x.ai/v1",
	"mistral":    "https://api.mistral.ai/v1",
}

func init() {
	llm.Register(string(llm.OpenAI), NewAdapter)
	for providerType, host := range compatible {
		llm.Register(providerType, NewCompatible(providerType, host))
	}
}

type Adapter struct {
	config       config.ProviderConfig
	providerType string
	client       httpclient.HTTPClient
}

func NewAdapter(config config.ProviderConfig) (llm.Provider, error) {
	return newAdapter(config, string(llm.OpenAI), defaultHost), nil
}

// NewCompatible returns a factory for an OpenAI-compatible vendor.
func NewCompatible(providerType, host string) llm.Factory {
	return func(config config.ProviderConfig) (llm.Provider, error) {
		return newAdapter(config, providerType, host), nil
	}
}

func newAdapter(config config.ProviderConfig, providerType, host string) *Adapter {
	if config.Host == "" {
		config.Host = host
	}
	return &Adapter{
		config:       config,
		providerType: providerType,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string {
	return a.config.ID
}

func (a *Adapter) Type() string {
	return a.providerType
}

// BaseURL is the resolved API root, including the version segment.
func (a *Adapter) BaseURL() string {
	return strings.TrimRight(a.config.Host, "/")
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string     `json:"model"`
	Messages []message  `json:"messages"`
	Tools    []api.Tool `json:"tools,omitempty"`
	Stream   bool       `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// upstreamErrorResponse mirrors the standard OpenAI error shape
type upstreamErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

func (a *Adapter) handleUpstreamError(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return fmt.Errorf("%s: %w", a.providerType, err)
	}

	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr != nil || apiErr.Error.Message == "" {
		return fmt.Errorf("%s: %w", a.providerType, err)
	}

	return fmt.Errorf("%s: %s: %w", a.providerType, apiErr.Error.Message, err)
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{}
	if a.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.config.APIKey
	}
	// handle headers if present in config
	if org, ok := a.config.Config["organization"]; ok {
		headers["OpenAI-Organization"] = org
	}
	return headers
}

func (a *Adapter) Call(ctx context.Context, req *llm.CallRequest) (*llm.CallResult, error) {
	body := chatRequest{
		Model: req.Model,
		Tools: req.Tools,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	url := fmt.Sprintf("%s/chat/completions", a.BaseURL())

	var resp chatResponse
	if err := httpclient.SendRequest(ctx, a.client, http.MethodPost, url, a.headers(), body, &resp); err != nil {
		return nil, a.handleUpstreamError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response contained no choices", a.providerType)
	}

	msg := resp.Choices[0].Message
	// reasoning models served through compatible endpoints inline their thinking
	content, _ := processing.ExtractThinking(msg.Content)

	result := &llm.CallResult{Text: strings.TrimSpace(content)}
	for _, tc := range msg.ToolCalls {
		result.ToolUse = append(result.ToolUse, api.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: api.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return result, nil
}

func (a *Adapter) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/models", a.BaseURL())
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, url, a.headers(), nil, nil)
}
