package anthropic

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

const (
	defaultHost      = "https://api.anthropic.com/v1"
	defaultVersion   = "2023-06-01"
	defaultMaxTokens = 4096
)

func init() {
	llm.Register(string(llm.Anthropic), NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client httpclient.HTTPClient
}

func NewAdapter(config config.ProviderConfig) (llm.Provider, error) {
	if config.Host == "" {
		config.Host = defaultHost
	}
	return &Adapter{
		config: config,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return string(llm.Anthropic) }

type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema"`
}

type Request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Tools     []Tool    `json:"tools,omitempty"`
}

type Response struct {
	ID         string    `json:"id"`
	Content    []Content `json:"content"`
	Model      string    `json:"model"`
	StopReason string    `json:"stop_reason"`
}

type Content struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// emptySchema is sent for tools declared without parameters; the Messages
// API requires input_schema.
var emptySchema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}

// Convert Unified -> Anthropic
func toAnthropicReq(req *llm.CallRequest, maxTokens int) Request {
	system, rest := llm.SystemPrompt(req.Messages)
	ar := Request{
		Model:     req.Model,
		System:    system,
		MaxTokens: maxTokens,
	}

	for _, m := range rest {
		ar.Messages = append(ar.Messages, Message{
			Role:    string(m.Role),
			Content: []Content{{Type: "text", Text: m.Content}},
		})
	}

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if schema == nil {
			schema = emptySchema
		}
		ar.Tools = append(ar.Tools, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	return ar
}

func (a *Adapter) maxTokens() int {
	if v, ok := a.config.Config["max_tokens"]; ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return defaultMaxTokens
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": defaultVersion,
	}
	if v, ok := a.config.Config["version"]; ok {
		headers["anthropic-version"] = v
	}
	return headers
}

func (a *Adapter) Call(ctx context.Context, req *llm.CallRequest) (*llm.CallResult, error) {
	ar := toAnthropicReq(req, a.maxTokens())

	url := fmt.Sprintf("%s/messages", strings.TrimRight(a.config.Host, "/"))

	var anthroResp Response
	if err := httpclient.SendRequest(ctx, a.client, http.MethodPost, url, a.headers(), ar, &anthroResp); err != nil {
		return nil, handleUpstreamError(err)
	}

	// Convert Anthropic -> Unified
	var fullText strings.Builder
	result := &llm.CallResult{}
	for _, c := range anthroResp.Content {
		switch c.Type {
		case "text":
			fullText.WriteString(c.Text)
		case "tool_use":
			args := "{}"
			if len(c.Input) > 0 {
				args = string(c.Input)
			}
			result.ToolUse = append(result.ToolUse, api.ToolCall{
				ID:   c.ID,
				Type: "function",
				Function: api.FunctionCall{
					Name:      c.Name,
					Arguments: args,
				},
			})
		}
	}

	content, _ := processing.ExtractThinking(fullText.String())
	result.Text = strings.TrimSpace(content)

	return result, nil
}

func handleUpstreamError(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if errors.As(err, &upstreamErr) {
		var apiErr errorResponse
		if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("anthropic: %s: %w", apiErr.Error.Message, err)
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}
