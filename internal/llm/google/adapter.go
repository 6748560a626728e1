package google

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
	"github.com/nulzo/query-router/pkg/api"
)

const (
	pn          = string(llm.Google)
	defaultHost = "https://generativelanguage.googleapis.com/v1beta"
	roleModel   = "model"
)

func init() {
	llm.Register(pn, NewAdapter)
	// the original gateway called this vendor gemini
	llm.Register("gemini", NewAdapter)
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
func (a *Adapter) Type() string { return pn }

type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type GeminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *GeminiFunctionCall `json:"functionCall,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiFunctionDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

type GeminiRequest struct {
	SystemInstruction *GeminiContent  `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent `json:"contents"`
	Tools             []GeminiTool    `json:"tools,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Shape converts a call into a generateContent request.
func Shape(req *llm.CallRequest) GeminiRequest {
	system, rest := llm.SystemPrompt(req.Messages)

	gr := GeminiRequest{}
	if system != "" {
		gr.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: system}}}
	}

	for _, m := range rest {
		role := string(api.User)
		if m.Role == api.Assistant {
			role = roleModel
		}
		gr.Contents = append(gr.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: m.Content}},
		})
	}

	if len(req.Tools) > 0 {
		tool := GeminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, GeminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		gr.Tools = []GeminiTool{tool}
	}

	return gr
}

func (a *Adapter) Call(ctx context.Context, req *llm.CallRequest) (*llm.CallResult, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(a.config.Host, "/"),
		req.Model,
	)
	headers := map[string]string{"x-goog-api-key": a.config.APIKey}

	var gResp GeminiResponse
	if err := httpclient.SendRequest(ctx, a.client, http.MethodPost, url, headers, Shape(req), &gResp); err != nil {
		return nil, handleUpstreamError(err)
	}

	if len(gResp.Candidates) == 0 {
		return nil, fmt.Errorf("google: no candidates from gemini")
	}

	var text strings.Builder
	result := &llm.CallResult{}
	for i, part := range gResp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args := "{}"
			if len(part.FunctionCall.Args) > 0 {
				args = string(part.FunctionCall.Args)
			}
			result.ToolUse = append(result.ToolUse, api.ToolCall{
				ID:   fmt.Sprintf("call_%d", i),
				Type: "function",
				Function: api.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				},
			})
			continue
		}
		text.WriteString(part.Text)
	}
	result.Text = text.String()

	return result, nil
}

func handleUpstreamError(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if errors.As(err, &upstreamErr) {
		var apiErr geminiError
		if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("google: %s: %w", apiErr.Error.Message, err)
		}
	}
	return fmt.Errorf("google: %w", err)
}
