package llm

import (
	"context"
	"encoding/json"

	"github.com/nulzo/query-router/pkg/api"
)

type ProviderName string

const (
	Ollama    ProviderName = "ollama"
	OpenAI    ProviderName = "openai"
	Anthropic ProviderName = "anthropic"
	Google    ProviderName = "google"
	Mock      ProviderName = "mock"
)

// CallRequest is what the router hands to a provider: the built prompt,
// the chosen model and any tool definitions from the caller.
type CallRequest struct {
	Model    string
	Messages []api.Message
	Tools    []api.Tool
}

// CallResult is a provider's normalized answer.
type CallResult struct {
	Text    string         `json:"text,omitempty"`
	ToolUse []api.ToolCall `json:"tool_use,omitempty"`
	// Structured carries a non-text payload for vendors that return one.
	Structured json.RawMessage `json:"structured,omitempty"`
}

type Provider interface {
	Name() string
	Type() string // e.g., "openai", "anthropic"
	Call(ctx context.Context, req *CallRequest) (*CallResult, error)
}

// HealthChecker is implemented by providers that can probe their upstream.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// SystemPrompt joins the system messages of msgs and returns the rest.
// Vendors with a dedicated system field use it.
func SystemPrompt(msgs []api.Message) (string, []api.Message) {
	var system string
	rest := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == api.System {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
