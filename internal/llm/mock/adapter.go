package mock

import (
	"context"
	"fmt"

	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/pkg/api"
)

func init() {
	llm.Register(string(llm.Mock), NewAdapter, llm.WithoutCredentials())
}

// Adapter echoes the user query back. It needs no network and is what an
// unconfigured deployment routes to by default.
type Adapter struct {
	name string
}

func NewAdapter(config config.ProviderConfig) (llm.Provider, error) {
	name := config.ID
	if name == "" {
		name = string(llm.Mock)
	}
	return &Adapter{name: name}, nil
}

func (a *Adapter) Name() string { return a.name }
func (a *Adapter) Type() string { return string(llm.Mock) }

func (a *Adapter) Call(ctx context.Context, req *llm.CallRequest) (*llm.CallResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var query string
	for _, m := range req.Messages {
		if m.Role == api.User {
			query = m.Content
		}
	}

	return &llm.CallResult{
		Text: fmt.Sprintf("This is a mock response from %s for the query: %q", a.name, query),
	}, nil
}
