package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/query-router/internal/config"
	"github.com/nulzo/query-router/internal/httpclient"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/internal/llm/openai"
)

const defaultHost = "http://localhost:11434"

func init() {
	llm.Register(string(llm.Ollama), NewAdapter)
}

// Adapter serves chat through Ollama's OpenAI-compatible endpoint and
// probes health through its native API.
type Adapter struct {
	llm.Provider // embeds the OpenAI adapter for chat capabilities
	rootURL      string
	client       httpclient.HTTPClient
}

func NewAdapter(config config.ProviderConfig) (llm.Provider, error) {
	if config.Host == "" {
		config.Host = defaultHost
	}
	rootURL := strings.TrimSuffix(strings.TrimRight(config.Host, "/"), "/v1")
	config.Host = rootURL + "/v1"

	oaAdapter, err := openai.NewAdapter(config)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Provider: oaAdapter,
		rootURL:  rootURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *Adapter) Type() string {
	return string(llm.Ollama)
}

func (a *Adapter) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/version", a.rootURL)
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, url, nil, nil, nil)
}
