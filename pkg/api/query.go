package api

import (
	"bytes"
	"encoding/json"
	"time"
)

type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message is a single entry in the ordered sequence sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Tool struct {
	Type     string              `json:"type" binding:"omitempty,oneof=function"`
	Function FunctionDescription `json:"function"`
}

type FunctionDescription struct {
	Description string                 `json:"description,omitempty"`
	Name        string                 `json:"name" binding:"required"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"` // JSON Schema object
}

type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// QueryRequest is the inbound call contract of the router.
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
	Task  string `json:"task,omitempty"`
	Mime  string `json:"mime,omitempty"`

	Tools []Tool `json:"tools,omitempty" binding:"omitempty,dive"`

	// CacheKeyExtras further disambiguates otherwise identical queries (e.g. tenant scoping).
	CacheKeyExtras interface{} `json:"cache_key_extras,omitempty"`
	CacheContext   string      `json:"cache_context,omitempty"`

	// AssistantStyle overrides the configured style for this request only.
	AssistantStyle string `json:"assistant_style,omitempty"`
}

// UnmarshalJSON keeps numbers in cache_key_extras as json.Number so large
// integers are not rounded through float64.
func (r *QueryRequest) UnmarshalJSON(data []byte) error {
	type plain QueryRequest
	aux := struct {
		*plain
		CacheKeyExtras json.RawMessage `json:"cache_key_extras,omitempty"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.CacheKeyExtras = nil
	if len(aux.CacheKeyExtras) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(aux.CacheKeyExtras))
	dec.UseNumber()
	return dec.Decode(&r.CacheKeyExtras)
}

type QueryResponse struct {
	Text     string     `json:"text"`
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	ToolUse  []ToolCall `json:"tool_use,omitempty"`
	Cached   bool       `json:"cached"`
}

// ProviderStatus describes a registered provider and whether it can serve traffic.
type ProviderStatus struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Available bool   `json:"available"`
}

type ProviderList struct {
	Object string           `json:"object"`
	Data   []ProviderStatus `json:"data"`
}

type DailyStats struct {
	Day        string `json:"day"`
	Requests   int    `json:"requests"`
	CacheHits  int    `json:"cache_hits"`
	Errors     int    `json:"errors"`
	AvgLatency int64  `json:"avg_latency_ms"`
}

type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Failures int64 `json:"failures"`
}

type StatsResponse struct {
	Object string       `json:"object"`
	Since  time.Time    `json:"since"`
	Data   []DailyStats `json:"data"`
	Cache  CacheStats   `json:"cache"`
}

// RouteResponse is a routing decision computed without calling a provider.
type RouteResponse struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
}
