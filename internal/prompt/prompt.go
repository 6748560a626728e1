package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nulzo/query-router/internal/cachekey"
	"github.com/nulzo/query-router/pkg/api"
)

var ErrPromptBuild = errors.New("prompt build failed")

// DefaultStyle is used when no assistant style is configured.
const DefaultStyle = "balanced"

// ToolsNote is appended to the system message when tools are available.
const ToolsNote = "Tool calls are available."

var builtinStyles = map[string]string{
	"balanced":  "You are a helpful assistant. Give accurate, well-structured answers with a moderate level of detail.",
	"concise":   "You are a helpful assistant. Answer as briefly as possible while staying correct.",
	"detailed":  "You are a helpful assistant. Give thorough answers and explain your reasoning step by step.",
	"creative":  "You are a creative assistant. Favor original ideas and vivid language.",
	"technical": "You are a senior engineer. Answer precisely, prefer code and concrete examples over prose.",
}

// Config drives the assembly of the system message.
type Config struct {
	AssistantStyle string
	CacheContext   string
	ToolsAvailable bool
}

// Built is an assembled prompt plus the fingerprint of its exact message sequence.
type Built struct {
	Messages    []api.Message
	Fingerprint string
}

// Manager assembles provider-ready prompts. It is read-only after
// construction and safe for concurrent use.
type Manager struct {
	styles map[string]string
}

// NewManager returns a manager with the built-in styles plus any extra
// styles; an extra style with a built-in name replaces it.
func NewManager(extra map[string]string) (*Manager, error) {
	styles := make(map[string]string, len(builtinStyles)+len(extra))
	for k, v := range builtinStyles {
		styles[k] = v
	}
	for k, v := range extra {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: style %q has an empty name or phrase", ErrPromptBuild, k)
		}
		styles[k] = v
	}
	return &Manager{styles: styles}, nil
}

// HasStyle reports whether name is a known style.
func (m *Manager) HasStyle(name string) bool {
	_, ok := m.styles[name]
	return ok
}

// Build returns [system, user]. The user content is the raw query; the
// fingerprint covers every message so style and context changes never
// share a cache entry.
func (m *Manager) Build(query string, cfg Config) (*Built, error) {
	phrase, ok := m.styles[cfg.AssistantStyle]
	if !ok {
		return nil, fmt.Errorf("%w: unknown assistant style %q", ErrPromptBuild, cfg.AssistantStyle)
	}

	parts := []string{phrase}
	if cfg.CacheContext != "" {
		parts = append(parts, cfg.CacheContext)
	}
	if cfg.ToolsAvailable {
		parts = append(parts, ToolsNote)
	}

	messages := []api.Message{
		{Role: api.System, Content: strings.Join(parts, "\n\n")},
		{Role: api.User, Content: query},
	}

	fp, err := fingerprint(messages)
	if err != nil {
		return nil, err
	}

	return &Built{Messages: messages, Fingerprint: fp}, nil
}

// fingerprint hashes the canonical form of the sequence: an array of
// [role, content] pairs, in order.
func fingerprint(messages []api.Message) (string, error) {
	pairs := make([][2]string, len(messages))
	for i, msg := range messages {
		pairs[i] = [2]string{string(msg.Role), msg.Content}
	}

	data, err := cachekey.Canonical(pairs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPromptBuild, err)
	}
	return cachekey.Fingerprint(data).String(), nil
}
