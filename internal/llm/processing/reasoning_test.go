package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractThinking(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantContent   string
		wantReasoning string
	}{
		{
			name:          "No thinking",
			input:         "Hello world",
			wantContent:   "Hello world",
			wantReasoning: "",
		},
		{
			name:          "Simple thinking",
			input:         "<think>Reasoning here</think>Hello world",
			wantContent:   "Hello world",
			wantReasoning: "Reasoning here",
		},
		{
			name:          "Thinking at end",
			input:         "Hello world<think>Reasoning here</think>",
			wantContent:   "Hello world",
			wantReasoning: "Reasoning here",
		},
		{
			name:          "Thinking in middle",
			input:         "Hello <think>Reasoning</think> world",
			wantContent:   "Hello  world",
			wantReasoning: "Reasoning",
		},
		{
			name:          "Multiple thinking blocks",
			input:         "<think>R1</think>C1<think>R2</think>C2",
			wantContent:   "C1C2",
			wantReasoning: "R1R2",
		},
		{
			name:          "Unclosed thinking",
			input:         "Hello <think>Reasoning",
			wantContent:   "Hello ",
			wantReasoning: "Reasoning",
		},
		{
			name:          "Stray end tag is content",
			input:         "a</think>b",
			wantContent:   "a</think>b",
			wantReasoning: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotContent, gotReasoning := ExtractThinking(tt.input)
			assert.Equal(t, tt.wantContent, gotContent)
			assert.Equal(t, tt.wantReasoning, gotReasoning)
		})
	}
}
