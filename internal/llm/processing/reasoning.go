package processing

import "strings"

const (
	ThinkStart = "<think>"
	ThinkEnd   = "</think>"
)

// ExtractThinking separates <think>...</think> blocks from the answer text.
// An unclosed block runs to the end of text.
func ExtractThinking(text string) (content string, reasoning string) {
	var contentBuilder strings.Builder
	var reasoningBuilder strings.Builder

	rest := text
	for {
		before, after, found := strings.Cut(rest, ThinkStart)
		contentBuilder.WriteString(before)
		if !found {
			break
		}

		thought, tail, closed := strings.Cut(after, ThinkEnd)
		reasoningBuilder.WriteString(thought)
		if !closed {
			break
		}
		rest = tail
	}

	return contentBuilder.String(), reasoningBuilder.String()
}
