// Package llm defines the LLMClient abstraction the Orchestrator drives,
// plus concrete providers backed by the Anthropic and OpenAI SDKs.
package llm

import (
	"context"

	"github.com/orchestra-run/orchestra/internal/models"
)

// Chunk is one piece of a streamed completion. A Chunk either carries
// the next piece of the reply's text or a terminal error, never both.
type Chunk struct {
	Text  string
	Done  bool
	Error error
}

// Client produces a full assistant message from conversation history,
// honoring ctx cancellation to let the caller break a stream cleanly and
// treat whatever text arrived so far as final.
type Client interface {
	// Complete streams the assistant's reply to history on the returned
	// channel. The channel is closed after a Chunk with Done == true (or
	// a Chunk carrying a terminal Error) has been sent.
	Complete(ctx context.Context, model string, history []models.Message) (<-chan Chunk, error)
}

// CollectText drains a Chunk channel into one assistant message,
// returning whatever text accumulated even if the stream ended in error
// and ctx was canceled mid-stream — cancellation treats received-so-far
// as final, per the Orchestrator's cancellation contract.
func CollectText(ctx context.Context, chunks <-chan Chunk) (string, error) {
	var text string
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return text, nil
		case c, ok := <-chunks:
			if !ok {
				return text, lastErr
			}
			if c.Error != nil {
				lastErr = c.Error
				continue
			}
			text += c.Text
			if c.Done {
				return text, nil
			}
		}
	}
}
