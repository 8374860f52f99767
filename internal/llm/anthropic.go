package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/orchestra-run/orchestra/internal/models"
)

// AnthropicConfig configures an Anthropic-backed Client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicClient implements Client using the Anthropic Messages API. Tool
// invocation in this runtime is carried entirely as <tool_call> text
// embedded in the assistant's reply (spec.md §6), so no native tool-use
// blocks are requested here — the model just streams text.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicClient builds an AnthropicClient from config, applying
// defaults for anything unset.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, model string, history []models.Message) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		system, messages := splitSystemMessage(history)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(c.resolveModel(model)),
			MaxTokens: int64(c.maxTokens),
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		for attempt := 0; ; attempt++ {
			stream := c.client.Messages.NewStreaming(ctx, params)
			done, retry := c.processStream(ctx, stream, out)
			if done {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if !retry || attempt >= c.maxRetries {
				if retry {
					out <- Chunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", stream.Err()), Done: true}
				}
				return
			}
			backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()

	return out, nil
}

// processStream relays text deltas to out until the stream ends. It
// returns done=true once a terminal Chunk (success or non-retryable
// error) has been sent, and retry=true if the caller should reconnect
// and try again from scratch.
func (c *AnthropicClient) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- Chunk) (done bool, retry bool) {
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				select {
				case <-ctx.Done():
					return true, false
				case out <- Chunk{Text: delta.Text}:
				}
			}
		case "message_stop":
			out <- Chunk{Done: true}
			return true, false
		case "error":
			out <- Chunk{Error: errors.New("anthropic: stream error"), Done: true}
			return true, false
		}
	}
	if err := stream.Err(); err != nil {
		if isRetryable(err) {
			return false, true
		}
		out <- Chunk{Error: fmt.Errorf("anthropic: %w", err), Done: true}
		return true, false
	}
	out <- Chunk{Done: true}
	return true, false
}

func (c *AnthropicClient) resolveModel(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"429", "rate_limit", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// splitSystemMessage extracts the (single, leading) system message from
// history and converts the rest into Anthropic message params.
func splitSystemMessage(history []models.Message) (string, []anthropic.MessageParam) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}
