// Package engine wraps the reasoning model behind a narrow contract:
// messages in, one assistant message out, with any tool requests
// resolved through the session's tool result cache.
package engine

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/deepvalue-ai/deepvalue/internal/config"
)

// Engine is the reasoning-engine handle for one session.
type Engine struct {
	cm model.ToolCallingChatModel
}

// New constructs the configured chat model backend.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	switch cfg.LLMProvider {
	case "deepseek":
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekKey,
			Model:     cfg.Model,
			BaseURL:   "https://api.deepseek.com/v1",
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create deepseek chat model: %w", err)
		}
		return &Engine{cm: cm}, nil
	case "openai", "":
		maxTokens := cfg.MaxTokens
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.BackendURL,
			APIKey:    cfg.OpenAIKey,
			Model:     cfg.Model,
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai chat model: %w", err)
		}
		return &Engine{cm: cm}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

// NewFromModel wraps an existing chat model; tests use this with a
// scripted fake.
func NewFromModel(cm model.ToolCallingChatModel) *Engine {
	return &Engine{cm: cm}
}

// Generate runs one model invocation, binding the given tool schemas
// when present.
func (e *Engine) Generate(ctx context.Context, msgs []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.Message, error) {
	cm := e.cm
	if len(toolInfos) > 0 {
		bound, err := e.cm.WithTools(toolInfos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		cm = bound
	}
	out, err := cm.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("reasoning engine: %w", err)
	}
	return out, nil
}

// Summarize asks the model for a bounded-length summary of text. The
// model reads the full document; only the returned artifact is small.
func (e *Engine) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the following document in at most %d tokens, preserving every reported financial figure exactly as written.\n\n%s",
		maxTokens, text)
	out, err := e.Generate(ctx, []*schema.Message{
		schema.SystemMessage("You are a precise financial document summarizer."),
		schema.UserMessage(prompt),
	}, nil)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}
