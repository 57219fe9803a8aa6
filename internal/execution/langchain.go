package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangchainBackend calls any langchaingo model with a single prompt.
type LangchainBackend struct {
	llm  llms.Model
	name string
}

// NewLangchainBackend wraps an existing langchaingo model.
func NewLangchainBackend(name string, llm llms.Model) *LangchainBackend {
	return &LangchainBackend{llm: llm, name: name}
}

// NewOllamaBackend connects to an Ollama server.
func NewOllamaBackend(serverURL, model string) (*LangchainBackend, error) {
	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return NewLangchainBackend("ollama", llm), nil
}

// NewAnthropicBackend creates an Anthropic messages backend.
func NewAnthropicBackend(apiKey, model string) (*LangchainBackend, error) {
	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return NewLangchainBackend("anthropic", llm), nil
}

// NewHuggingFaceBackend creates a Hugging Face inference backend.
func NewHuggingFaceBackend(apiKey, model string) (*LangchainBackend, error) {
	llm, err := huggingface.New(huggingface.WithToken(apiKey), huggingface.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("creating huggingface client: %w", err)
	}
	return NewLangchainBackend("huggingface", llm), nil
}

func (b *LangchainBackend) Generate(ctx context.Context, req Request) (string, error) {
	slog.Debug("Generating text via langchaingo", "provider", b.name, "model", req.Model)

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, b.llm, req.Prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", b.name, err)
	}
	return out, nil
}
