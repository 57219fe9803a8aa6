package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/sashabaranov/go-openai"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// chatCompleter is the slice of *openai.Client the backend uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIBackend calls an OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client chatCompleter
	name   string
}

// NewOpenAIBackend creates a backend for api.openai.com, or for an OpenAI-compatible server when
// baseURL is set.
func NewOpenAIBackend(name, apiKey, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), name: name}
}

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	slog.Debug("Generating text via chat completions", "provider", b.name, "model", req.Model)

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: chatTemperature(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion failed: %w", b.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", b.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// chatTemperature maps a temperature to the request field. The client drops a zero value, so
// zero is sent as the smallest positive float32.
func chatTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
