package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeLLM struct {
	opts   llms.CallOptions
	prompt string
	reply  string
	err    error
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, o := range options {
		o(&f.opts)
	}
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompt += tc.Text
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangchainBackend_Generate(t *testing.T) {
	llm := &fakeLLM{reply: "bonjour"}
	b := NewLangchainBackend("ollama", llm)

	out, err := b.Generate(context.Background(), Request{Prompt: "translate hello", Model: "llama3.2", Temperature: 0})
	require.NoError(t, err)
	require.Equal(t, "bonjour", out)
	require.Equal(t, "translate hello", llm.prompt)
	require.Equal(t, "llama3.2", llm.opts.Model)
	require.Zero(t, llm.opts.Temperature)
}

func TestLangchainBackend_Error(t *testing.T) {
	b := NewLangchainBackend("anthropic", &fakeLLM{err: errors.New("overloaded")})

	_, err := b.Generate(context.Background(), Request{Prompt: "x"})
	require.ErrorContains(t, err, "anthropic generation failed: overloaded")
}
