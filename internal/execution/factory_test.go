package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spboyer/promptloop/internal/projectconfig"
	"github.com/stretchr/testify/require"
)

func TestNewBackend_MissingAPIKey(t *testing.T) {
	tests := []struct {
		provider string
		envVar   string
	}{
		{"openai", "OPENAI_API_KEY"},
		{"groq", "GROQ_API_KEY"},
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"huggingface", "HUGGINGFACE_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Setenv(tt.envVar, "")

			cfg := projectconfig.New()
			cfg.Provider.Name = tt.provider

			_, err := NewBackend(cfg, RoleExecutor)
			require.ErrorContains(t, err, tt.envVar)
		})
	}
}

func TestNewBackend_OpenAIWithKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := projectconfig.New()
	g, err := NewBackend(cfg, RoleJudge)
	require.NoError(t, err)
	require.IsType(t, &OpenAIBackend{}, g.inner)
	require.Equal(t, cfg.CallTimeout(), g.timeout)
	require.Equal(t, "judge", g.role)
}

func TestNewBackend_MockRoles(t *testing.T) {
	cfg := projectconfig.New()
	cfg.Provider.Name = "mock"

	judge, err := NewBackend(cfg, RoleJudge)
	require.NoError(t, err)
	out, err := judge.Generate(context.Background(), Request{Prompt: "score this"})
	require.NoError(t, err)
	require.Equal(t, MockJudgeReply, out)

	gen, err := NewBackend(cfg, RoleGenerator)
	require.NoError(t, err)
	out, err = gen.Generate(context.Background(), Request{Prompt: "improve"})
	require.NoError(t, err)
	require.Equal(t, "[]", out)

	exec, err := NewBackend(cfg, RoleExecutor)
	require.NoError(t, err)
	out, err = exec.Generate(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	require.Equal(t, "Mock response for: hello", out)
}

func TestNewBackend_UnknownProvider(t *testing.T) {
	cfg := projectconfig.New()
	cfg.Provider.Name = "bedrock"

	_, err := NewBackend(cfg, RoleExecutor)
	require.ErrorContains(t, err, `unknown provider "bedrock"`)
}

func TestModel(t *testing.T) {
	cfg := projectconfig.New()
	require.Equal(t, cfg.Provider.JudgeModel, Model(cfg, RoleJudge))
	require.Equal(t, cfg.Provider.GenerationModel, Model(cfg, RoleExecutor))
	require.Equal(t, cfg.Provider.GenerationModel, Model(cfg, RoleGenerator))
}

func TestLoadDotEnv(t *testing.T) {
	const name = "PROMPTLOOP_TEST_DOTENV_KEY"
	t.Cleanup(func() { _ = os.Unsetenv(name) })

	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(dir), "missing .env is not an error")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(name+"=from-file\n"), 0o600))
	require.NoError(t, LoadDotEnv(dir))
	require.Equal(t, "from-file", os.Getenv(name))
}
