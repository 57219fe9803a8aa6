package execution

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spboyer/promptloop/internal/projectconfig"
)

// Role says what a backend is used for. It labels metrics and picks the model.
type Role string

const (
	RoleExecutor  Role = "executor"
	RoleJudge     Role = "judge"
	RoleGenerator Role = "generator"
)

// API key environment variables per provider.
var apiKeyEnv = map[string]string{
	"openai":      "OPENAI_API_KEY",
	"groq":        "GROQ_API_KEY",
	"anthropic":   "ANTHROPIC_API_KEY",
	"huggingface": "HUGGINGFACE_API_KEY",
}

// LoadDotEnv loads a .env file from dir into the process environment. Variables already set
// win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	slog.Debug("Loaded environment file", "path", path)
	return nil
}

// Model returns the model cfg assigns to role.
func Model(cfg *projectconfig.ProjectConfig, role Role) string {
	if role == RoleJudge {
		return cfg.Provider.JudgeModel
	}
	return cfg.Provider.GenerationModel
}

// NewBackend resolves the configured provider once and wraps it in a Guard with the configured
// timeout, rate limit and concurrency cap. opts are applied last.
func NewBackend(cfg *projectconfig.ProjectConfig, role Role, opts ...GuardOption) (*Guard, error) {
	inner, err := newProvider(cfg, role)
	if err != nil {
		return nil, err
	}
	return NewGuard(inner, cfg.Provider.Name, string(role), append([]GuardOption{
		WithTimeout(cfg.CallTimeout()),
		WithRateLimit(cfg.Provider.RequestsPerSecond, cfg.Provider.Burst),
		WithMaxConcurrent(cfg.MaxConcurrentCalls(cfg.Defaults.Workers)),
	}, opts...)...), nil
}

func newProvider(cfg *projectconfig.ProjectConfig, role Role) (GenerationBackend, error) {
	name := strings.ToLower(cfg.Provider.Name)
	model := Model(cfg, role)

	key := ""
	if envName, ok := apiKeyEnv[name]; ok {
		key = os.Getenv(envName)
		if key == "" {
			return nil, fmt.Errorf("provider %q requires %s to be set", name, envName)
		}
	}

	switch name {
	case "openai":
		return NewOpenAIBackend(name, key, ""), nil
	case "groq":
		return NewOpenAIBackend(name, key, GroqBaseURL), nil
	case "ollama":
		return NewOllamaBackend(cfg.Provider.OllamaURL, model)
	case "anthropic":
		return NewAnthropicBackend(key, model)
	case "huggingface":
		return NewHuggingFaceBackend(key, model)
	case "copilot":
		return NewCopilotBackend(model, string(role), nil), nil
	case "mock":
		return newRoleMock(role), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// newRoleMock gives dry runs plausible replies: the judge scores everything, the generator
// proposes nothing so the deterministic fallbacks are used.
func newRoleMock(role Role) *MockBackend {
	switch role {
	case RoleJudge:
		return NewStaticMockBackend(MockJudgeReply)
	case RoleGenerator:
		return NewStaticMockBackend("[]")
	default:
		return NewEchoMockBackend()
	}
}

// Close releases provider resources when the wrapped backend holds any.
func (g *Guard) Close() error {
	if c, ok := g.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
