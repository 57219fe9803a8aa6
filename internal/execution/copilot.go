package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	copilot "github.com/github/copilot-sdk/go"
	"github.com/spboyer/promptloop/internal/utils"
)

// CopilotBackend generates text through GitHub Copilot. Each call runs in its own session with
// an empty scratch directory as its working directory.
type CopilotBackend struct {
	defaultModelID string
	role           string

	client copilotClient

	startOnce sync.Once
	startErr  error

	scratchMu   sync.Mutex
	scratchDirs []string // removed at Close
}

// CopilotBackendOptions lets tests substitute the SDK client.
type CopilotBackendOptions struct {
	NewCopilotClient func(clientOptions *copilot.ClientOptions) copilotClient
}

// NewCopilotBackend creates a Copilot backend.
//   - defaultModelID - used when a request names no model. Can be blank, which lets the copilot
//     CLI choose its own fallback model.
//   - role - label used when forwarding session events to the log.
func NewCopilotBackend(defaultModelID, role string, options *CopilotBackendOptions) *CopilotBackend {
	copilotOptions := &copilot.ClientOptions{
		LogLevel:  "error",
		AutoStart: copilot.Bool(false),
	}

	var client copilotClient
	if options == nil || options.NewCopilotClient == nil {
		client = newCopilotClient(copilotOptions)
	} else {
		client = options.NewCopilotClient(copilotOptions)
	}

	return &CopilotBackend{
		defaultModelID: defaultModelID,
		role:           role,
		client:         client,
	}
}

func (b *CopilotBackend) Generate(ctx context.Context, req Request) (string, error) {
	b.startOnce.Do(func() {
		// the client's autostart misbehaves when triggered from several goroutines at once.
		b.startErr = b.client.Start(ctx)
	})
	if b.startErr != nil {
		return "", fmt.Errorf("copilot failed to start: %w", b.startErr)
	}

	modelID := b.defaultModelID
	if req.Model != "" {
		modelID = req.Model
	}
	slog.Debug("Copilot sessions do not take a temperature; ignoring it", "temperature", req.Temperature)

	scratchDir, err := b.newScratchDir()
	if err != nil {
		return "", err
	}

	session, err := b.client.CreateSession(ctx, &copilot.SessionConfig{
		Model:               modelID,
		OnPermissionRequest: approveAll,
		WorkingDirectory:    scratchDir,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	collector := newReplyCollector()

	unsubscribe := session.On(collector.On)
	defer unsubscribe()

	unsubscribe = session.On(utils.SessionEventLogger(b.role))
	defer unsubscribe()

	final, err := session.SendAndWait(ctx, copilot.MessageOptions{Prompt: req.Prompt})
	if err != nil {
		return "", fmt.Errorf("copilot session %s failed: %w", session.SessionID(), err)
	}
	if msg := collector.ErrorMessage(); msg != "" {
		return "", fmt.Errorf("copilot session %s failed: %s", session.SessionID(), msg)
	}

	if final != nil && final.Data.Content != nil && *final.Data.Content != "" {
		return *final.Data.Content, nil
	}
	return collector.Reply(), nil
}

// Close stops the client and removes scratch directories.
func (b *CopilotBackend) Close() error {
	var errs []error
	if err := b.client.Stop(); err != nil {
		slog.Info("failed to stop client", "error", err)
	}

	b.scratchMu.Lock()
	dirs := b.scratchDirs
	b.scratchDirs = nil
	b.scratchMu.Unlock()

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to clean up scratch directory", "path", dir, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *CopilotBackend) newScratchDir() (string, error) {
	dir, err := os.MkdirTemp("", "promptloop-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	b.scratchMu.Lock()
	b.scratchDirs = append(b.scratchDirs, dir)
	b.scratchMu.Unlock()
	return dir, nil
}

func approveAll(request copilot.PermissionRequest, invocation copilot.PermissionInvocation) (copilot.PermissionRequestResult, error) {
	return copilot.PermissionRequestResult{Kind: "approved"}, nil
}
