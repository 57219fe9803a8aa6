// Package store persists versioned prompt templates.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/projectconfig"
)

var (
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrVersionConflict = errors.New("version already exists")
)

// TemplateStore is the lookup and lifecycle surface for templates.
type TemplateStore interface {
	// Get returns name@version. An empty version means the active one.
	Get(ctx context.Context, name, version string) (*models.Template, error)
	GetActive(ctx context.Context, name string) (*models.Template, error)
	// List returns every version of name, newest first.
	List(ctx context.Context, name string) ([]*models.Template, error)
	// Create stores a new version. The template's ID and CreatedAt are filled in when empty.
	Create(ctx context.Context, tmpl *models.Template) error
	// Activate makes name@version active and archives every other version of name, atomically.
	Activate(ctx context.Context, name, version string) (*models.Template, error)
	Close() error
}

// Open returns the store selected by the project config.
func Open(ctx context.Context, cfg *projectconfig.ProjectConfig) (TemplateStore, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		s := NewMemoryStore()
		if cfg.Store.TemplatesDir == "" {
			return s, nil
		}
		if err := s.LoadDir(cfg.Path(cfg.Store.TemplatesDir)); err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		return OpenPostgres(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// prepareNew fills server-side fields for a template about to be created. New versions never
// start out active; promotion goes through Activate.
func prepareNew(tmpl *models.Template, now time.Time) error {
	if tmpl.Name == "" || tmpl.Version == "" {
		return fmt.Errorf("template name and version are required")
	}
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	if tmpl.Status == "" || tmpl.Status == models.TemplateActive {
		tmpl.Status = models.TemplateDraft
	}
	tmpl.ActivatedAt = nil
	return nil
}

func notFound(name, version string) error {
	if version == "" {
		return fmt.Errorf("no active version of %s: %w", name, ErrPromptNotFound)
	}
	return fmt.Errorf("%s@%s: %w", name, version, ErrPromptNotFound)
}

func conflict(name, version string) error {
	return fmt.Errorf("%s@%s: %w", name, version, ErrVersionConflict)
}
