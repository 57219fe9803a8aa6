package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spboyer/promptloop/internal/models"
	"gopkg.in/yaml.v3"
)

// MemoryStore keeps templates in memory. When loaded from a directory, creates and activations
// are written back to it as YAML so the next process sees them.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string][]*models.Template // by name, in creation order
	dir       string
	files     map[string]string // template ID -> file
	now       func() time.Time
}

var _ TemplateStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: map[string][]*models.Template{},
		files:     map[string]string{},
		now:       time.Now,
	}
}

// LoadDir seeds the store from every .yaml/.yml file under dir, each holding one template, and
// persists later changes there. A missing dir is created.
func (s *MemoryStore) LoadDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating templates directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir

	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}

		tmpl, err := readTemplateFile(path)
		if err != nil {
			return err
		}
		if _, ok := s.find(tmpl.Name, tmpl.Version); ok {
			return fmt.Errorf("%s: %w", path, conflict(tmpl.Name, tmpl.Version))
		}
		if tmpl.Status == models.TemplateActive {
			if active, ok := s.findActive(tmpl.Name); ok {
				return fmt.Errorf("%s: %s@%s is already active", path, active.Name, active.Version)
			}
		}
		s.templates[tmpl.Name] = append(s.templates[tmpl.Name], tmpl)
		s.files[tmpl.ID] = path
		return nil
	})
}

func (s *MemoryStore) Get(ctx context.Context, name, version string) (*models.Template, error) {
	if version == "" {
		return s.GetActive(ctx, name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.find(name, version)
	if !ok {
		return nil, notFound(name, version)
	}
	return cloneTemplate(t), nil
}

func (s *MemoryStore) GetActive(_ context.Context, name string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.findActive(name)
	if !ok {
		return nil, notFound(name, "")
	}
	return cloneTemplate(t), nil
}

func (s *MemoryStore) List(_ context.Context, name string) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.templates[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrPromptNotFound)
	}
	out := make([]*models.Template, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, cloneTemplate(versions[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, tmpl *models.Template) error {
	if err := prepareNew(tmpl, s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.find(tmpl.Name, tmpl.Version); ok {
		return conflict(tmpl.Name, tmpl.Version)
	}
	stored := cloneTemplate(tmpl)
	if err := s.persist(stored); err != nil {
		return err
	}
	s.templates[tmpl.Name] = append(s.templates[tmpl.Name], stored)
	return nil
}

func (s *MemoryStore) Activate(_ context.Context, name, version string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.find(name, version)
	if !ok {
		return nil, notFound(name, version)
	}

	// write the new states first so a failed write leaves memory untouched; files already
	// rewritten are restored from their previous state
	now := s.now()
	var updated, previous []*models.Template
	for _, t := range s.templates[name] {
		next := cloneTemplate(t)
		switch {
		case t == target:
			if t.Status == models.TemplateActive {
				continue
			}
			next.Status = models.TemplateActive
			next.ActivatedAt = &now
		case t.Status != models.TemplateArchived:
			next.Status = models.TemplateArchived
		default:
			continue
		}
		if err := s.persist(next); err != nil {
			return nil, errors.Join(err, s.restore(previous))
		}
		updated = append(updated, next)
		previous = append(previous, t)
	}

	versions := s.templates[name]
	for _, next := range updated {
		for i, t := range versions {
			if t.ID == next.ID {
				versions[i] = next
			}
		}
	}

	active, _ := s.find(name, version)
	return cloneTemplate(active), nil
}

// restore rewrites the given templates to disk, reporting every failure.
func (s *MemoryStore) restore(templates []*models.Template) error {
	var errs []error
	for _, t := range templates {
		if err := s.persist(t); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", t.Ref(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) find(name, version string) (*models.Template, bool) {
	for _, t := range s.templates[name] {
		if t.Version == version {
			return t, true
		}
	}
	return nil, false
}

func (s *MemoryStore) findActive(name string) (*models.Template, bool) {
	for _, t := range s.templates[name] {
		if t.Status == models.TemplateActive {
			return t, true
		}
	}
	return nil, false
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// persist writes t to its file when the store is directory-backed. New templates get
// <name>@<version>.yaml.
func (s *MemoryStore) persist(t *models.Template) error {
	if s.dir == "" {
		return nil
	}
	path, ok := s.files[t.ID]
	if !ok {
		file := unsafeFileChars.ReplaceAllString(t.Name+"@"+t.Version, "_") + ".yaml"
		path = filepath.Join(s.dir, file)
		s.files[t.ID] = path
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding template %s: %w", t.Ref(), err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing template %s: %w", t.Ref(), err)
	}
	return nil
}

// writeFileAtomic replaces path with data via a temp file in the same directory, so readers
// never see a partial template.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readTemplateFile(path string) (*models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}
	tmpl, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tmpl, nil
}

// ParseTemplate decodes a YAML template document and fills the fields a file may omit.
func ParseTemplate(data []byte) (*models.Template, error) {
	var tmpl models.Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	if tmpl.Name == "" || tmpl.Version == "" {
		return nil, fmt.Errorf("template name and version are required")
	}
	if tmpl.Status == "" {
		tmpl.Status = models.TemplateDraft
	}
	if tmpl.ID == "" {
		// stable across reloads so parent references keep resolving
		tmpl.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("promptloop:"+tmpl.Name+"@"+tmpl.Version)).String()
	}
	return &tmpl, nil
}

// cloneTemplate copies the template and its top-level maps so callers cannot alter stored state.
func cloneTemplate(t *models.Template) *models.Template {
	c := *t
	c.Metadata = t.CloneMetadata()
	c.InputSchema = cloneMap(t.InputSchema)
	c.OutputSchema = cloneMap(t.OutputSchema)
	if t.ParentID != nil {
		p := *t.ParentID
		c.ParentID = &p
	}
	if t.ActivatedAt != nil {
		a := *t.ActivatedAt
		c.ActivatedAt = &a
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
