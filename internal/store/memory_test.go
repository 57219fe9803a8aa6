package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTemplate(name, version string) *models.Template {
	return &models.Template{Name: name, Version: version, Body: "Summarize: {text}"}
}

func seeded(t *testing.T, versions ...string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	for _, v := range versions {
		require.NoError(t, s.Create(context.Background(), newTemplate("summary", v)))
	}
	return s
}

func TestMemoryStore_CreateFillsServerFields(t *testing.T) {
	s := seeded(t)
	tmpl := newTemplate("summary", "1.0.0")
	tmpl.Status = models.TemplateActive

	require.NoError(t, s.Create(context.Background(), tmpl))
	assert.NotEmpty(t, tmpl.ID)
	assert.False(t, tmpl.CreatedAt.IsZero())
	assert.Equal(t, models.TemplateDraft, tmpl.Status, "new versions start as drafts")

	_, err := s.GetActive(context.Background(), "summary")
	require.ErrorIs(t, err, ErrPromptNotFound)
}

func TestMemoryStore_DuplicateVersionConflicts(t *testing.T) {
	s := seeded(t, "1.0.0")
	err := s.Create(context.Background(), newTemplate("summary", "1.0.0"))
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStore_GetAndList(t *testing.T) {
	s := seeded(t, "1.0.0", "1.1.0", "2.0.0")
	ctx := context.Background()

	got, err := s.Get(ctx, "summary", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Version)

	_, err = s.Get(ctx, "summary", "9.9.9")
	require.ErrorIs(t, err, ErrPromptNotFound)

	list, err := s.List(ctx, "summary")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2.0.0", list[0].Version)
	assert.Equal(t, "1.0.0", list[2].Version)

	_, err = s.List(ctx, "missing")
	require.ErrorIs(t, err, ErrPromptNotFound)
}

func TestMemoryStore_ActivateArchivesSiblings(t *testing.T) {
	s := seeded(t, "1.0.0", "1.1.0", "1.2.0")
	ctx := context.Background()

	_, err := s.Activate(ctx, "summary", "1.0.0")
	require.NoError(t, err)
	active, err := s.Activate(ctx, "summary", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, models.TemplateActive, active.Status)
	require.NotNil(t, active.ActivatedAt)

	got, err := s.Get(ctx, "summary", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Version)

	list, err := s.List(ctx, "summary")
	require.NoError(t, err)
	activeCount := 0
	for _, tmpl := range list {
		if tmpl.Status == models.TemplateActive {
			activeCount++
			continue
		}
		assert.Equal(t, models.TemplateArchived, tmpl.Status, tmpl.Version)
	}
	assert.Equal(t, 1, activeCount)

	_, err = s.Activate(ctx, "summary", "3.0.0")
	require.ErrorIs(t, err, ErrPromptNotFound)
}

func TestMemoryStore_ConcurrentActivationsLeaveOneActive(t *testing.T) {
	versions := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	s := seeded(t, versions...)

	var wg sync.WaitGroup
	for _, v := range versions {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := s.Activate(context.Background(), "summary", v)
			assert.NoError(t, err)
		}(v)
	}
	wg.Wait()

	list, err := s.List(context.Background(), "summary")
	require.NoError(t, err)
	active := 0
	for _, tmpl := range list {
		if tmpl.Status == models.TemplateActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := seeded(t, "1.0.0")
	ctx := context.Background()

	got, err := s.Get(ctx, "summary", "1.0.0")
	require.NoError(t, err)
	got.Body = "changed"
	got.Metadata["owner"] = "someone"

	again, err := s.Get(ctx, "summary", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Summarize: {text}", again.Body)
	assert.NotContains(t, again.Metadata, "owner")
}

func TestMemoryStore_LoadDirAndPersist(t *testing.T) {
	dir := t.TempDir()
	seed := `name: sentiment
version: 1.0.0
status: active
template_text: "Classify the sentiment of: {text}"
output_schema:
  type: object
  required: [label]
metadata:
  model: gpt-4
  temperature: 0.2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentiment.yaml"), []byte(seed), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	s := NewMemoryStore()
	require.NoError(t, s.LoadDir(dir))
	ctx := context.Background()

	active, err := s.GetActive(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", active.Version)
	assert.True(t, active.HasOutputContract())
	assert.Equal(t, "gpt-4", active.Settings().Model)
	require.NotNil(t, active.Settings().Temperature)
	assert.Equal(t, 0.2, *active.Settings().Temperature)

	parent := active.ID
	next := newTemplate("sentiment", "1.1.0")
	next.ParentID = &parent
	require.NoError(t, s.Create(ctx, next))
	_, err = s.Activate(ctx, "sentiment", "1.1.0")
	require.NoError(t, err)

	reloaded := NewMemoryStore()
	require.NoError(t, reloaded.LoadDir(dir))

	got, err := reloaded.GetActive(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Version)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, parent, *got.ParentID)

	old, err := reloaded.Get(ctx, "sentiment", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.TemplateArchived, old.Status)
	assert.Equal(t, parent, old.ID, "IDs are stable across reloads")
}

func TestMemoryStore_FailedActivationRestoresFiles(t *testing.T) {
	dir := t.TempDir()
	seed := "name: sentiment\nversion: 1.0.0\nstatus: active\ntemplate_text: \"Classify: {text}\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentiment.yaml"), []byte(seed), 0644))

	s := NewMemoryStore()
	require.NoError(t, s.LoadDir(dir))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTemplate("sentiment", "1.1.0")))

	// a non-empty directory in place of the target's file makes its write fail after the
	// sibling has already been archived on disk
	target := filepath.Join(dir, "sentiment@1.1.0.yaml")
	require.NoError(t, os.Remove(target))
	require.NoError(t, os.MkdirAll(filepath.Join(target, "blocker"), 0755))

	_, err := s.Activate(ctx, "sentiment", "1.1.0")
	require.Error(t, err)

	active, err := s.GetActive(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", active.Version)

	reloaded := NewMemoryStore()
	require.NoError(t, reloaded.LoadDir(dir))
	onDisk, err := reloaded.GetActive(ctx, "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", onDisk.Version)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp files are cleaned up")
	}
}

func TestMemoryStore_LoadDirRejectsTwoActive(t *testing.T) {
	dir := t.TempDir()
	for _, v := range []string{"1", "2"} {
		doc := "name: x\nversion: \"" + v + "\"\nstatus: active\ntemplate_text: hi\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, v+".yaml"), []byte(doc), 0644))
	}

	err := NewMemoryStore().LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
}

func TestParseTemplate_RequiresNameAndVersion(t *testing.T) {
	_, err := ParseTemplate([]byte("template_text: hi\n"))
	require.Error(t, err)
}
