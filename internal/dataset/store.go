// Package dataset loads evaluation entries from files or inline values.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spboyer/promptloop/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrDatasetNotFound is returned when no file matches a dataset ID.
var ErrDatasetNotFound = errors.New("dataset not found")

// Extensions are tried in this order when resolving a dataset ID.
var Extensions = []string{".yaml", ".yml", ".json", ".jsonl", ".csv"}

// Store resolves dataset IDs to entries.
type Store interface {
	Entries(ctx context.Context, id string) ([]models.DatasetEntry, error)
}

// FileStore reads <dir>/<id>.<ext> for each supported extension.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Entries loads the dataset with the given ID. Entries without an ID are numbered
// "<id>-<n>" in file order.
func (s *FileStore) Entries(_ context.Context, id string) ([]models.DatasetEntry, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid dataset id %q", id)
	}
	for _, ext := range Extensions {
		path := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		entries, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return numbered(id, entries), nil
	}
	return nil, fmt.Errorf("%s in %s: %w", id, s.dir, ErrDatasetNotFound)
}

// LoadFile reads entries from a YAML, JSON, JSONL or CSV file, chosen by extension. YAML and
// JSON files hold either a list of entries or a dataset object with an entries list.
func LoadFile(path string) ([]models.DatasetEntry, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".csv" {
		return LoadCSVEntries(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	switch ext {
	case ".yaml", ".yml":
		return decodeDocument(path, data, yaml.Unmarshal)
	case ".json":
		return decodeDocument(path, data, json.Unmarshal)
	case ".jsonl":
		return decodeLines(path, data)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
}

// Inline copies ad hoc entries and numbers them like a dataset named "inline".
func Inline(entries []models.DatasetEntry) []models.DatasetEntry {
	return numbered("inline", slices.Clone(entries))
}

func decodeDocument(path string, data []byte, unmarshal func([]byte, any) error) ([]models.DatasetEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var list []models.DatasetEntry
	if err := unmarshal(trimmed, &list); err == nil {
		return list, nil
	}
	var ds models.Dataset
	if err := unmarshal(trimmed, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return ds.Entries, nil
}

func decodeLines(path string, data []byte) ([]models.DatasetEntry, error) {
	var entries []models.DatasetEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var e models.DatasetEntry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("parsing dataset %s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	return entries, nil
}

// numbered fills missing IDs with "<prefix>-<n>" and gives input-less entries an empty input.
func numbered(prefix string, entries []models.DatasetEntry) []models.DatasetEntry {
	for i := range entries {
		if entries[i].Input == nil {
			entries[i].Input = map[string]any{}
		}
		if entries[i].ID == "" {
			entries[i].ID = fmt.Sprintf("%s-%d", prefix, i+1)
		}
	}
	return entries
}
