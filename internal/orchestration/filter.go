package orchestration

import (
	"fmt"
	"path/filepath"

	"github.com/spboyer/promptloop/internal/models"
)

// FilterEntries returns the subset of entries whose ID or any tag matches at least one of the
// given glob patterns. An empty patterns slice returns all entries unchanged.
func FilterEntries(entries []models.DatasetEntry, patterns []string) ([]models.DatasetEntry, error) {
	if len(patterns) == 0 {
		return entries, nil
	}

	var matched []models.DatasetEntry
	for _, entry := range entries {
		ok, err := matchesAny(entry, patterns)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// matchesAny reports whether an entry's ID or one of its tags matches any pattern.
func matchesAny(entry models.DatasetEntry, patterns []string) (bool, error) {
	candidates := append([]string{entry.ID}, entry.Tags...)
	for _, p := range patterns {
		for _, c := range candidates {
			if c == "" {
				continue
			}
			ok, err := filepath.Match(p, c)
			if err != nil {
				return false, fmt.Errorf("invalid entry filter pattern %q: %w", p, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
