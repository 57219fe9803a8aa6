package utils

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ResolvePath resolves path against baseDir. Empty and absolute paths are
// returned unchanged, as is everything when baseDir is empty.
func ResolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResolvePaths applies ResolvePath to each entry.
func ResolvePaths(paths []string, baseDir string) []string {
	if len(paths) == 0 {
		return nil
	}

	resolved := make([]string, 0, len(paths))
	for _, path := range paths {
		resolved = append(resolved, ResolvePath(path, baseDir))
	}
	return resolved
}

// IsFileWithExt reports whether path names an existing regular file whose
// extension, compared case-insensitively, is one of exts.
func IsFileWithExt(path string, exts []string) bool {
	if !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FileStem returns the base name of path without its extension.
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
