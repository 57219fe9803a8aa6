package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spboyer/promptloop/internal/judge"
	"github.com/spboyer/promptloop/internal/models"
)

// Fingerprint derives the cache key for a judge request. The key covers the input, actual
// output, expected output (null when absent), rubric and the dimension set. Map key order and
// dimension order do not affect it.
func Fingerprint(req judge.Request) (string, error) {
	h := sha256.New()

	for _, part := range []struct {
		name  string
		value map[string]any
	}{
		{"input", req.Input},
		{"actual", req.Actual},
		{"expected", req.Expected},
	} {
		if err := writeJSON(h, part.value); err != nil {
			return "", fmt.Errorf("fingerprinting %s: %w", part.name, err)
		}
	}

	if err := writeString(h, req.Rubric); err != nil {
		return "", err
	}

	dims := models.SortedDimensions(req.Dimensions)
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	if err := writeString(h, strings.Join(names, ",")); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeJSON writes canonical JSON. encoding/json sorts map keys; an empty map is treated like a
// missing one.
func writeJSON(w io.Writer, v map[string]any) error {
	if len(v) == 0 {
		return writeString(w, "null")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return writeString(w, strings.TrimSuffix(buf.String(), "\n"))
}

func writeString(w io.Writer, s string) error {
	// null byte delimiter prevents collisions between adjacent fields
	_, err := w.Write([]byte(s + "\x00"))
	return err
}
