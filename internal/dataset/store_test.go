package dataset

import (
	"context"
	"testing"

	"github.com/spboyer/promptloop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Formats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "yaml list",
			file: "reviews.yaml",
			body: "- id: a\n  input_data: {text: good}\n  expected_output: {label: positive}\n- input_data: {text: bad}\n  rubric: be strict\n",
		},
		{
			name: "yaml dataset object",
			file: "reviews.yml",
			body: "id: reviews\nentries:\n  - id: a\n    input_data: {text: good}\n    expected_output: {label: positive}\n  - input_data: {text: bad}\n    rubric: be strict\n",
		},
		{
			name: "json list",
			file: "reviews.json",
			body: `[{"id":"a","input_data":{"text":"good"},"expected_output":{"label":"positive"}},{"input_data":{"text":"bad"},"rubric":"be strict"}]`,
		},
		{
			name: "json dataset object",
			file: "reviews.json",
			body: `{"id":"reviews","entries":[{"id":"a","input_data":{"text":"good"},"expected_output":{"label":"positive"}},{"input_data":{"text":"bad"},"rubric":"be strict"}]}`,
		},
		{
			name: "jsonl",
			file: "reviews.jsonl",
			body: "{\"id\":\"a\",\"input_data\":{\"text\":\"good\"},\"expected_output\":{\"label\":\"positive\"}}\n\n{\"input_data\":{\"text\":\"bad\"},\"rubric\":\"be strict\"}\n",
		},
		{
			name: "csv",
			file: "reviews.csv",
			body: "id,text,expected_output,rubric\na,good,\"{\"\"label\"\":\"\"positive\"\"}\",\n,bad,,be strict\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.body)

			entries, err := NewFileStore(dir).Entries(context.Background(), "reviews")
			require.NoError(t, err)
			require.Len(t, entries, 2)

			assert.Equal(t, "a", entries[0].ID)
			assert.Equal(t, "good", entries[0].Input["text"])
			assert.Equal(t, map[string]any{"label": "positive"}, entries[0].ExpectedOutput)

			assert.Equal(t, "reviews-2", entries[1].ID)
			assert.Equal(t, "bad", entries[1].Input["text"])
			assert.Equal(t, "be strict", entries[1].Rubric)
			assert.Nil(t, entries[1].ExpectedOutput)
		})
	}
}

func TestFileStore_NotFound(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).Entries(context.Background(), "missing")
	require.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).Entries(context.Background(), "../secrets")
	require.Error(t, err)
}

func TestFileStore_MalformedJSONL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.jsonl", "{\"input_data\":{}}\nnot json\n")

	_, err := NewFileStore(dir).Entries(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestInline(t *testing.T) {
	input := []models.DatasetEntry{
		{Input: map[string]any{"text": "a"}},
		{Rubric: "no input needed"},
		{ID: "keep", Input: map[string]any{"text": "b"}},
	}
	entries := Inline(input)
	require.Len(t, entries, 3)
	assert.Equal(t, "inline-1", entries[0].ID)
	assert.Equal(t, "inline-2", entries[1].ID)
	assert.Equal(t, map[string]any{}, entries[1].Input)
	assert.Equal(t, "keep", entries[2].ID)
	assert.Empty(t, input[0].ID, "caller's slice is not modified")
}

func TestInputlessEntriesKeptByIDAndByPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "people.yaml", "- rubric: greet politely\n- input_data: {name: bob}\n")

	byID, err := NewFileStore(dir).Entries(context.Background(), "people")
	require.NoError(t, err)
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	byPath := Inline(loaded)

	require.Len(t, byID, 2)
	require.Len(t, byPath, 2)
	for _, entries := range [][]models.DatasetEntry{byID, byPath} {
		assert.Equal(t, map[string]any{}, entries[0].Input)
		assert.Equal(t, "greet politely", entries[0].Rubric)
		assert.Equal(t, "bob", entries[1].Input["name"])
	}
}
