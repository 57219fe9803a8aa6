package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "none", body: "Summarize the text.", want: nil},
		{name: "single", body: "Hello {name}", want: []string{"name"}},
		{name: "sorted and distinct", body: "{b} {a} {b}", want: []string{"a", "b"}},
		{name: "json literal is not a placeholder", body: `Reply as {"label": "x"} for {text}`, want: []string{"text"}},
		{name: "underscore and digits", body: "{user_1}", want: []string{"user_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Placeholders(tt.body))
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		input map[string]any
		want  string
	}{
		{
			name:  "string value",
			body:  "Classify: {text}",
			input: map[string]any{"text": "great product"},
			want:  "Classify: great product",
		},
		{
			name:  "non-string values are JSON",
			body:  "n={n} ok={ok} tags={tags}",
			input: map[string]any{"n": 3, "ok": true, "tags": []any{"a", "b"}},
			want:  `n=3 ok=true tags=["a","b"]`,
		},
		{
			name:  "extra inputs ignored",
			body:  "{a}",
			input: map[string]any{"a": "x", "b": "y"},
			want:  "x",
		},
		{
			name:  "nil value renders empty",
			body:  "[{a}]",
			input: map[string]any{"a": nil},
			want:  "[]",
		},
		{
			name:  "no placeholders",
			body:  "static",
			input: nil,
			want:  "static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.body, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_MissingVariable(t *testing.T) {
	_, err := Render("Hi {name}, you are {age}", map[string]any{"city": "Oslo", "age": 40})
	require.Error(t, err)

	var mv *MissingVariableError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, []string{"name"}, mv.Missing)
	assert.Equal(t, []string{"age", "city"}, mv.Provided)
	assert.Equal(t, "Missing required input variables: name. Provided variables: age, city", err.Error())
}

func TestRender_MissingVariableNoneProvided(t *testing.T) {
	err := Check("{b} {a}", map[string]any{})
	require.EqualError(t, err, "Missing required input variables: a, b. Provided variables: none")
}
