package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateSettings(t *testing.T) {
	tmpl := &Template{Metadata: map[string]any{
		MetaModel:       "gpt-4o-mini",
		MetaProvider:    "ollama",
		MetaTemperature: 0.2,
		MetaOwner:       "search-team",
	}}

	s := tmpl.Settings()
	require.Equal(t, "gpt-4o-mini", s.Model)
	require.Equal(t, "ollama", s.Provider)
	require.NotNil(t, s.Temperature)
	require.InDelta(t, 0.2, *s.Temperature, 1e-9)
}

func TestTemplateSettings_IntTemperatureAndMissing(t *testing.T) {
	s := (&Template{Metadata: map[string]any{MetaTemperature: 1}}).Settings()
	require.NotNil(t, s.Temperature)
	require.Equal(t, 1.0, *s.Temperature)

	empty := (&Template{}).Settings()
	require.Empty(t, empty.Model)
	require.Nil(t, empty.Temperature)
}

func TestTemplateHasOutputContract(t *testing.T) {
	require.False(t, (&Template{}).HasOutputContract())
	require.True(t, (&Template{OutputSchema: map[string]any{"type": "object"}}).HasOutputContract())
}

func TestCloneMetadataIsIndependent(t *testing.T) {
	tmpl := &Template{Metadata: map[string]any{"owner": "a"}}
	md := tmpl.CloneMetadata()
	md["owner"] = "b"
	require.Equal(t, "a", tmpl.Metadata["owner"])
}
