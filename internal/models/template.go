package models

import (
	"time"
)

// TemplateStatus is the lifecycle state of a template version.
type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "draft"
	TemplateActive   TemplateStatus = "active"
	TemplateArchived TemplateStatus = "archived"
)

// Metadata keys with a fixed meaning. Anything else in Template.Metadata is free-form.
const (
	MetaModel                = "model"
	MetaTemperature          = "temperature"
	MetaProvider             = "provider"
	MetaOwner                = "owner"
	MetaImprovementRationale = "improvement_rationale"
	MetaAddressedFailures    = "addressed_failures"
	MetaParentVersion        = "parent_version"
)

// Template is one version of a named prompt template.
//
// The body is never rewritten once the version exists; corrections are new versions.
type Template struct {
	ID           string         `json:"id" yaml:"id,omitempty"`
	Name         string         `json:"name" yaml:"name"`
	Version      string         `json:"version" yaml:"version"`
	Body         string         `json:"template_text" yaml:"template_text"`
	InputSchema  map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Status       TemplateStatus `json:"status" yaml:"status,omitempty"`
	ParentID     *string        `json:"parent_version_id,omitempty" yaml:"parent_version_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at,omitempty"`
	ActivatedAt  *time.Time     `json:"activated_at,omitempty" yaml:"activated_at,omitempty"`
}

// TemplateSettings is the typed view of the generation settings kept in metadata.
type TemplateSettings struct {
	Model       string
	Provider    string
	Temperature *float64
}

// Settings extracts model, provider and temperature from the metadata map.
// Missing or mistyped values are left empty so callers can apply their defaults.
func (t *Template) Settings() TemplateSettings {
	var s TemplateSettings
	if t == nil || t.Metadata == nil {
		return s
	}
	if v, ok := t.Metadata[MetaModel].(string); ok {
		s.Model = v
	}
	if v, ok := t.Metadata[MetaProvider].(string); ok {
		s.Provider = v
	}
	switch v := t.Metadata[MetaTemperature].(type) {
	case float64:
		s.Temperature = &v
	case float32:
		f := float64(v)
		s.Temperature = &f
	case int:
		f := float64(v)
		s.Temperature = &f
	}
	return s
}

// HasOutputContract reports whether the template declares an output schema.
func (t *Template) HasOutputContract() bool {
	return t != nil && len(t.OutputSchema) > 0
}

// Ref is a short "name@version" label used in logs.
func (t *Template) Ref() string {
	return t.Name + "@" + t.Version
}

// CloneMetadata returns a shallow copy of the metadata map, never nil.
func (t *Template) CloneMetadata() map[string]any {
	out := make(map[string]any, len(t.Metadata)+3)
	for k, v := range t.Metadata {
		out[k] = v
	}
	return out
}
