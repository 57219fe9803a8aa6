package models

// DatasetEntry is a single test case. Entries are treated as immutable values.
type DatasetEntry struct {
	ID             string         `json:"id,omitempty" yaml:"id,omitempty"`
	Input          map[string]any `json:"input_data" yaml:"input_data"`
	ExpectedOutput map[string]any `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	Rubric         string         `json:"rubric,omitempty" yaml:"rubric,omitempty"`
	Tags           []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Dataset is an ordered, named collection of entries.
type Dataset struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Entries []DatasetEntry `json:"entries" yaml:"entries"`
}
