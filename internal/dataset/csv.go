package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spboyer/promptloop/internal/models"
)

// Row represents a single CSV row with column name to value mapping.
type Row map[string]string

// reservedColumns never become input fields.
var reservedColumns = map[string]bool{
	"id":              true,
	"expected_output": true,
	"rubric":          true,
	"tags":            true,
}

// rowFields holds the reserved columns of a row.
type rowFields struct {
	ID             string `mapstructure:"id"`
	ExpectedOutput string `mapstructure:"expected_output"`
	Rubric         string `mapstructure:"rubric"`
	Tags           string `mapstructure:"tags"`
}

// LoadCSV reads a CSV file and returns rows as maps of column to value.
// The first row is treated as headers (column names).
func LoadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: parse %s: %w", path, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("csv: %s is empty (no header row)", path)
	}

	headers := records[0]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	rows := make([]Row, 0, len(records)-1)

	for i, record := range records[1:] {
		if len(record) != len(headers) {
			return nil, fmt.Errorf("csv: row %d has %d columns, expected %d", i+2, len(record), len(headers))
		}
		row := make(Row, len(headers))
		for j, h := range headers {
			row[h] = record[j]
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Entry converts a row into a dataset entry. Non-reserved columns become string input fields.
// expected_output is parsed as a JSON object when it is one and wrapped as {"output": value}
// otherwise. tags are separated by commas or semicolons.
func (r Row) Entry() (models.DatasetEntry, error) {
	var fields rowFields
	if err := mapstructure.Decode(map[string]string(r), &fields); err != nil {
		return models.DatasetEntry{}, fmt.Errorf("csv: decoding row: %w", err)
	}

	entry := models.DatasetEntry{
		ID:     strings.TrimSpace(fields.ID),
		Rubric: fields.Rubric,
		Input:  map[string]any{},
	}
	for k, v := range r {
		if !reservedColumns[k] {
			entry.Input[k] = v
		}
	}
	if expected := strings.TrimSpace(fields.ExpectedOutput); expected != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(expected), &obj); err == nil {
			entry.ExpectedOutput = obj
		} else {
			entry.ExpectedOutput = map[string]any{"output": fields.ExpectedOutput}
		}
	}
	for _, tag := range strings.FieldsFunc(fields.Tags, func(r rune) bool { return r == ',' || r == ';' }) {
		if tag = strings.TrimSpace(tag); tag != "" {
			entry.Tags = append(entry.Tags, tag)
		}
	}
	return entry, nil
}

// LoadCSVEntries reads a CSV file as dataset entries.
func LoadCSVEntries(path string) ([]models.DatasetEntry, error) {
	rows, err := LoadCSV(path)
	if err != nil {
		return nil, err
	}
	entries := make([]models.DatasetEntry, 0, len(rows))
	for i, row := range rows {
		entry, err := row.Entry()
		if err != nil {
			return nil, fmt.Errorf("csv: row %d: %w", i+2, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
