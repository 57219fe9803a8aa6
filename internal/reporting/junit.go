package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spboyer/promptloop/internal/models"
)

// JUnit XML schema types

// JUnitTestSuites is the top-level container.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one evaluation run.
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to one dataset entry.
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents an entry that ran but did not pass.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitError represents an entry whose execution failed.
type JUnitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitSkipped marks a test as skipped.
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitProperty is a key-value metadata entry.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

const executionFailedPrefix = "Execution failed"

// ConvertToJUnit converts an EvaluationRun to JUnit XML format.
func ConvertToJUnit(run *models.EvaluationRun) *JUnitTestSuites {
	durationSec := run.Duration().Seconds()
	classname := run.TemplateName + "@" + run.TemplateVersion

	suite := JUnitTestSuite{
		Name:      classname,
		Tests:     len(run.Results),
		Time:      durationSec,
		Timestamp: run.StartedAt.Format(time.RFC3339),
		Properties: []JUnitProperty{
			{Name: "template", Value: run.TemplateName},
			{Name: "version", Value: run.TemplateVersion},
			{Name: "judge_model", Value: run.JudgeModel},
			{Name: "score", Value: fmt.Sprintf("%.4f", run.PrimaryScore())},
			{Name: "format_pass_rate", Value: fmt.Sprintf("%.4f", run.FormatPassRate)},
		},
	}
	if run.DatasetID != "" {
		suite.Properties = append(suite.Properties, JUnitProperty{Name: "dataset", Value: run.DatasetID})
	}

	for i := range run.Results {
		tc := convertEntry(classname, i, &run.Results[i])
		switch {
		case tc.Error != nil:
			suite.Errors++
		case tc.Failure != nil:
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	return &JUnitTestSuites{
		Tests:      suite.Tests,
		Failures:   suite.Failures,
		Errors:     suite.Errors,
		Time:       durationSec,
		TestSuites: []JUnitTestSuite{suite},
	}
}

func convertEntry(classname string, i int, res *models.EntryResult) JUnitTestCase {
	name := res.EntryID
	if name == "" {
		name = fmt.Sprintf("entry-%d", i+1)
	}
	tc := JUnitTestCase{
		Name:      name,
		Classname: classname,
		Time:      float64(res.DurationMs) / 1000.0,
	}
	if res.Passed {
		return tc
	}

	if strings.HasPrefix(res.FailureReason, executionFailedPrefix) {
		tc.Error = &JUnitError{
			Message: res.FailureReason,
			Type:    "ExecutionError",
		}
		return tc
	}
	tc.Failure = &JUnitFailure{
		Message: res.FailureReason,
		Type:    "EvaluationFailure",
		Body:    formatScores(res),
	}
	return tc
}

func formatScores(res *models.EntryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "format: %s\n", res.FormatStatus)
	if res.FormatError != "" {
		fmt.Fprintf(&b, "format error: %s\n", res.FormatError)
	}

	// Sort for deterministic output
	dims := make([]string, 0, len(res.Scores))
	for d := range res.Scores {
		dims = append(dims, string(d))
	}
	sort.Strings(dims)
	for _, d := range dims {
		fmt.Fprintf(&b, "%s: %.2f\n", d, res.Scores[models.Dimension(d)])
	}
	if res.Overall != nil {
		fmt.Fprintf(&b, "overall: %.2f\n", *res.Overall)
	}
	if res.JudgeError != "" {
		fmt.Fprintf(&b, "judge error: %s\n", res.JudgeError)
	}
	if res.JudgeFeedback != "" {
		fmt.Fprintf(&b, "judge feedback: %s\n", res.JudgeFeedback)
	}
	return b.String()
}

// WriteJUnitXML writes JUnit XML to the specified file path.
func WriteJUnitXML(run *models.EvaluationRun, path string) error {
	suites := ConvertToJUnit(run)

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JUnit XML: %w", err)
	}

	output := append([]byte(xml.Header), data...)
	return os.WriteFile(path, output, 0644)
}
