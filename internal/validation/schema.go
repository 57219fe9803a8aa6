// Package validation checks executor output against a template's output contract.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spboyer/promptloop/internal/models"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// defaultPrinter is used to format schema validation error messages.
var defaultPrinter = message.NewPrinter(language.English)

// compiled caches contracts by their canonical JSON so repeated entries reuse one schema.
var compiled sync.Map // string -> *Contract

const resourceName = "output_contract.json"

// Result is the verdict of a structural check.
type Result struct {
	Status models.FormatStatus
	Error  string
}

// Passed reports whether the output conformed. NotApplicable is not a pass.
func (r Result) Passed() bool {
	return r.Status == models.FormatPass
}

// Contract is a compiled output schema.
type Contract struct {
	schema *jsonschema.Schema
}

// Compile compiles a JSON Schema document. Identical documents share a compiled contract.
func Compile(doc map[string]any) (*Contract, error) {
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding output contract: %w", err)
	}
	key := string(canonical)
	if c, ok := compiled.Load(key); ok {
		return c.(*Contract), nil
	}

	schemaDoc, err := toJSONValue(canonical)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		return nil, fmt.Errorf("adding output contract: %w", err)
	}
	sch, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compiling output contract: %w", err)
	}

	c := &Contract{schema: sch}
	actual, _ := compiled.LoadOrStore(key, c)
	return actual.(*Contract), nil
}

// Validate checks output against the contract.
func (c *Contract) Validate(output map[string]any) Result {
	raw, err := json.Marshal(output)
	if err != nil {
		return Result{Status: models.FormatFail, Error: fmt.Sprintf("output is not JSON-encodable: %v", err)}
	}
	instance, err := toJSONValue(raw)
	if err != nil {
		return Result{Status: models.FormatFail, Error: err.Error()}
	}

	errs := validateAgainstSchema(c.schema, instance)
	if len(errs) == 0 {
		return Result{Status: models.FormatPass}
	}
	return Result{Status: models.FormatFail, Error: "Format validation failed: " + strings.Join(errs, "; ")}
}

// Check validates output against schema. A nil or empty schema means there is nothing to
// enforce and yields NotApplicable.
func Check(output map[string]any, schema map[string]any) Result {
	if len(schema) == 0 {
		return Result{Status: models.FormatNotApplicable}
	}
	c, err := Compile(schema)
	if err != nil {
		return Result{Status: models.FormatFail, Error: "invalid output contract: " + err.Error()}
	}
	return c.Validate(output)
}

func validateAgainstSchema(schema *jsonschema.Schema, instance any) []string {
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(defaultPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}

// toJSONValue decodes raw JSON the way the schema library expects, keeping number precision.
func toJSONValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding JSON value: %w", err)
	}
	return v, nil
}
