package alignment

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "alignment.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
})

// validateSchema checks an alignment document against the embedded schema.
func validateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile alignment schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &errors.ValidationError{Field: "alignment", Message: strings.Join(issues(verr), "; ")}
		}
		return &errors.ValidationError{Field: "alignment", Message: err.Error()}
	}
	return nil
}

// issues flattens the leaves of a schema validation error.
func issues(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "#"
		}
		return []string{loc + ": " + strings.TrimSpace(err.Message)}
	}
	var out []string
	for _, c := range err.Causes {
		out = append(out, issues(c)...)
	}
	return out
}
