// Package schema implements optional properties validator: when a
// JSON-Schema has been configured at process scope, every create/modify/
// restore validates its properties against it and rejects on failure.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mapbox/hecate-go/internal/errs"
)

// Validator compiles a single JSON-Schema document and checks arbitrary
// properties payloads against it. It implements feature.SchemaValidator.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile loads and compiles the schema at path.
func Compile(path string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	s, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", path, err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks raw properties JSON against the compiled schema:
// malformed JSON surfaces as BadRequest, a schema violation as
// UnprocessableEntity.
func (v *Validator) Validate(props json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(props, &doc); err != nil {
		return errs.New(errs.BadRequest, "Invalid properties JSON")
	}
	if err := v.schema.Validate(doc); err != nil {
		return errs.Wrap(errs.UnprocessableEntity, "Properties failed schema validation", err)
	}
	return nil
}
