package loader

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mapbox/hecate-go/internal/validate"
)

// ValidationError reports one malformed field of an import record.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationErrors collects every ValidationError found for a record.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Validator checks a Record against the same geometry and properties
// rules the feature engine enforces on create, so malformed rows are
// rejected before a transaction is ever opened.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(rec Record) error {
	var errors ValidationErrors

	if rec.Geometry == nil {
		errors = append(errors, ValidationError{Field: "geometry", Message: "is required"})
	} else if err := validate.Geometry(rec.Geometry); err != nil {
		errors = append(errors, ValidationError{Field: "geometry", Message: err.Error()})
	}

	if rec.Key != nil && strings.TrimSpace(*rec.Key) == "" {
		errors = append(errors, ValidationError{Field: "key", Message: "cannot be blank when present"})
	}

	if len(rec.Properties) == 0 {
		errors = append(errors, ValidationError{Field: "properties", Message: "is required"})
	} else {
		var probe any
		if err := json.Unmarshal(rec.Properties, &probe); err != nil {
			errors = append(errors, ValidationError{Field: "properties", Message: "must be valid JSON"})
		} else if _, ok := probe.(map[string]any); !ok {
			errors = append(errors, ValidationError{Field: "properties", Message: "must be a JSON object"})
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}
