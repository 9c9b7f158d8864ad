package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Schema is a compiled JSON schema.
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// Compile parses a schema given as a Go value (typically a map literal).
func Compile(name string, def map[string]interface{}) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompile is Compile for package-level schema literals.
func MustCompile(name string, def map[string]interface{}) *Schema {
	s, err := Compile(name, def)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string {
	return s.name
}

// Validate checks doc against the schema. A nil schema accepts everything.
func (s *Schema) Validate(doc map[string]interface{}) *ValidationResult {
	if s == nil || s.schema == nil {
		return &ValidationResult{Valid: true}
	}

	result, err := s.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: err.Error(),
				Code:    "SCHEMA_LOAD_FAILED",
			}},
		}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}

	return &ValidationResult{
		Valid:  result.Valid(),
		Errors: errs,
	}
}

// AnyOfRequired builds an object schema that is satisfied when at least one
// of keys is present. objectKeys must be objects and arrayKeys arrays when
// present.
func AnyOfRequired(keys []string, objectKeys []string, arrayKeys []string) map[string]interface{} {
	anyOf := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		anyOf = append(anyOf, map[string]interface{}{"required": []interface{}{k}})
	}

	props := map[string]interface{}{}
	for _, k := range objectKeys {
		props[k] = map[string]interface{}{"type": "object"}
	}
	for _, k := range arrayKeys {
		props[k] = map[string]interface{}{"type": "array"}
	}

	return map[string]interface{}{
		"type":       "object",
		"anyOf":      anyOf,
		"properties": props,
	}
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) Error() string {
	return strings.Join(vr.GetErrorMessages(), "; ")
}
