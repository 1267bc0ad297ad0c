package quasijson

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Shape schemas for the payloads the oracle returns. They only pin down
// structure; the content is the oracle's business.
var (
	ObjectSchema = jsonschema.MustCompileString("object.json", `{"type": "object"}`)

	AnnotationEntrySchema = jsonschema.MustCompileString("annotation.json", `{
		"type": "object",
		"properties": {
			"name":     {"type": "string"},
			"id":       {"type": "string"},
			"question": {"type": "string"},
			"context":  {"type": "string"}
		},
		"anyOf": [
			{"required": ["question"]},
			{"required": ["context"]}
		]
	}`)

	MappingSchema = jsonschema.MustCompileString("mapping.json", `{
		"type": "object",
		"additionalProperties": {
			"type": ["string", "number", "boolean", "null"]
		}
	}`)
)

// Conforms reports whether v satisfies schema
func Conforms(schema *jsonschema.Schema, v Value) bool {
	return Validate(schema, v) == nil
}

// Validate checks v against schema and returns a descriptive error
func Validate(schema *jsonschema.Schema, v Value) error {
	// The validator wants plain decoded JSON; a marshal round trip gives it
	// float64 numbers instead of json.Number.
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
