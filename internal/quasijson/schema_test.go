package quasijson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, text string) Value {
	t.Helper()
	v, err := Decode(text)
	require.NoError(t, err)
	return v
}

func TestAnnotationEntrySchema(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"question and context", `{"name": "T1", "question": "First name?", "context": "Patient"}`, true},
		{"question only", `{"question": "First name?"}`, true},
		{"context only", `{"id": "T1", "context": "Patient"}`, true},
		{"neither", `{"name": "T1", "page": 1}`, false},
		{"wrong type", `{"question": 7}`, false},
		{"wrapper object", `{"T1": {"question": "First name?"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Conforms(AnnotationEntrySchema, mustDecode(t, tt.text)))
		})
	}
}

func TestMappingSchema(t *testing.T) {
	assert.True(t, Conforms(MappingSchema, mustDecode(t, `{"T1": "Jane", "CB1": true, "Age": 54, "X": null}`)))
	assert.False(t, Conforms(MappingSchema, mustDecode(t, `{"mapping": {"T1": "Jane"}}`)))
	assert.False(t, Conforms(MappingSchema, mustDecode(t, `{"T1": ["Jane"]}`)))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(ObjectSchema, mustDecode(t, `{"a": 1}`)))

	err := Validate(ObjectSchema, ArrayValue(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json does not match schema")
}
