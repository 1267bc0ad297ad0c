package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pages"
	"github.com/a3tai/mcp-pdf-formfill/internal/quasijson"
	"github.com/a3tai/mcp-pdf-formfill/mocks"
)

var pageOneFields = []forms.FieldDescriptor{
	{ID: "T1", Kind: forms.KindText, Page: 1, Rect: [4]float64{150, 700, 350, 720}, Value: "old"},
	{ID: "T2", Kind: forms.KindText, Page: 1, Rect: [4]float64{150, 670, 350, 690}},
	{ID: "CB1", Kind: forms.KindCheckbox, Page: 1, Rect: [4]float64{72, 640, 86, 654}, Value: false},
}

func renderedPage() *pages.Rendered {
	return &pages.Rendered{Data: []byte("%PDF-1.7"), Page: 1}
}

func TestNormalizeAnnotations(t *testing.T) {
	known := map[string]bool{"T1": true, "T2": true, "CB1": true}

	tests := []struct {
		name   string
		answer string
		want   map[string]Annotation
	}{
		{
			name:   "object keyed by id",
			answer: `{"T1": {"name": "T1", "page": 1, "question": "First name", "context": "Patient"}}`,
			want:   map[string]Annotation{"T1": {Question: "First name", Context: "Patient"}},
		},
		{
			name:   "entry name overrides key",
			answer: `{"field_0": {"name": "T2", "question": "Last name", "context": "Patient"}}`,
			want:   map[string]Annotation{"T2": {Question: "Last name", Context: "Patient"}},
		},
		{
			name:   "entry with id instead of name",
			answer: `{"fields": [{"id": "CB1", "question": "Smoker?"}]}`,
			want:   map[string]Annotation{"CB1": {Question: "Smoker?"}},
		},
		{
			name:   "bare string values",
			answer: `{"T1": "Patient first name", "T2": "  Patient last name "}`,
			want: map[string]Annotation{
				"T1": {Question: "Patient first name"},
				"T2": {Question: "Patient last name"},
			},
		},
		{
			name:   "nested under a page wrapper",
			answer: `{"page_1": {"T1": {"question": "First name", "context": "Insured"}}}`,
			want:   map[string]Annotation{"T1": {Question: "First name", Context: "Insured"}},
		},
		{
			name:   "unknown ids dropped",
			answer: `{"T9": {"question": "?"}, "T1": {"question": "First name"}}`,
			want:   map[string]Annotation{"T1": {Question: "First name"}},
		},
		{
			name:   "entries without question or context ignored",
			answer: `{"T1": {"name": "T1", "page": 1}}`,
			want:   map[string]Annotation{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := quasijson.Decode(tt.answer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, normalizeAnnotations(v, known))
		})
	}
}

func TestWrapArray(t *testing.T) {
	assert.Equal(t, `{"fields": [{"a": 1}]}`, wrapArray("Sure:\n[{\"a\": 1}]\nDone"))
	assert.Equal(t, `{"a": [1]}`, wrapArray(`{"a": [1]}`))
	assert.Equal(t, "no json", wrapArray("no json"))
	assert.Equal(t, "[ unterminated", wrapArray("[ unterminated"))
}

func TestAnnotate_PartialCoverage(t *testing.T) {
	o := new(mocks.MockOracle)
	o.On("Invoke", mock.Anything, mock.MatchedBy(func(req oracle.Request) bool {
		return req.Model == "ctx-model" &&
			len(req.Attachments) == 1 &&
			req.Attachments[0].MIMEType == pages.MIMEType
	})).Return("```json\n[{\"name\": \"CB1\", \"question\": \"Smoker?\", \"context\": \"Patient habits\"},\n {\"name\": \"T1\", \"question\": \"First name\", \"context\": \"Patient\"},]\n```", nil)

	got, err := Annotate(context.Background(), o, "ctx-model", DefaultPrompts(), 1, pageOneFields, renderedPage())
	require.NoError(t, err)
	o.AssertExpectations(t)

	// inventory order, T2 left out
	require.Len(t, got, 2)
	assert.Equal(t, "T1", got[0].ID)
	assert.Equal(t, "First name", got[0].Question)
	assert.Equal(t, "CB1", got[1].ID)
	assert.Equal(t, forms.KindCheckbox, got[1].Kind)
	assert.Nil(t, got[0].Value)
}

func TestAnnotate_PromptOmitsValues(t *testing.T) {
	o := new(mocks.MockOracle)
	o.On("Invoke", mock.Anything, mock.MatchedBy(func(req oracle.Request) bool {
		return assert.Contains(t, req.Prompt, `"id": "T1"`) &&
			assert.Contains(t, req.Prompt, "page 1 of") &&
			assert.NotContains(t, req.Prompt, "old")
	})).Return(`{}`, nil)

	got, err := Annotate(context.Background(), o, "", DefaultPrompts(), 1, pageOneFields, renderedPage())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnnotate_Malformed(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return "The fields are a name and a checkbox.", nil
	})

	_, err := Annotate(context.Background(), o, "", DefaultPrompts(), 1, pageOneFields, renderedPage())
	require.Error(t, err)
	assert.True(t, pdferrors.IsMalformedResponse(err))
	assert.Contains(t, err.Error(), "annotation")
}
