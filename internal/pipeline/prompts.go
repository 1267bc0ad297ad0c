package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/template"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/quasijson"
)

// DefaultPatientPrompt asks for every patient detail in the referral that
// could answer a question on the form. The template receives no data.
const DefaultPatientPrompt = `The first attached PDF is a referral package for a patient. The second attached PDF is a prior authorization form.
The referral package holds the patient details needed to fill the form; some pages of the form ask questions that must be answered from those details.
Go through every page of the referral package carefully, examining it visually, and extract answers to as many of the form's questions as possible.
Wrap all patient fields under a single top-level object and return only JSON in this format:

{
  "patient_info": {
    "First_Name": "...",
    "Last_Name": "...",
    ...
  }
}
`

const annotatePrompt = `You are annotating page {{.Page}} of a medical form.
Given:
- This page's form fields (id, type, rect).
- The attached page of the prior authorization form.

Move through the page in order and, for every field, work out the question the form asks for it (what is being asked for CB1 or T1).
Also give the context the question is asked in, in at most 25 words. The question alone is often ambiguous: a "First Name" field must say whether it is the patient's name or the insurer's, and a sub-question must name the question it belongs to.
Getting the context right for each field is essential for mapping patient data correctly.

Return a JSON object with one entry per field in this format:
{"T67": {"name": "T67", "page": {{.Page}}, "question": "", "context": ""}}

Only output valid JSON.

Here are the fields:
{{.FieldsJSON}}
`

const mapPrompt = `You are filling page {{.Page}} of the attached prior authorization form.
Given:
1. This page's form fields with the question and context of each.
2. Detailed patient info.

Read the question and context of each field, then check whether the patient info answers it. Create a mapping only when it does; a name field gets a name, an address field gets an address.
Do not map content to a field it does not fit. Do not add a field to the mapping when the patient info has nothing for it; never fill blanks or false placeholders.
Use:
- text for text fields
- true / false for checkboxes

Return valid JSON {"field_id": value}.

--- PATIENT INFO ---
{{.PatientJSON}}
--- FIELD CONTEXT ---
{{.FieldsJSON}}
`

// Prompts holds the three instruction templates of a run
type Prompts struct {
	Patient  *template.Template
	Annotate *template.Template
	Map      *template.Template
}

// DefaultPrompts returns the built-in templates
func DefaultPrompts() *Prompts {
	return &Prompts{
		Patient:  template.Must(template.New("patient").Parse(DefaultPatientPrompt)),
		Annotate: template.Must(template.New("annotate").Parse(annotatePrompt)),
		Map:      template.Must(template.New("map").Parse(mapPrompt)),
	}
}

// WithPatientTemplate returns a copy of p whose patient-info instruction is
// parsed from text.
func (p *Prompts) WithPatientTemplate(text string) (*Prompts, error) {
	tmpl, err := template.New("patient").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse patient prompt: %w", err)
	}
	cp := *p
	cp.Patient = tmpl
	return &cp, nil
}

// LoadPatientTemplate reads a replacement patient-info instruction from path
func (p *Prompts) LoadPatientTemplate(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patient prompt: %w", err)
	}
	return p.WithPatientTemplate(string(data))
}

func (p *Prompts) patient() (string, error) {
	return execute(p.Patient, nil)
}

// annotateField is the annotator's view of a field: no current value
type annotateField struct {
	ID   string     `json:"id"`
	Type forms.Kind `json:"type"`
	Rect [4]float64 `json:"rect"`
}

func (p *Prompts) annotate(page int, fields []forms.FieldDescriptor) (string, error) {
	view := make([]annotateField, len(fields))
	for i, f := range fields {
		view[i] = annotateField{ID: f.ID, Type: f.Kind, Rect: f.Rect}
	}
	fieldsJSON, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return execute(p.Annotate, map[string]interface{}{
		"Page":       page,
		"FieldsJSON": string(fieldsJSON),
	})
}

// mapField is the mapper's view of an annotated field
type mapField struct {
	ID       string     `json:"id"`
	Type     forms.Kind `json:"type"`
	Question string     `json:"question"`
	Context  string     `json:"context"`
}

func (p *Prompts) mapping(page int, fields []AnnotatedField, patient quasijson.Object) (string, error) {
	view := make(map[string]mapField, len(fields))
	for _, f := range fields {
		view[f.ID] = mapField{ID: f.ID, Type: f.Kind, Question: f.Question, Context: f.Context}
	}
	fieldsJSON, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal field context: %w", err)
	}
	patientJSON, err := json.MarshalIndent(patient, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal patient info: %w", err)
	}
	return execute(p.Map, map[string]interface{}{
		"Page":        page,
		"FieldsJSON":  string(fieldsJSON),
		"PatientJSON": string(patientJSON),
	})
}

func execute(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
