package pipeline

import (
	"context"
	"strings"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pages"
	"github.com/a3tai/mcp-pdf-formfill/internal/quasijson"
)

// Annotation is the question a field asks and the context it is asked in
type Annotation struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

// AnnotatedField is a field of one page together with its annotation
type AnnotatedField struct {
	forms.FieldDescriptor
	Question string `json:"question"`
	Context  string `json:"context"`
}

// Annotate asks the oracle what each field on a page asks. Fields the
// oracle does not describe are left out of the result; they are not mapped.
func Annotate(ctx context.Context, o oracle.Oracle, model string, prompts *Prompts, page int, fields []forms.FieldDescriptor, rendered *pages.Rendered) ([]AnnotatedField, error) {
	descriptors := make([]forms.FieldDescriptor, len(fields))
	for i, f := range fields {
		descriptors[i] = f.Descriptor()
	}

	prompt, err := prompts.annotate(page, descriptors)
	if err != nil {
		return nil, err
	}

	text, err := o.Invoke(ctx, oracle.Request{
		Model:       model,
		Attachments: []oracle.Attachment{{Data: rendered.Data, MIMEType: pages.MIMEType}},
		Prompt:      prompt,
	})
	if err != nil {
		return nil, oracleError(err, "annotation")
	}

	v, err := quasijson.Decode(wrapArray(text))
	if err != nil {
		return nil, withStage(err, "annotation")
	}

	known := make(map[string]bool, len(descriptors))
	for _, f := range descriptors {
		known[f.ID] = true
	}
	notes := normalizeAnnotations(v, known)

	annotated := make([]AnnotatedField, 0, len(notes))
	for _, f := range descriptors {
		note, ok := notes[f.ID]
		if !ok {
			continue
		}
		annotated = append(annotated, AnnotatedField{
			FieldDescriptor: f,
			Question:        note.Question,
			Context:         note.Context,
		})
	}
	return annotated, nil
}

// wrapArray turns a bare top-level array answer into {"fields": [...]} so
// the object recoverer can read it.
func wrapArray(text string) string {
	open := strings.IndexAny(text, "{[")
	if open == -1 || text[open] != '[' {
		return text
	}
	end := strings.LastIndex(text, "]")
	if end < open {
		return text
	}
	return `{"fields": ` + text[open:end+1] + `}`
}

// normalizeAnnotations accepts the shapes models produce for the
// annotation answer: an object keyed by field id, entries carrying their
// own name or id, and arrays of such entries, nested at any depth.
// Only ids in known are kept.
func normalizeAnnotations(v quasijson.Value, known map[string]bool) map[string]Annotation {
	out := make(map[string]Annotation)
	collectAnnotations(out, "", v, known, 0)
	return out
}

func collectAnnotations(out map[string]Annotation, key string, v quasijson.Value, known map[string]bool, depth int) {
	if depth > 8 {
		return
	}

	switch v.Kind() {
	case quasijson.KindArray:
		items, _ := v.Array()
		for _, item := range items {
			collectAnnotations(out, "", item, known, depth+1)
		}

	case quasijson.KindObject:
		obj, _ := v.Object()
		if quasijson.Conforms(quasijson.AnnotationEntrySchema, v) {
			id := entryID(obj, key)
			if known[id] {
				out[id] = Annotation{
					Question: strings.TrimSpace(obj["question"].Text()),
					Context:  strings.TrimSpace(obj["context"].Text()),
				}
			}
			return
		}
		for _, k := range obj.Keys() {
			collectAnnotations(out, k, obj[k], known, depth+1)
		}

	case quasijson.KindString:
		// {"T1": "Patient first name"}
		if known[key] {
			out[key] = Annotation{Question: strings.TrimSpace(v.Text())}
		}
	}
}

// entryID prefers the entry's own name or id over the key it was found under
func entryID(obj quasijson.Object, key string) string {
	for _, k := range []string{"name", "id"} {
		if id := strings.TrimSpace(obj[k].Text()); id != "" {
			return id
		}
	}
	return key
}
