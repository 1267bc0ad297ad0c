package pipeline

import (
	"context"
	"strings"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pages"
	"github.com/a3tai/mcp-pdf-formfill/internal/quasijson"
)

// Map asks the oracle to project patient onto the annotated fields of one
// page. The returned values hold only fields the answer supports: strings
// for text fields and booleans for checkboxes.
func Map(ctx context.Context, o oracle.Oracle, model string, prompts *Prompts, page int, fields []AnnotatedField, patient quasijson.Object, rendered *pages.Rendered) (forms.ValueMap, error) {
	if len(fields) == 0 {
		return forms.ValueMap{}, nil
	}

	prompt, err := prompts.mapping(page, fields, patient)
	if err != nil {
		return nil, err
	}

	text, err := o.Invoke(ctx, oracle.Request{
		Model:       model,
		Attachments: []oracle.Attachment{{Data: rendered.Data, MIMEType: pages.MIMEType}},
		Prompt:      prompt,
	})
	if err != nil {
		return nil, oracleError(err, "mapping")
	}

	answer, err := quasijson.DecodeObject(text)
	if err != nil {
		return nil, withStage(err, "mapping")
	}
	return enforceContract(unwrapMapping(answer), fields), nil
}

// unwrapMapping accepts {"mapping": {...}} style answers that put the
// field map one level down.
func unwrapMapping(answer quasijson.Object) quasijson.Object {
	if len(answer) != 1 || quasijson.Conforms(quasijson.MappingSchema, quasijson.ObjectValue(answer)) {
		return answer
	}
	for _, v := range answer {
		if inner, ok := v.Object(); ok {
			return inner
		}
	}
	return answer
}

// enforceContract keeps only values the page's fields can take. Unknown
// ids, nulls, containers and blank text are omissions, not placeholders.
func enforceContract(answer quasijson.Object, fields []AnnotatedField) forms.ValueMap {
	kinds := make(map[string]forms.Kind, len(fields))
	for _, f := range fields {
		kinds[f.ID] = f.Kind
	}

	out := make(forms.ValueMap)
	for id, v := range answer {
		kind, ok := kinds[id]
		if !ok {
			continue
		}
		switch v.Kind() {
		case quasijson.KindNull, quasijson.KindObject, quasijson.KindArray:
			continue
		}

		switch kind {
		case forms.KindCheckbox:
			if v.Kind() == quasijson.KindString && strings.TrimSpace(v.Text()) == "" {
				continue
			}
			out[id] = v.Truthy()
		default:
			s := strings.TrimSpace(v.Text())
			if s == "" {
				continue
			}
			out[id] = s
		}
	}
	return out
}
