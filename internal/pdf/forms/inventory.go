// Package forms reads and writes the AcroForm fields of a PDF document
// through pdfcpu's object model.
package forms

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
)

// Button field flags (PDF 32000-1, table 226)
const (
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
)

// parent chains deeper than this are treated as cyclic
const maxFieldDepth = 32

// Open parses data into a pdfcpu context. Any failure, including a panic
// inside the parser, is reported as a DocumentFormat error.
func Open(data []byte) (ctx *model.Context, err error) {
	if len(data) == 0 {
		return nil, pdferrors.NewDocumentFormat(errors.New("empty document"))
	}

	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = pdferrors.NewDocumentFormat(fmt.Errorf("parse PDF: %v", r))
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err = api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, pdferrors.NewDocumentFormat(fmt.Errorf("failed to read PDF context: %w", err))
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return nil, pdferrors.NewDocumentFormat(fmt.Errorf("failed to ensure page count: %w", err))
	}
	return ctx, nil
}

// Extract returns the fillable-field inventory of data
func Extract(data []byte) (*Inventory, error) {
	ctx, err := Open(data)
	if err != nil {
		return nil, err
	}
	return ExtractFromContext(ctx)
}

// ExtractFromContext walks every page's widget annotations in order.
// A field with widgets on several pages is reported once, on the first.
// Radio groups, pushbuttons and signatures are not fillable and are skipped.
func ExtractFromContext(ctx *model.Context) (*Inventory, error) {
	inv := &Inventory{
		Fields:    make([]FieldDescriptor, 0),
		PageCount: ctx.PageCount,
	}
	seen := make(map[string]bool)

	err := walkWidgets(ctx, func(w widget) error {
		if seen[w.id] {
			return nil
		}
		seen[w.id] = true

		f := FieldDescriptor{
			ID:   w.id,
			Kind: w.kind,
			Page: w.page,
			Rect: rectOf(ctx, w.annot),
		}
		f.Value = currentValue(ctx, w)
		inv.Fields = append(inv.Fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// widget is a fillable widget annotation resolved to its terminal field
type widget struct {
	id    string
	kind  Kind
	page  int
	annot types.Dict
	field types.Dict
}

// walkWidgets calls fn for every fillable widget, pages ascending
func walkWidgets(ctx *model.Context, fn func(widget) error) error {
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDict, _, _, err := ctx.PageDict(pageNr, false)
		if err != nil {
			return pdferrors.NewDocumentFormat(fmt.Errorf("failed to read page %d: %w", pageNr, err))
		}
		if pageDict == nil {
			continue
		}

		annotsObj, found := pageDict.Find("Annots")
		if !found {
			continue
		}
		annots, err := ctx.DereferenceArray(annotsObj)
		if err != nil {
			return pdferrors.NewDocumentFormat(fmt.Errorf("failed to read annotations of page %d: %w", pageNr, err))
		}

		for _, annotObj := range annots {
			annot, err := ctx.DereferenceDict(annotObj)
			if err != nil || annot == nil {
				continue
			}
			if subtype := annot.NameEntry("Subtype"); subtype == nil || *subtype != "Widget" {
				continue
			}

			field := terminalField(ctx, annot)
			kind, ok := fieldKind(ctx, field)
			if !ok {
				continue
			}
			id := qualifiedName(ctx, field)
			if id == "" {
				continue
			}

			if err := fn(widget{id: id, kind: kind, page: pageNr, annot: annot, field: field}); err != nil {
				return err
			}
		}
	}
	return nil
}

// terminalField returns the field dictionary a widget belongs to. A widget
// without its own T entry is a kid of the field that holds the value.
func terminalField(ctx *model.Context, annot types.Dict) types.Dict {
	if _, found := annot.Find("T"); found {
		return annot
	}
	if parentObj, found := annot.Find("Parent"); found {
		if parent, err := ctx.DereferenceDict(parentObj); err == nil && parent != nil {
			return parent
		}
	}
	return annot
}

// inherited looks key up on d and then along its Parent chain
func inherited(ctx *model.Context, d types.Dict, key string) (types.Object, bool) {
	for depth := 0; d != nil && depth < maxFieldDepth; depth++ {
		if obj, found := d.Find(key); found {
			return obj, true
		}
		parentObj, found := d.Find("Parent")
		if !found {
			return nil, false
		}
		parent, err := ctx.DereferenceDict(parentObj)
		if err != nil {
			return nil, false
		}
		d = parent
	}
	return nil, false
}

// fieldKind classifies a terminal field. ok is false for fields that
// cannot take a value from a value map.
func fieldKind(ctx *model.Context, field types.Dict) (Kind, bool) {
	ftObj, found := inherited(ctx, field, "FT")
	if !found {
		return "", false
	}
	ft, err := ctx.DereferenceName(ftObj, model.V10, nil)
	if err != nil {
		return "", false
	}

	switch ft {
	case "Btn":
		var flags int
		if ffObj, found := inherited(ctx, field, "Ff"); found {
			if ff, err := ctx.DereferenceInteger(ffObj); err == nil && ff != nil {
				flags = int(*ff)
			}
		}
		if flags&(flagRadio|flagPushbutton) != 0 {
			return "", false
		}
		return KindCheckbox, true
	case "Tx", "Ch":
		return KindText, true
	default:
		return "", false
	}
}

// qualifiedName joins the partial names of field and its ancestors with
// periods, e.g. "patient.name".
func qualifiedName(ctx *model.Context, field types.Dict) string {
	var parts []string
	d := field
	for depth := 0; d != nil && depth < maxFieldDepth; depth++ {
		if tObj, found := d.Find("T"); found {
			if t, err := ctx.DereferenceStringOrHexLiteral(tObj, model.V10, nil); err == nil && t != "" {
				parts = append([]string{t}, parts...)
			}
		}
		parentObj, found := d.Find("Parent")
		if !found {
			break
		}
		parent, err := ctx.DereferenceDict(parentObj)
		if err != nil {
			break
		}
		d = parent
	}
	return strings.Join(parts, ".")
}

func rectOf(ctx *model.Context, annot types.Dict) [4]float64 {
	var rect [4]float64
	rectObj, found := annot.Find("Rect")
	if !found {
		return rect
	}
	arr, err := ctx.DereferenceArray(rectObj)
	if err != nil || len(arr) != 4 {
		return rect
	}
	for i, coord := range arr {
		if f, err := ctx.DereferenceNumber(coord); err == nil {
			rect[i] = f
		}
	}
	return rect
}

func currentValue(ctx *model.Context, w widget) interface{} {
	vObj, found := inherited(ctx, w.field, "V")

	switch w.kind {
	case KindCheckbox:
		if !found {
			return false
		}
		name, err := ctx.DereferenceName(vObj, model.V10, nil)
		if err != nil {
			return false
		}
		return name != "" && name != "Off"
	default:
		if !found {
			return ""
		}
		if s, err := ctx.DereferenceStringOrHexLiteral(vObj, model.V10, nil); err == nil {
			return s
		}
		if name, err := ctx.DereferenceName(vObj, model.V10, nil); err == nil {
			return string(name)
		}
		return ""
	}
}
