package forms

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/unicode"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
)

// FillResult describes what Fill changed
type FillResult struct {
	Data []byte
	// Applied lists the ids that were written, sorted.
	Applied []string
}

// Fill writes values into the fields of data and returns the new document.
// Ids that do not name a field are ignored; fields without an entry keep
// their current value.
func Fill(data []byte, values ValueMap) (*FillResult, error) {
	ctx, err := Open(data)
	if err != nil {
		return nil, err
	}

	applied := make(map[string]bool)
	err = walkWidgets(ctx, func(w widget) error {
		v, ok := values[w.id]
		if !ok || v == nil {
			return nil
		}
		switch w.kind {
		case KindCheckbox:
			setCheckbox(ctx, w, Truthy(v))
		default:
			if err := setText(w, TextOf(v)); err != nil {
				return fmt.Errorf("field %q: %w", w.id, err)
			}
		}
		applied[w.id] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(applied) > 0 {
		if err := requestAppearances(ctx); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := writeContext(ctx, &buf); err != nil {
		return nil, pdferrors.NewDocumentFormat(fmt.Errorf("failed to write PDF: %w", err))
	}

	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &FillResult{Data: buf.Bytes(), Applied: ids}, nil
}

// setCheckbox selects the widget's own on-state name, falling back to Yes
// when the widget has no normal appearances.
func setCheckbox(ctx *model.Context, w widget, on bool) {
	state := types.Name("Off")
	if on {
		state = types.Name(onStateName(ctx, w.annot))
	}
	w.field.Update("V", state)
	w.annot.Update("AS", state)
}

func onStateName(ctx *model.Context, annot types.Dict) string {
	apObj, found := annot.Find("AP")
	if !found {
		return "Yes"
	}
	ap, err := ctx.DereferenceDict(apObj)
	if err != nil || ap == nil {
		return "Yes"
	}
	nObj, found := ap.Find("N")
	if !found {
		return "Yes"
	}
	n, err := ctx.DereferenceDict(nObj)
	if err != nil || n == nil {
		return "Yes"
	}
	keys := make([]string, 0, len(n))
	for k := range n {
		if k != "Off" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "Yes"
	}
	sort.Strings(keys)
	return keys[0]
}

// setText stores s on the field and drops the widget's stale appearance so
// viewers regenerate it from the value.
func setText(w widget, s string) error {
	obj, err := textObject(s)
	if err != nil {
		return err
	}
	w.field.Update("V", obj)
	w.annot.Delete("AP")
	return nil
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`, "\r", `\r`, "\n", `\n`)

// textObject encodes s as a literal string when it is plain ASCII and as a
// UTF-16BE hex string with byte order mark otherwise.
func textObject(s string) (types.Object, error) {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return types.StringLiteral(literalEscaper.Replace(s)), nil
	}

	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	utf16, err := enc.String(s)
	if err != nil {
		return nil, fmt.Errorf("encode UTF-16: %w", err)
	}
	return types.HexLiteral(hex.EncodeToString([]byte(utf16))), nil
}

func requestAppearances(ctx *model.Context) error {
	root, err := ctx.Catalog()
	if err != nil {
		return pdferrors.NewDocumentFormat(fmt.Errorf("failed to get catalog: %w", err))
	}
	acroFormObj, found := root.Find("AcroForm")
	if !found {
		return nil
	}
	acroForm, err := ctx.DereferenceDict(acroFormObj)
	if err != nil || acroForm == nil {
		return nil
	}
	acroForm.Update("NeedAppearances", types.Boolean(true))
	return nil
}

func writeContext(ctx *model.Context, buf *bytes.Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write panicked: %v", r)
		}
	}()
	return api.WriteContext(ctx, buf)
}

// Truthy decides a checkbox state from a mapped value. Strings spelling a
// negative answer are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "no", "n", "false", "off", "0", "unchecked", "none":
			return false
		}
		return true
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case fmt.Stringer:
		return Truthy(t.String())
	default:
		return true
	}
}

// TextOf renders a mapped value as the exact string written to a text field
func TextOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
