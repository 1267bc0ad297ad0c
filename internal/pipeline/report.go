package pipeline

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// Field statuses reported in the workbook
const (
	StatusFilled      = "filled"
	StatusUnmapped    = "unmapped"
	StatusUnannotated = "unannotated"
	StatusPageFailed  = "page failed"
)

const (
	fieldsSheet  = "Fields"
	patientSheet = "Patient"
)

// FieldStatus describes how one field of the inventory fared in a run
type FieldStatus struct {
	forms.FieldDescriptor
	Question string
	Context  string
	Mapped   interface{}
	Status   string
	Error    string
}

// Statuses lists every inventory field in inventory order with its outcome
func (res *Result) Statuses() []FieldStatus {
	byPage := make(map[int]PageResult, len(res.Pages))
	for _, p := range res.Pages {
		byPage[p.Page] = p
	}

	out := make([]FieldStatus, 0, res.Inventory.Len())
	for _, f := range res.Inventory.Fields {
		st := FieldStatus{FieldDescriptor: f}
		page := byPage[f.Page]

		switch {
		case page.Err != nil:
			st.Status = StatusPageFailed
			st.Error = page.Err.Error()
		default:
			annotated := false
			for _, a := range page.Annotated {
				if a.ID == f.ID {
					st.Question, st.Context = a.Question, a.Context
					annotated = true
					break
				}
			}
			v, mapped := res.Values[f.ID]
			switch {
			case mapped:
				st.Mapped = v
				st.Status = StatusFilled
			case annotated:
				st.Status = StatusUnmapped
			default:
				st.Status = StatusUnannotated
			}
		}
		out = append(out, st)
	}
	return out
}

// WriteReport renders the run as an XLSX workbook: one row per field on the
// Fields sheet and the flattened patient details on the Patient sheet.
func WriteReport(res *Result) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", fieldsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(patientSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	activeIndex, _ := f.GetSheetIndex(fieldsSheet)
	f.SetActiveSheet(activeIndex)

	writeRow(f, fieldsSheet, 1, "Page", "Field", "Type", "Question", "Context", "Value", "Status", "Error")
	for i, st := range res.Statuses() {
		value := ""
		if st.Mapped != nil {
			value = forms.TextOf(st.Mapped)
		}
		writeRow(f, fieldsSheet, i+2, st.Page, st.ID, string(st.Kind), st.Question, st.Context, value, st.Status, st.Error)
	}
	_ = f.SetColWidth(fieldsSheet, "A", "A", 6)
	_ = f.SetColWidth(fieldsSheet, "B", "B", 28)
	_ = f.SetColWidth(fieldsSheet, "C", "C", 10)
	_ = f.SetColWidth(fieldsSheet, "D", "E", 48)
	_ = f.SetColWidth(fieldsSheet, "F", "F", 28)
	_ = f.SetColWidth(fieldsSheet, "G", "G", 12)
	_ = f.SetColWidth(fieldsSheet, "H", "H", 60)

	flat := res.PatientInfo.Flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeRow(f, patientSheet, 1, "Key", "Value")
	for i, k := range keys {
		writeRow(f, patientSheet, i+2, k, flat[k])
	}
	_ = f.SetColWidth(patientSheet, "A", "A", 36)
	_ = f.SetColWidth(patientSheet, "B", "B", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
