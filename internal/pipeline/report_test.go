package pipeline

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pdftest"
)

func reportForm() []byte {
	return pdftest.BuildForm(
		pdftest.Page{Widgets: []pdftest.Widget{
			{Name: "T1", Kind: pdftest.Text, Rect: [4]float64{150, 700, 350, 720}},
			{Name: "T2", Kind: pdftest.Text, Rect: [4]float64{150, 670, 350, 690}},
			{Name: "T3", Kind: pdftest.Text, Rect: [4]float64{150, 640, 350, 660}},
		}},
		pdftest.Page{Widgets: []pdftest.Widget{
			{Name: "CB1", Kind: pdftest.Checkbox, Rect: [4]float64{72, 700, 86, 714}},
		}},
	)
}

func reportRun(t *testing.T) *Result {
	t.Helper()
	stub := &stubOracle{
		patient: func() (string, error) {
			return `{"patient_info": {"First_Name": "Jane", "Address": {"City": "Springfield"}}}`, nil
		},
		annotate: map[int]string{
			1: `{"T1": {"question": "First name", "context": "Patient"}, "T2": {"question": "Insurer", "context": "Plan"}}`,
			2: "not json",
		},
		mapping: map[int]string{1: `{"T1": "Jane"}`},
	}
	res, err := NewRunner(stub, Options{Models: testModels}).
		Run(context.Background(), Input{Referral: referral(), Form: reportForm()})
	require.NoError(t, err)
	return res
}

func TestResult_Statuses(t *testing.T) {
	statuses := reportRun(t).Statuses()
	require.Len(t, statuses, 4)

	byID := make(map[string]FieldStatus)
	for _, st := range statuses {
		byID[st.ID] = st
	}
	assert.Equal(t, StatusFilled, byID["T1"].Status)
	assert.Equal(t, "Jane", byID["T1"].Mapped)
	assert.Equal(t, "First name", byID["T1"].Question)
	assert.Equal(t, StatusUnmapped, byID["T2"].Status)
	assert.Equal(t, StatusUnannotated, byID["T3"].Status)
	assert.Equal(t, StatusPageFailed, byID["CB1"].Status)
	assert.NotEmpty(t, byID["CB1"].Error)
}

func TestWriteReport(t *testing.T) {
	data, err := WriteReport(reportRun(t))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{fieldsSheet, patientSheet}, f.GetSheetList())

	rows, err := f.GetRows(fieldsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"Page", "Field", "Type", "Question", "Context", "Value", "Status", "Error"}, rows[0])
	assert.Equal(t, []string{"1", "T1", "text", "First name", "Patient", "Jane", StatusFilled}, rows[1])
	assert.Equal(t, "CB1", rows[4][1])
	assert.Equal(t, StatusPageFailed, rows[4][6])

	patient, err := f.GetRows(patientSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Key", "Value"},
		{"patient_info.Address.City", "Springfield"},
		{"patient_info.First_Name", "Jane"},
	}, patient)
}
