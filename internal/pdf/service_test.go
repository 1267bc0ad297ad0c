package pdf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pdftest"
	"github.com/a3tai/mcp-pdf-formfill/internal/pipeline"
)

const testMaxFileSize = 10 * 1024 * 1024

var testModels = pipeline.Models{Patient: "patient-model", Context: "context-model", Mapping: "mapping-model"}

func writeFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func twoPageForm() []byte {
	return pdftest.BuildForm(
		pdftest.Page{
			Text:    []string{"Patient First Name"},
			Widgets: []pdftest.Widget{{Name: "T1", Kind: pdftest.Text, Rect: [4]float64{150, 700, 350, 720}}},
		},
		pdftest.Page{
			Text:    []string{"Is patient a smoker?"},
			Widgets: []pdftest.Widget{{Name: "CB1", Kind: pdftest.Checkbox, Rect: [4]float64{72, 700, 86, 714}}},
		},
	)
}

// fillOracle answers every stage for twoPageForm. Page 2 mapping fails
// when brokenPage2 is set.
func fillOracle(brokenPage2 bool) oracle.Oracle {
	return oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
		page2 := strings.Contains(req.Prompt, "page 2 of")
		switch req.Model {
		case testModels.Patient:
			return `{"First_Name": "Jane", "Smoker": "yes"}`, nil
		case testModels.Context:
			if page2 {
				return `[{"name": "CB1", "question": "Is patient a smoker?", "context": "Smoking status"}]`, nil
			}
			return `{"T1": {"question": "Patient First Name", "context": "Given name"}}`, nil
		case testModels.Mapping:
			if page2 {
				if brokenPage2 {
					return "I could not decide.", nil
				}
				return `{"CB1": true}`, nil
			}
			return `{"T1": "Jane"}`, nil
		}
		return "", errors.New("unexpected model " + req.Model)
	})
}

func newTestService(t *testing.T, dir string, o oracle.Oracle) *Service {
	t.Helper()
	opts := ServiceOptions{Provider: "gemini", Models: ModelInfo{Patient: testModels.Patient}}
	if o != nil {
		opts.Runner = pipeline.NewRunner(o, pipeline.Options{Models: testModels})
	}
	svc, err := NewService(testMaxFileSize, dir, opts)
	require.NoError(t, err)
	return svc
}

func TestNewService(t *testing.T) {
	_, err := NewService(testMaxFileSize, "", ServiceOptions{})
	assert.Error(t, err)

	svc := newTestService(t, t.TempDir(), nil)
	assert.Equal(t, int64(testMaxFileSize), svc.GetMaxFileSize())
	assert.False(t, svc.CanFill())

	svc = newTestService(t, t.TempDir(), fillOracle(false))
	assert.True(t, svc.CanFill())
}

func TestService_PDFValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "form.pdf", twoPageForm())
	svc := newTestService(t, dir, nil)

	result, err := svc.PDFValidateFile(PDFValidateFileRequest{Path: "form.pdf"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, path, result.Path)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, result.FormFields)
}

func TestService_PDFFormFields(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "form.pdf", twoPageForm())
	svc := newTestService(t, dir, nil)

	result, err := svc.PDFFormFields(PDFFormFieldsRequest{Path: "form.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PageCount)
	assert.Equal(t, 2, result.TotalCount)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, result.FieldsPerPage)
	require.Len(t, result.Fields, 2)
	assert.Equal(t, "T1", result.Fields[0].ID)
	assert.Equal(t, forms.KindText, result.Fields[0].Kind)
	assert.Equal(t, "CB1", result.Fields[1].ID)
	assert.Equal(t, forms.KindCheckbox, result.Fields[1].Kind)
}

func TestService_PDFIsolatePage(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "form.pdf", twoPageForm())
	svc := newTestService(t, dir, nil)

	result, err := svc.PDFIsolatePage(PDFIsolatePageRequest{Path: "form.pdf", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "form_page2.pdf"), result.OutputPath)
	assert.False(t, result.Rasterized)

	data, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.Size)

	inv, err := forms.Extract(data)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.PageCount)

	_, err = svc.PDFIsolatePage(PDFIsolatePageRequest{Path: "form.pdf", Page: 3})
	assert.Error(t, err)
}

func TestService_PDFFillForm(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "form.pdf", twoPageForm())
	writeFixture(t, dir, "referral.pdf", pdftest.BuildForm(pdftest.TextPage("Jane Doe", "Current smoker")))
	svc := newTestService(t, dir, fillOracle(false))

	result, err := svc.PDFFillForm(context.Background(), PDFFillFormRequest{
		ReferralPath: "referral.pdf",
		FormPath:     "form.pdf",
		ReportPath:   "report.xlsx",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, filepath.Join(dir, "form_filled.pdf"), result.OutputPath)
	assert.Equal(t, 2, result.FieldCount)
	assert.Empty(t, result.PageErrors)
	assert.Equal(t, "Jane", result.Values["T1"])
	assert.Equal(t, true, result.Values["CB1"])
	assert.Contains(t, result.Summary, "Filled 2 of 2 fields.")

	filled, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	inv, err := forms.Extract(filled)
	require.NoError(t, err)
	t1, ok := inv.Lookup("T1")
	require.True(t, ok)
	assert.Equal(t, "Jane", t1.Value)

	report, err := excelize.OpenFile(result.ReportPath)
	require.NoError(t, err)
	defer report.Close()
	rows, err := report.GetRows("Fields")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestService_PDFFillForm_PageFailure(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "form.pdf", twoPageForm())
	writeFixture(t, dir, "referral.pdf", pdftest.BuildForm(pdftest.TextPage("Jane Doe")))
	svc := newTestService(t, dir, fillOracle(true))

	result, err := svc.PDFFillForm(context.Background(), PDFFillFormRequest{
		ReferralPath: "referral.pdf",
		FormPath:     "form.pdf",
		OutputPath:   "out.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"T1": "Jane"}, map[string]interface{}(result.Values))
	require.Len(t, result.PageErrors, 1)
	assert.Equal(t, 2, result.PageErrors[0].Page)
	assert.Equal(t, pdferrors.ErrorTypeMalformedResponse.String(), result.PageErrors[0].Kind)
	assert.FileExists(t, filepath.Join(dir, "out.pdf"))
}

func TestService_PDFFillForm_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "form.pdf", twoPageForm())
	writeFixture(t, dir, "referral.pdf", pdftest.BuildForm(pdftest.TextPage("Jane Doe")))
	writeFixture(t, dir, "broken.pdf", []byte("%PDF-1.7\nnot really"))

	t.Run("no oracle", func(t *testing.T) {
		svc := newTestService(t, dir, nil)
		_, err := svc.PDFFillForm(context.Background(), PDFFillFormRequest{ReferralPath: "referral.pdf", FormPath: "form.pdf"})
		assert.ErrorIs(t, err, ErrOracleNotConfigured)
	})

	t.Run("path outside directory", func(t *testing.T) {
		svc := newTestService(t, dir, fillOracle(false))
		_, err := svc.PDFFillForm(context.Background(), PDFFillFormRequest{ReferralPath: "../referral.pdf", FormPath: "form.pdf"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "security validation failed")
	})

	t.Run("unreadable form", func(t *testing.T) {
		svc := newTestService(t, dir, fillOracle(false))
		_, err := svc.PDFFillForm(context.Background(), PDFFillFormRequest{ReferralPath: "referral.pdf", FormPath: "broken.pdf"})
		require.Error(t, err)
		assert.True(t, pdferrors.IsDocumentFormat(err))
		assert.NoFileExists(t, filepath.Join(dir, "broken_filled.pdf"))
	})
}

func TestService_PDFServerInfo(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "form.pdf", twoPageForm())
	writeFixture(t, dir, "notes.txt", []byte("not a pdf"))
	writeFixture(t, dir, ".hidden.pdf", twoPageForm())
	require.NoError(t, os.Mkdir(filepath.Join(dir, "referrals"), 0o750))
	writeFixture(t, filepath.Join(dir, "referrals"), "jane.PDF", []byte("%PDF"))

	svc := newTestService(t, dir, fillOracle(false))
	info, err := svc.PDFServerInfo(context.Background(), PDFServerInfoRequest{}, "mcp-pdf-formfill", "1.2.3", dir)
	require.NoError(t, err)

	assert.Equal(t, "mcp-pdf-formfill", info.ServerName)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, dir, info.DefaultDirectory)
	assert.True(t, info.OracleConfigured)
	assert.Equal(t, "gemini", info.Provider)
	assert.Equal(t, testModels.Patient, info.Models.Patient)
	assert.False(t, info.Truncated)
	assert.Contains(t, info.UsageGuidance, "pdf_fill_form")
	assert.Contains(t, info.UsageGuidance, "10MB")

	names := make([]string, 0, len(info.DirectoryContents))
	for _, f := range info.DirectoryContents {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"form.pdf", "jane.PDF"}, names)

	tools := make([]string, 0, len(info.AvailableTools))
	for _, tool := range info.AvailableTools {
		assert.NotEmpty(t, tool.Description, tool.Name)
		tools = append(tools, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"pdf_fill_form", "pdf_form_fields", "pdf_isolate_page", "pdf_validate_file", "pdf_server_info",
	}, tools)
}

func TestDirectoryScanner_FileLimit(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		writeFixture(t, dir, name, []byte("%PDF"))
	}
	s := &directoryScanner{maxDepth: 1, fileLimit: 2, timeLimit: scanTimeLimit}
	res := s.scan(context.Background(), dir)
	assert.Len(t, res.files, 2)
	assert.True(t, res.truncated)
}

func TestSiblingPath(t *testing.T) {
	assert.Equal(t, "/srv/form_filled.pdf", siblingPath("/srv/form.pdf", "_filled"))
	assert.Equal(t, "/srv/form_page3", siblingPath("/srv/form", "_page3"))
}
