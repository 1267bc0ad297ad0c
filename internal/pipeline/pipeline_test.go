package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pdftest"
)

var testModels = Models{Patient: "patient-model", Context: "context-model", Mapping: "mapping-model"}

// stubOracle answers by role and page. Page answers are keyed on the page
// number the prompt names.
type stubOracle struct {
	mu       sync.Mutex
	calls    []oracle.Request
	patient  func() (string, error)
	annotate map[int]string
	mapping  map[int]string
	failMap  map[int]error
}

func (s *stubOracle) Invoke(ctx context.Context, req oracle.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch req.Model {
	case testModels.Patient:
		return s.patient()
	case testModels.Context:
		return s.annotate[promptPage(req.Prompt)], nil
	case testModels.Mapping:
		page := promptPage(req.Prompt)
		if err := s.failMap[page]; err != nil {
			return "", err
		}
		return s.mapping[page], nil
	}
	return "", fmt.Errorf("unexpected model %q", req.Model)
}

func (s *stubOracle) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func promptPage(prompt string) int {
	for p := 1; p < 100; p++ {
		if strings.Contains(prompt, fmt.Sprintf("page %d of", p)) {
			return p
		}
	}
	return 0
}

func smokerForm() []byte {
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

func referral() []byte {
	return pdftest.BuildForm(pdftest.TextPage("Referral for Jane Doe", "Current smoker"))
}

func newSmokerOracle() *stubOracle {
	return &stubOracle{
		patient: func() (string, error) {
			return "Here is what I found:\n```json\n{\"patient_info\": {\"First_Name\": \"Jane\", \"Smoker\": true,}}\n```", nil
		},
		annotate: map[int]string{
			1: `{"T1": {"name": "T1", "page": 1, "question": "Patient First Name", "context": "The patient's given name"}}`,
			2: `[{"name": "CB1", "page": 2, "question": "Is patient a smoker?", "context": "Smoking status of the patient"}]`,
		},
		mapping: map[int]string{
			1: `{"T1": "Jane"}`,
			2: "{CB1: true}",
		},
	}
}

func filledValues(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	inv, err := forms.Extract(data)
	require.NoError(t, err)
	out := make(map[string]interface{})
	for _, f := range inv.Fields {
		out[f.ID] = f.Value
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	stub := newSmokerOracle()
	runner := NewRunner(stub, Options{Models: testModels})

	res, err := runner.Run(context.Background(), Input{Referral: referral(), Form: smokerForm()})
	require.NoError(t, err)

	assert.Equal(t, forms.ValueMap{"T1": "Jane", "CB1": true}, res.Values)
	assert.Equal(t, []string{"CB1", "T1"}, res.Applied)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Duplicates)

	errCount, warnCount := res.Errors.Count()
	assert.Zero(t, errCount)
	assert.Zero(t, warnCount)

	got := filledValues(t, res.Filled)
	assert.Equal(t, "Jane", got["T1"])
	assert.Equal(t, true, got["CB1"])

	info, ok := res.PatientInfo["patient_info"].Object()
	require.True(t, ok)
	assert.Equal(t, "Jane", info["First_Name"].Text())

	require.Len(t, res.Pages, 2)
	assert.Equal(t, "Patient First Name", res.Pages[0].Annotated[0].Question)
	assert.Equal(t, "Is patient a smoker?", res.Pages[1].Annotated[0].Question)

	// one patient call, then two calls per page
	assert.Equal(t, 5, stub.callCount())
	first := stub.calls[0]
	assert.Equal(t, testModels.Patient, first.Model)
	require.Len(t, first.Attachments, 2)
	assert.Equal(t, oracle.PDF(referral()).MIMEType, first.Attachments[0].MIMEType)
	for _, call := range stub.calls[1:] {
		assert.Len(t, call.Attachments, 1)
	}
}

func TestRun_MalformedPageIsSkipped(t *testing.T) {
	stub := newSmokerOracle()
	stub.annotate[1] = "Sorry, I can't read this page."

	res, err := NewRunner(stub, Options{Models: testModels}).
		Run(context.Background(), Input{Referral: referral(), Form: smokerForm()})
	require.NoError(t, err)

	assert.Equal(t, forms.ValueMap{"CB1": true}, res.Values)
	assert.Equal(t, []int{1}, res.Errors.Pages())
	assert.True(t, pdferrors.IsMalformedResponse(res.Pages[0].Err))

	got := filledValues(t, res.Filled)
	assert.Equal(t, "", got["T1"])
	assert.Equal(t, true, got["CB1"])
}

func TestRun_OracleFailureOnPage(t *testing.T) {
	stub := newSmokerOracle()
	stub.failMap = map[int]error{2: errors.New("quota exceeded")}

	res, err := NewRunner(stub, Options{Models: testModels}).
		Run(context.Background(), Input{Referral: referral(), Form: smokerForm()})
	require.NoError(t, err)

	assert.Equal(t, forms.ValueMap{"T1": "Jane"}, res.Values)
	assert.Equal(t, []int{2}, res.Errors.Pages())
	assert.True(t, pdferrors.IsOracle(res.Pages[1].Err))
	assert.Contains(t, res.Pages[1].Err.Error(), "quota exceeded")
}

func TestRun_PatientInfoFailureAborts(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		err     error
		checkFn func(error) bool
	}{
		{"no json", "I could not find any patient details.", nil, pdferrors.IsMalformedResponse},
		{"not an object after repair", `{"patient_info": {"name": Jane}}`, nil, pdferrors.IsMalformedResponse},
		{"transport", "", errors.New("connection reset"), pdferrors.IsOracle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newSmokerOracle()
			stub.patient = func() (string, error) { return tt.answer, tt.err }

			res, err := NewRunner(stub, Options{Models: testModels}).
				Run(context.Background(), Input{Referral: referral(), Form: smokerForm()})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, tt.checkFn(err), "unexpected error kind: %v", err)
			// no page work after a failed extraction
			assert.Equal(t, 1, stub.callCount())
		})
	}
}

func TestRun_UnreadableDocumentsAbortBeforeOracle(t *testing.T) {
	tests := []struct {
		name  string
		input Input
	}{
		{"form", Input{Referral: referral(), Form: []byte("not a pdf")}},
		{"referral", Input{Referral: []byte("not a pdf"), Form: smokerForm()}},
		{"empty form", Input{Referral: referral()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newSmokerOracle()
			_, err := NewRunner(stub, Options{Models: testModels}).Run(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, pdferrors.IsDocumentFormat(err))
			assert.Zero(t, stub.callCount())
		})
	}
}

func TestRun_FormWithoutFields(t *testing.T) {
	stub := newSmokerOracle()
	form := pdftest.BuildForm(pdftest.TextPage("Nothing to fill"))

	res, err := NewRunner(stub, Options{Models: testModels}).
		Run(context.Background(), Input{Referral: referral(), Form: form})
	require.NoError(t, err)
	assert.Empty(t, res.Values)
	assert.Empty(t, res.Pages)
	assert.Equal(t, 1, stub.callCount())
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(newSmokerOracle(), Options{Models: testModels}).
		Run(ctx, Input{Referral: referral(), Form: smokerForm()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CanceledAfterPatientInfo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := newSmokerOracle()
	answer := stub.patient
	stub.patient = func() (string, error) {
		cancel()
		return answer()
	}

	res, err := NewRunner(stub, Options{Models: testModels, Workers: 1}).
		Run(ctx, Input{Referral: referral(), Form: smokerForm()})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	// pages queued after cancellation never reach the oracle
	assert.Equal(t, 1, stub.callCount())
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	const pageCount = 6
	formPages := make([]pdftest.Page, pageCount)
	stub := &stubOracle{
		patient:  func() (string, error) { return `{"patient_info": {"Name": "Jane"}}`, nil },
		annotate: make(map[int]string),
		mapping:  make(map[int]string),
	}
	for i := range formPages {
		p := i + 1
		id := fmt.Sprintf("F%d", p)
		formPages[i] = pdftest.Page{Widgets: []pdftest.Widget{
			{Name: id, Kind: pdftest.Text, Rect: [4]float64{72, 700, 300, 720}},
		}}
		stub.annotate[p] = fmt.Sprintf(`{%q: {"question": "Line %d", "context": "patient"}}`, id, p)
		stub.mapping[p] = fmt.Sprintf(`{%q: "value %d"}`, id, p)
	}
	// page 4 supplies nothing
	stub.mapping[4] = `{}`
	form := pdftest.BuildForm(formPages...)

	sequential, err := NewRunner(stub, Options{Models: testModels, Workers: 1}).
		Run(context.Background(), Input{Referral: referral(), Form: form})
	require.NoError(t, err)

	parallel, err := NewRunner(stub, Options{Models: testModels, Workers: 4}).
		Run(context.Background(), Input{Referral: referral(), Form: form})
	require.NoError(t, err)

	assert.Len(t, sequential.Values, pageCount-1)
	assert.Equal(t, sequential.Values, parallel.Values)
	assert.Equal(t, sequential.Applied, parallel.Applied)
	for i, p := range parallel.Pages {
		assert.Equal(t, i+1, p.Page)
	}
	assert.Equal(t, filledValues(t, sequential.Filled), filledValues(t, parallel.Filled))
}
