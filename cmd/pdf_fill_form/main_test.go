package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pdftest"
)

func formFixture() []byte {
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

// execute runs the CLI against a fresh viper instance and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range []string{"GEMINI_API_KEY", "ANTHROPIC_API_KEY", "MCP_FORMFILL_APIKEY"} {
		t.Setenv(key, "")
	}

	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setup(t *testing.T) (dir, form, referral string) {
	t.Helper()
	dir = t.TempDir()
	form = filepath.Join(dir, "form.pdf")
	referral = filepath.Join(dir, "referral.pdf")
	require.NoError(t, os.WriteFile(form, formFixture(), 0o600))
	require.NoError(t, os.WriteFile(referral, pdftest.BuildForm(pdftest.TextPage("Jane Doe", "Non smoker")), 0o600))
	return dir, form, referral
}

func stubOracle(_ *config.Config, _ *slog.Logger) (oracle.Oracle, error) {
	return oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
		page2 := strings.Contains(req.Prompt, "page 2 of")
		switch {
		case strings.Contains(req.Prompt, "annotating"):
			if page2 {
				return `[{"name": "CB1", "question": "Is patient a smoker?", "context": "Smoking status"}]`, nil
			}
			return `{"T1": {"question": "Patient First Name", "context": "Given name"}}`, nil
		case strings.Contains(req.Prompt, "You are filling"):
			if page2 {
				return `{"CB1": false}`, nil
			}
			return `{"T1": "Jane"}`, nil
		default:
			return `{"First_Name": "Jane", "Smoker": false}`, nil
		}
	}), nil
}

func useOracle(t *testing.T, fn func(*config.Config, *slog.Logger) (oracle.Oracle, error)) {
	t.Helper()
	original := newOracle
	newOracle = fn
	t.Cleanup(func() { newOracle = original })
}

func TestFieldsCommand(t *testing.T) {
	dir, form, _ := setup(t)

	out, err := execute(t, "fields", form, "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 fields on 2 pages")
	assert.Contains(t, out, "page 1\ttext\tT1")
	assert.Contains(t, out, "page 2\tcheckbox\tCB1")

	out, err = execute(t, "fields", form, "--dir", dir, "--format", "json")
	require.NoError(t, err)
	var inv forms.Inventory
	require.NoError(t, json.Unmarshal([]byte(out), &inv))
	assert.Equal(t, 2, inv.Len())

	_, err = execute(t, "fields", form, "--dir", dir, "--format", "yaml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestPageCommand(t *testing.T) {
	dir, form, _ := setup(t)

	out, err := execute(t, "page", form, "--dir", dir, "--page", "2")
	require.NoError(t, err)
	target := filepath.Join(dir, "form_page2.pdf")
	assert.Contains(t, out, target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	inv, err := forms.Extract(data)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.PageCount)

	_, err = execute(t, "page", form, "--dir", dir, "--page", "0")
	assert.Error(t, err)
}

func TestFillCommand(t *testing.T) {
	useOracle(t, stubOracle)
	dir, form, referral := setup(t)
	out := filepath.Join(dir, "done.pdf")
	report := filepath.Join(dir, "report.xlsx")

	stdout, err := execute(t, "fill", "--dir", dir,
		"--referral", referral, "--form", form, "--out", out, "--report", report)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Filled 2 of 2 fields into "+out)
	assert.FileExists(t, report)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	inv, err := forms.Extract(data)
	require.NoError(t, err)
	t1, ok := inv.Lookup("T1")
	require.True(t, ok)
	assert.Equal(t, "Jane", t1.Value)
}

func TestFillCommand_Errors(t *testing.T) {
	dir, form, referral := setup(t)

	t.Run("no oracle", func(t *testing.T) {
		_, err := execute(t, "fill", "--dir", dir, "--referral", referral, "--form", form)
		assert.ErrorIs(t, err, pdf.ErrOracleNotConfigured)
	})

	t.Run("missing flags", func(t *testing.T) {
		_, err := execute(t, "fill", "--dir", dir, "--form", form)
		assert.ErrorContains(t, err, "referral")
	})

	t.Run("oracle construction fails", func(t *testing.T) {
		useOracle(t, func(*config.Config, *slog.Logger) (oracle.Oracle, error) {
			return nil, errors.New("bad provider")
		})
		_, err := execute(t, "fill", "--dir", dir, "--referral", referral, "--form", form)
		assert.ErrorContains(t, err, "bad provider")
	})

	t.Run("missing referral", func(t *testing.T) {
		useOracle(t, stubOracle)
		_, err := execute(t, "fill", "--dir", dir, "--referral", filepath.Join(dir, "nope.pdf"), "--form", form)
		assert.ErrorContains(t, err, "file does not exist")
		assert.NoFileExists(t, filepath.Join(dir, "form_filled.pdf"))
	})
}
