package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/quasijson"
)

// ExtractPatientInfo asks the oracle for every patient detail in referral
// that could answer a question on form. Both documents are attached,
// referral first. Any failure here is fatal to a run.
func ExtractPatientInfo(ctx context.Context, o oracle.Oracle, model string, prompts *Prompts, referral, form []byte) (quasijson.Object, error) {
	prompt, err := prompts.patient()
	if err != nil {
		return nil, err
	}

	text, err := o.Invoke(ctx, oracle.Request{
		Model:       model,
		Attachments: []oracle.Attachment{oracle.PDF(referral), oracle.PDF(form)},
		Prompt:      prompt,
	})
	if err != nil {
		return nil, oracleError(err, "patient info")
	}

	info, err := quasijson.DecodeObject(text)
	if err != nil {
		return nil, withStage(err, "patient info")
	}
	if err := quasijson.Validate(quasijson.ObjectSchema, quasijson.ObjectValue(info)); err != nil {
		return nil, pdferrors.NewMalformedResponse(err.Error()).WithContext("patient info")
	}
	return info, nil
}

// oracleError classifies a transport failure. Errors that already carry a
// type keep it.
func oracleError(err error, stage string) error {
	if pdferrors.TypeOf(err) != pdferrors.ErrorTypeUnknown {
		return withStage(err, stage)
	}
	return pdferrors.WrapError(pdferrors.ErrorTypeOracle, err).WithContext(stage)
}

// withStage tags a typed error with the stage it came from, keeping any
// detail already in its context after the stage name
func withStage(err error, stage string) error {
	var e *pdferrors.Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Context == "" {
		e.WithContext(stage)
	} else if !strings.HasPrefix(e.Context, stage+": ") {
		e.WithContext(stage + ": " + e.Context)
	}
	return err
}
