// Package pipeline turns a referral document and a blank form into a filled
// form. Patient details are extracted once, then every page of the form is
// annotated and mapped on its own, and the page results are folded into a
// single value map that is written back onto the form.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pages"
	"github.com/a3tai/mcp-pdf-formfill/internal/quasijson"
)

// Models names the oracle model used for each role. Empty names fall back
// to the client's default model.
type Models struct {
	Patient string
	Context string
	Mapping string
}

// Options configures a Runner
type Options struct {
	Models Models
	// Workers bounds how many pages are processed at once. Values below 2
	// process pages one at a time in ascending order.
	Workers int
	Prompts *Prompts
	Logger  *slog.Logger
}

// Runner executes fill runs against one oracle
type Runner struct {
	oracle   oracle.Oracle
	models   Models
	workers  int
	prompts  *Prompts
	logger   *slog.Logger
	isolator *pages.Isolator
}

// NewRunner creates a Runner
func NewRunner(o oracle.Oracle, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	prompts := opts.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		oracle:   o,
		models:   opts.Models,
		workers:  workers,
		prompts:  prompts,
		logger:   logger,
		isolator: pages.NewIsolator(logger),
	}
}

// Input holds the two documents of a run
type Input struct {
	Referral []byte
	Form     []byte
}

// PageResult records what happened to one page of the form
type PageResult struct {
	Page      int              `json:"page"`
	Fields    int              `json:"fields"`
	Annotated []AnnotatedField `json:"annotated,omitempty"`
	Values    forms.ValueMap   `json:"values,omitempty"`
	Fallback  bool             `json:"fallback,omitempty"`
	Err       error            `json:"-"`
	Duration  time.Duration    `json:"duration"`
}

// Result is the outcome of a completed run
type Result struct {
	RunID       string                     `json:"run_id"`
	Filled      []byte                     `json:"-"`
	Values      forms.ValueMap             `json:"values"`
	Applied     []string                   `json:"applied"`
	Inventory   *forms.Inventory           `json:"inventory"`
	PatientInfo quasijson.Object           `json:"patient_info"`
	Pages       []PageResult               `json:"pages"`
	Errors      *pdferrors.ErrorCollection `json:"errors"`
	Duplicates  map[string][]int           `json:"duplicates,omitempty"`
}

// Run fills in.Form from in.Referral. Unreadable documents and a failed
// patient-info extraction abort the run before any page work. Failures of
// a single page only drop that page's contribution and are recorded in
// Result.Errors.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	start := time.Now()

	formCtx, err := forms.Open(in.Form)
	if err != nil {
		return nil, withStage(err, "form document")
	}
	if _, err := forms.Open(in.Referral); err != nil {
		return nil, withStage(err, "referral document")
	}
	inventory, err := forms.ExtractFromContext(formCtx)
	if err != nil {
		return nil, withStage(err, "form document")
	}

	logger.Info("pipeline.run.start",
		"fields", inventory.Len(),
		"pages", inventory.PageCount,
		"workers", r.workers)

	patient, err := ExtractPatientInfo(ctx, r.oracle, r.models.Patient, r.prompts, in.Referral, in.Form)
	if err != nil {
		logger.Error("pipeline.patient_info.failed", "error", err)
		return nil, err
	}
	logger.Info("pipeline.patient_info.done", "keys", len(patient))

	// patient is complete and read-only from here on
	byPage := inventory.ByPage()
	pageNrs := inventory.Pages()
	results := make([]PageResult, len(pageNrs))

	// page failures land in results and never stop the group; only
	// cancellation comes back through Wait
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, pageNr := range pageNrs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r.processPage(ctx, logger, in.Form, pageNr, byPage[pageNr], patient)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("run canceled: %w", err)
	}

	errs := pdferrors.NewErrorCollection("")
	parts := make([]PartialMap, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			errs.AddError(res.Err, res.Page)
			continue
		}
		parts = append(parts, PartialMap{Page: res.Page, Values: res.Values})
	}
	merged := Fold(parts)
	for id, pageList := range merged.Duplicates {
		logger.Warn("pipeline.fold.duplicate", "field", id, "pages", pageList)
	}

	filled, err := forms.Fill(in.Form, merged.Values)
	if err != nil {
		return nil, withStage(err, "fill")
	}

	logger.Info("pipeline.fill.done",
		"mapped", len(merged.Values),
		"applied", len(filled.Applied),
		"failed_pages", len(errs.Pages()),
		"duration", time.Since(start))

	return &Result{
		RunID:       runID,
		Filled:      filled.Data,
		Values:      merged.Values,
		Applied:     filled.Applied,
		Inventory:   inventory,
		PatientInfo: patient,
		Pages:       results,
		Errors:      errs,
		Duplicates:  merged.Duplicates,
	}, nil
}

// processPage runs isolation, annotation and mapping for one page. The
// rendered page lives only for the duration of this call.
func (r *Runner) processPage(ctx context.Context, logger *slog.Logger, form []byte, pageNr int, fields []forms.FieldDescriptor, patient quasijson.Object) PageResult {
	start := time.Now()
	res := PageResult{Page: pageNr, Fields: len(fields)}
	logger = logger.With("page", pageNr)

	fail := func(err error) PageResult {
		res.Err = err
		res.Duration = time.Since(start)
		logger.Warn("pipeline.page.skipped",
			"kind", pdferrors.TypeOf(err).String(),
			"error", err)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	logger.Debug("pipeline.page.start", "fields", len(fields))

	rendered, err := r.isolator.Isolate(form, pageNr)
	if err != nil {
		return fail(err)
	}
	res.Fallback = rendered.Fallback

	annotated, err := Annotate(ctx, r.oracle, r.models.Context, r.prompts, pageNr, fields, rendered)
	if err != nil {
		return fail(err)
	}
	res.Annotated = annotated

	values, err := Map(ctx, r.oracle, r.models.Mapping, r.prompts, pageNr, annotated, patient, rendered)
	if err != nil {
		return fail(err)
	}
	res.Values = values
	res.Duration = time.Since(start)

	logger.Info("pipeline.page.done",
		"annotated", len(annotated),
		"mapped", len(values),
		"fallback", rendered.Fallback,
		"duration", res.Duration)
	return res
}
