// Package pages cuts a single page out of a PDF into a standalone document
// that can be attached to an oracle request.
package pages

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// MIMEType of every rendered page
const MIMEType = "application/pdf"

// Rendered is a single-page document produced from one page of a source
type Rendered struct {
	Data []byte
	Page int
	// Fallback is set when the page was rasterized because its structure
	// could not be copied.
	Fallback bool
}

// Isolator extracts single pages. The zero value is not usable; call
// NewIsolator.
type Isolator struct {
	logger     *slog.Logger
	structural func(data []byte, pageNr int) ([]byte, error)
	raster     func(data []byte, pageNr int) ([]byte, error)
}

// NewIsolator creates an Isolator that logs fallbacks to logger
func NewIsolator(logger *slog.Logger) *Isolator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Isolator{
		logger:     logger,
		structural: copyPage,
		raster:     rasterPage,
	}
}

// Isolate returns page pageNr (1-based) of data as its own document. A
// structural copy is tried first, with form widgets removed. If that fails
// in any way the page is rasterized instead; copy failures are never
// returned. Errors are limited to an unreadable document or an invalid
// page number.
func (is *Isolator) Isolate(data []byte, pageNr int) (*Rendered, error) {
	count, err := PageCount(data)
	if err != nil {
		return nil, err
	}
	if pageNr < 1 || pageNr > count {
		return nil, pdferrors.NewError(pdferrors.ErrorTypeInvalidPage,
			fmt.Sprintf("page %d out of range (document has %d pages)", pageNr, count))
	}

	out, err := safeCall(is.structural, data, pageNr)
	if err == nil {
		return &Rendered{Data: out, Page: pageNr}, nil
	}

	is.logger.Warn("pages.isolate.fallback", "page", pageNr, "error", err)

	out, rerr := safeCall(is.raster, data, pageNr)
	if rerr != nil {
		return nil, pdferrors.WrapError(pdferrors.ErrorTypePageIsolation, rerr).
			WithPage(pageNr).
			WithContext(fmt.Sprintf("structural copy failed first: %v", err))
	}
	return &Rendered{Data: out, Page: pageNr, Fallback: true}, nil
}

// PageCount returns the number of pages in data
func PageCount(data []byte) (int, error) {
	ctx, err := forms.Open(data)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

func safeCall(fn func([]byte, int) ([]byte, error), data []byte, pageNr int) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(data, pageNr)
}

// copyPage builds a new document holding only pageNr, without widget
// annotations or a form dictionary.
func copyPage(data []byte, pageNr int) ([]byte, error) {
	ctx, err := forms.Open(data)
	if err != nil {
		return nil, err
	}

	pageCtx, err := pdfcpu.ExtractPages(ctx, []int{pageNr}, false)
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", pageNr, err)
	}
	if pageCtx == nil {
		return nil, fmt.Errorf("extract page %d: empty result", pageNr)
	}
	// the extracted context has no page count until the tree is walked
	if err := pageCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("count extracted pages: %w", err)
	}

	if err := stripWidgets(pageCtx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pageCtx, &buf); err != nil {
		return nil, fmt.Errorf("write page %d: %w", pageNr, err)
	}
	return buf.Bytes(), nil
}

func stripWidgets(ctx *model.Context) error {
	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil {
		return fmt.Errorf("read extracted page: %w", err)
	}

	if annotsObj, found := pageDict.Find("Annots"); found {
		annots, err := ctx.DereferenceArray(annotsObj)
		if err != nil {
			return fmt.Errorf("read annotations: %w", err)
		}
		kept := make(types.Array, 0, len(annots))
		for _, obj := range annots {
			annot, err := ctx.DereferenceDict(obj)
			if err != nil || annot == nil {
				continue
			}
			if subtype := annot.NameEntry("Subtype"); subtype != nil && *subtype == "Widget" {
				continue
			}
			kept = append(kept, obj)
		}
		if len(kept) == 0 {
			pageDict.Delete("Annots")
		} else {
			pageDict.Update("Annots", kept)
		}
	}

	root, err := ctx.Catalog()
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	root.Delete("AcroForm")
	return nil
}
