package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pages"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/security"
	"github.com/a3tai/mcp-pdf-formfill/internal/pipeline"
)

// DefaultFilePerm is the mode of every file the service writes
const DefaultFilePerm = 0o600

// ErrOracleNotConfigured is returned by PDFFillForm when the service was
// built without a pipeline runner
var ErrOracleNotConfigured = errors.New("no oracle configured: set an API key to fill forms")

// ServiceOptions carries the optional collaborators of a Service
type ServiceOptions struct {
	// Runner fills forms. Without one only the inspection tools work.
	Runner   *pipeline.Runner
	Logger   *slog.Logger
	Provider string
	Models   ModelInfo
}

// Service handles PDF file operations by orchestrating the form components
type Service struct {
	maxFileSize   int64
	validator     *Validator
	isolator      *pages.Isolator
	runner        *pipeline.Runner
	pathValidator *security.PathValidator
	logger        *slog.Logger
	provider      string
	models        ModelInfo
}

// NewService creates a new PDF service confined to configuredDirectory
func NewService(maxFileSize int64, configuredDirectory string, opts ServiceOptions) (*Service, error) {
	pathValidator, err := security.NewPathValidator(configuredDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to create path validator: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		maxFileSize:   maxFileSize,
		validator:     NewValidator(maxFileSize),
		isolator:      pages.NewIsolator(logger),
		runner:        opts.Runner,
		pathValidator: pathValidator,
		logger:        logger,
		provider:      opts.Provider,
		models:        opts.Models,
	}, nil
}

// PDFValidateFile performs validation on a PDF file
func (s *Service) PDFValidateFile(req PDFValidateFileRequest) (*PDFValidateFileResult, error) {
	path, err := s.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	req.Path = path
	return s.validator.ValidateFile(req)
}

// PDFFormFields lists the fillable fields of a form
func (s *Service) PDFFormFields(req PDFFormFieldsRequest) (*PDFFormFieldsResult, error) {
	path, err := s.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	data, err := s.validator.ReadFile(path)
	if err != nil {
		return nil, err
	}

	inventory, err := forms.Extract(data)
	if err != nil {
		return nil, err
	}

	perPage := make(map[int]int)
	for _, f := range inventory.Fields {
		perPage[f.Page]++
	}
	return &PDFFormFieldsResult{
		Path:          path,
		PageCount:     inventory.PageCount,
		Fields:        inventory.Fields,
		TotalCount:    inventory.Len(),
		FieldsPerPage: perPage,
	}, nil
}

// PDFIsolatePage writes one page of a PDF as its own document
func (s *Service) PDFIsolatePage(req PDFIsolatePageRequest) (*PDFIsolatePageResult, error) {
	path, err := s.resolve(req.Path)
	if err != nil {
		return nil, err
	}
	data, err := s.validator.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rendered, err := s.isolator.Isolate(data, req.Page)
	if err != nil {
		return nil, err
	}

	output := req.OutputPath
	if output == "" {
		output = siblingPath(path, fmt.Sprintf("_page%d", req.Page))
	}
	output, err = s.resolve(output)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(output, rendered.Data, DefaultFilePerm); err != nil {
		return nil, fmt.Errorf("write page: %w", err)
	}

	return &PDFIsolatePageResult{
		Path:       path,
		Page:       req.Page,
		OutputPath: output,
		Size:       int64(len(rendered.Data)),
		Rasterized: rendered.Fallback,
	}, nil
}

// PDFFillForm fills the form at req.FormPath from the referral at
// req.ReferralPath and writes the filled document.
func (s *Service) PDFFillForm(ctx context.Context, req PDFFillFormRequest) (*PDFFillFormResult, error) {
	if s.runner == nil {
		return nil, ErrOracleNotConfigured
	}

	formPath, err := s.resolve(req.FormPath)
	if err != nil {
		return nil, err
	}
	referralPath, err := s.resolve(req.ReferralPath)
	if err != nil {
		return nil, err
	}
	output := req.OutputPath
	if output == "" {
		output = siblingPath(formPath, "_filled")
	}
	if output, err = s.resolve(output); err != nil {
		return nil, err
	}
	report := req.ReportPath
	if report != "" {
		if report, err = s.resolve(report); err != nil {
			return nil, err
		}
	}

	form, err := s.validator.ReadFile(formPath)
	if err != nil {
		return nil, err
	}
	referral, err := s.validator.ReadFile(referralPath)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, pipeline.Input{Referral: referral, Form: form})
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(output, res.Filled, DefaultFilePerm); err != nil {
		return nil, fmt.Errorf("write filled form: %w", err)
	}
	if report != "" {
		data, err := pipeline.WriteReport(res)
		if err != nil {
			return nil, fmt.Errorf("build report: %w", err)
		}
		if err := os.WriteFile(report, data, DefaultFilePerm); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}

	result := &PDFFillFormResult{
		RunID:        res.RunID,
		FormPath:     formPath,
		ReferralPath: referralPath,
		OutputPath:   output,
		ReportPath:   report,
		FieldCount:   res.Inventory.Len(),
		Values:       res.Values,
		Applied:      res.Applied,
		Duplicates:   res.Duplicates,
	}
	for _, p := range res.Pages {
		if p.Err != nil {
			result.PageErrors = append(result.PageErrors, PageError{
				Page:    p.Page,
				Kind:    pdferrors.TypeOf(p.Err).String(),
				Message: p.Err.Error(),
			})
		}
	}
	result.Summary = fmt.Sprintf("Filled %d of %d fields. %s",
		len(res.Applied), result.FieldCount, res.Errors.Summary())

	s.logger.Info("service.fill.done",
		"run_id", res.RunID,
		"output", output,
		"applied", len(res.Applied),
		"failed_pages", len(result.PageErrors))
	return result, nil
}

// GetMaxFileSize returns the maximum file size limit
func (s *Service) GetMaxFileSize() int64 {
	return s.maxFileSize
}

// CanFill reports whether the service has an oracle to fill forms with
func (s *Service) CanFill() bool {
	return s.runner != nil
}

// resolve makes path absolute against the configured directory and
// confines it there
func (s *Service) resolve(path string) (string, error) {
	resolved, err := s.pathValidator.SanitizePath(path)
	if err != nil {
		return "", fmt.Errorf("security validation failed: %w", err)
	}
	return resolved, nil
}

// siblingPath returns path with suffix inserted before its extension
func siblingPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}
