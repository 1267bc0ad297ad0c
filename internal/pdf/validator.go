package pdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// Validator handles PDF file validation operations
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new PDF validator with the specified constraints
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// ValidateFile performs validation on a PDF file. Problems with the file
// are reported in the result, not as an error.
func (v *Validator) ValidateFile(req PDFValidateFileRequest) (*PDFValidateFileResult, error) {
	result := &PDFValidateFileResult{
		Path:  req.Path,
		Valid: false,
	}

	pages, err := v.validatePDFFile(req.Path)
	if err != nil {
		result.Message = err.Error()
		return result, nil //nolint:nilerr // Return result with validation error, not a processing error
	}
	result.Pages = pages

	data, err := os.ReadFile(req.Path)
	if err != nil {
		result.Message = fmt.Sprintf("cannot read file: %v", err)
		return result, nil //nolint:nilerr // Same as above
	}
	inventory, err := forms.Extract(data)
	if err != nil {
		result.Message = err.Error()
		return result, nil //nolint:nilerr // Same as above
	}

	result.Valid = true
	result.FormFields = inventory.Len()
	return result, nil
}

// ReadFile validates path and returns its contents. Any failure is a
// DocumentFormat error.
func (v *Validator) ReadFile(path string) ([]byte, error) {
	if _, err := v.validatePDFFile(path); err != nil {
		return nil, pdferrors.NewDocumentFormat(err).WithContext(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pdferrors.NewDocumentFormat(err).WithContext(path)
	}
	return data, nil
}

// validatePDFFile performs detailed validation on a PDF file and returns
// its page count
func (v *Validator) validatePDFFile(filePath string) (int, error) {
	if filePath == "" {
		return 0, fmt.Errorf("path cannot be empty")
	}

	// Check if file exists and get basic info
	fileInfo, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("file does not exist: %s", filePath)
	}
	if err != nil {
		return 0, fmt.Errorf("cannot access file: %w", err)
	}

	if err := v.ValidateFileInfo(filePath, fileInfo); err != nil {
		return 0, err
	}

	// Try to open the PDF to validate it's a valid PDF file
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("invalid PDF file: %w", err)
	}
	defer f.Close()

	return r.NumPage(), nil
}

// IsValidPDF performs a quick check to see if a file is a valid PDF
func (v *Validator) IsValidPDF(filePath string) bool {
	_, err := v.validatePDFFile(filePath)
	return err == nil
}

// ValidateFileInfo performs basic validation on file info without opening the PDF
func (v *Validator) ValidateFileInfo(filePath string, fileInfo os.FileInfo) error {
	if fileInfo.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return fmt.Errorf("file is not a PDF: %s", filePath)
	}

	if fileInfo.Size() == 0 {
		return fmt.Errorf("file is empty: %s", filePath)
	}

	if fileInfo.Size() > v.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)",
			fileInfo.Size(), v.maxFileSize)
	}

	return nil
}
