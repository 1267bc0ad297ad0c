package pdf

import (
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// FileInfo represents information about a PDF file
type FileInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

// Request Types

// PDFValidateFileRequest represents a request to validate a PDF file
type PDFValidateFileRequest struct {
	Path string `json:"path"`
}

// PDFFormFieldsRequest represents a request to list the fillable fields of a form
type PDFFormFieldsRequest struct {
	Path string `json:"path"`
}

// PDFIsolatePageRequest represents a request to cut one page out of a PDF
type PDFIsolatePageRequest struct {
	Path       string `json:"path"`
	Page       int    `json:"page"`
	OutputPath string `json:"output_path,omitempty"`
}

// PDFFillFormRequest represents a request to fill a form from a referral
type PDFFillFormRequest struct {
	ReferralPath string `json:"referral_path"`
	FormPath     string `json:"form_path"`
	// OutputPath defaults to <form>_filled.pdf next to the form.
	OutputPath string `json:"output_path,omitempty"`
	// ReportPath, when set, receives an xlsx report of the run.
	ReportPath string `json:"report_path,omitempty"`
}

// PDFServerInfoRequest represents a request to get server information and capabilities
type PDFServerInfoRequest struct {
	// No parameters needed for server info
}

// Response Types

// PDFValidateFileResult represents the result of a PDF validation operation
type PDFValidateFileResult struct {
	Valid      bool   `json:"valid"`
	Path       string `json:"path"`
	Message    string `json:"message,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	FormFields int    `json:"form_fields"`
}

// PDFFormFieldsResult lists the fillable fields of a form
type PDFFormFieldsResult struct {
	Path       string                  `json:"path"`
	PageCount  int                     `json:"page_count"`
	Fields     []forms.FieldDescriptor `json:"fields"`
	TotalCount int                     `json:"total_count"`
	// FieldsPerPage counts fields on every page that has any
	FieldsPerPage map[int]int `json:"fields_per_page"`
}

// PDFIsolatePageResult describes a written single-page document
type PDFIsolatePageResult struct {
	Path       string `json:"path"`
	Page       int    `json:"page"`
	OutputPath string `json:"output_path"`
	Size       int64  `json:"size"`
	// Rasterized is set when the page structure could not be copied and
	// an image of the page was written instead.
	Rasterized bool `json:"rasterized"`
}

// PageError reports a page whose contribution was dropped
type PageError struct {
	Page    int    `json:"page"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PDFFillFormResult represents the outcome of a fill run
type PDFFillFormResult struct {
	RunID        string           `json:"run_id"`
	FormPath     string           `json:"form_path"`
	ReferralPath string           `json:"referral_path"`
	OutputPath   string           `json:"output_path"`
	ReportPath   string           `json:"report_path,omitempty"`
	FieldCount   int              `json:"field_count"`
	Values       forms.ValueMap   `json:"values"`
	Applied      []string         `json:"applied"`
	PageErrors   []PageError      `json:"page_errors,omitempty"`
	Duplicates   map[string][]int `json:"duplicates,omitempty"`
	Summary      string           `json:"summary"`
}

// PDFServerInfoResult represents server information and usage guidance
type PDFServerInfoResult struct {
	ServerName        string     `json:"server_name"`
	Version           string     `json:"version"`
	DefaultDirectory  string     `json:"default_directory"`
	MaxFileSize       int64      `json:"max_file_size"`
	OracleConfigured  bool       `json:"oracle_configured"`
	Provider          string     `json:"provider,omitempty"`
	Models            ModelInfo  `json:"models"`
	AvailableTools    []ToolInfo `json:"available_tools"`
	DirectoryContents []FileInfo `json:"directory_contents"`
	Truncated         bool       `json:"truncated,omitempty"`
	UsageGuidance     string     `json:"usage_guidance"`
}

// ModelInfo names the model used for each oracle role
type ModelInfo struct {
	Patient string `json:"patient"`
	Context string `json:"context"`
	Mapping string `json:"mapping"`
}

// ToolInfo represents information about an available tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
	Parameters  string `json:"parameters"`
}
