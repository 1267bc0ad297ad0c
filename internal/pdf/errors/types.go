package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Error is a categorized failure raised somewhere in the form-fill pipeline.
// The Type decides how far the failure propagates: document format problems
// abort a run, malformed oracle output on a page only drops that page.
type Error struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Context     string    `json:"context,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
	Err         error     `json:"-"`
}

// ErrorType represents the failure categories of the pipeline
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeDocumentFormat
	ErrorTypeMalformedResponse
	ErrorTypeOracle
	ErrorTypePageIsolation
	ErrorTypeInvalidPage
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityFatal
)

// Error implements the error interface
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Type.String())
	if e.PageNumber > 0 {
		prefix = fmt.Sprintf("[%s page %d]", e.Type.String(), e.PageNumber)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s %s: %s", prefix, e.Message, e.Context)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeDocumentFormat:
		return "DOCUMENT_FORMAT"
	case ErrorTypeMalformedResponse:
		return "MALFORMED_RESPONSE"
	case ErrorTypeOracle:
		return "ORACLE"
	case ErrorTypePageIsolation:
		return "PAGE_ISOLATION"
	case ErrorTypeInvalidPage:
		return "INVALID_PAGE"
	default:
		return "UNKNOWN"
	}
}

// GetSeverity returns the severity level for a given error type
func (et ErrorType) GetSeverity() ErrorSeverity {
	switch et {
	case ErrorTypeDocumentFormat:
		return SeverityFatal
	case ErrorTypeMalformedResponse, ErrorTypePageIsolation:
		return SeverityWarning
	case ErrorTypeOracle, ErrorTypeInvalidPage:
		return SeverityError
	default:
		return SeverityError
	}
}

// IsRecoverable reports whether a run can continue past an error of this
// type when it is scoped to a single page.
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeMalformedResponse, ErrorTypeOracle, ErrorTypePageIsolation:
		return true
	default:
		return false
	}
}

// NewError creates a new Error of the given type
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:        errorType,
		Message:     message,
		Recoverable: errorType.IsRecoverable(),
		Timestamp:   time.Now(),
	}
}

// WrapError wraps a standard error as an Error of the given type
func WrapError(errorType ErrorType, err error) *Error {
	return &Error{
		Type:        errorType,
		Message:     err.Error(),
		Recoverable: errorType.IsRecoverable(),
		Timestamp:   time.Now(),
		Err:         err,
	}
}

// NewMalformedResponse reports oracle output that could not be turned into a JSON object
func NewMalformedResponse(message string) *Error {
	return NewError(ErrorTypeMalformedResponse, message)
}

// NewDocumentFormat reports a document that cannot be read as a PDF
func NewDocumentFormat(err error) *Error {
	return WrapError(ErrorTypeDocumentFormat, err)
}

// WithContext adds context to an existing Error
func (e *Error) WithContext(context string) *Error {
	e.Context = context
	return e
}

// WithPage adds page number information to an existing Error
func (e *Error) WithPage(pageNumber int) *Error {
	e.PageNumber = pageNumber
	return e
}

// GetSeverity returns the severity of this specific error
func (e *Error) GetSeverity() ErrorSeverity {
	return e.Type.GetSeverity()
}

// IsCritical returns true if this error is critical or fatal
func (e *Error) IsCritical() bool {
	severity := e.GetSeverity()
	return severity == SeverityCritical || severity == SeverityFatal
}

// TypeOf returns the ErrorType carried anywhere in err's chain, or
// ErrorTypeUnknown when err is not one of ours.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsMalformedResponse reports whether err is a MalformedResponse error
func IsMalformedResponse(err error) bool {
	return TypeOf(err) == ErrorTypeMalformedResponse
}

// IsDocumentFormat reports whether err is a DocumentFormat error
func IsDocumentFormat(err error) bool {
	return TypeOf(err) == ErrorTypeDocumentFormat
}

// IsOracle reports whether err is an oracle transport error
func IsOracle(err error) bool {
	return TypeOf(err) == ErrorTypeOracle
}

// ErrorCollection manages the per-page errors of a single run
type ErrorCollection struct {
	Errors   []*Error `json:"errors"`
	Warnings []*Error `json:"warnings"`
	FilePath string   `json:"file_path,omitempty"`
}

// NewErrorCollection creates a new error collection
func NewErrorCollection(filePath string) *ErrorCollection {
	return &ErrorCollection{
		Errors:   make([]*Error, 0),
		Warnings: make([]*Error, 0),
		FilePath: filePath,
	}
}

// Add adds an error to the appropriate collection based on severity
func (ec *ErrorCollection) Add(err *Error) {
	severity := err.GetSeverity()
	if severity == SeverityWarning || severity == SeverityInfo {
		ec.Warnings = append(ec.Warnings, err)
	} else {
		ec.Errors = append(ec.Errors, err)
	}
}

// AddError classifies a plain error and adds it, tagging it with page.
// Errors that are not already typed are recorded as ErrorTypeUnknown.
func (ec *ErrorCollection) AddError(err error, page int) {
	var e *Error
	if !stderrors.As(err, &e) {
		e = WrapError(ErrorTypeUnknown, err)
	} else {
		clone := *e
		e = &clone
	}
	ec.Add(e.WithPage(page))
}

// HasCriticalErrors returns true if any critical errors exist
func (ec *ErrorCollection) HasCriticalErrors() bool {
	for _, err := range ec.Errors {
		if err.IsCritical() {
			return true
		}
	}
	return false
}

// Pages returns the distinct page numbers that recorded an error or warning
func (ec *ErrorCollection) Pages() []int {
	seen := make(map[int]bool)
	pages := make([]int, 0)
	for _, list := range [][]*Error{ec.Errors, ec.Warnings} {
		for _, err := range list {
			if err.PageNumber > 0 && !seen[err.PageNumber] {
				seen[err.PageNumber] = true
				pages = append(pages, err.PageNumber)
			}
		}
	}
	return pages
}

// Count returns the total number of errors and warnings
func (ec *ErrorCollection) Count() (errors, warnings int) {
	return len(ec.Errors), len(ec.Warnings)
}

// Summary returns a text summary of all errors and warnings
func (ec *ErrorCollection) Summary() string {
	errorCount, warningCount := ec.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}

	summary := fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)

	if ec.HasCriticalErrors() {
		summary += " (including critical errors)"
	}

	return summary
}
