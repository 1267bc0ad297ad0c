package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a3tai/mcp-pdf-formfill/internal/descriptions"
)

const (
	scanMaxDepth  = 5
	scanFileLimit = 100
	scanTimeLimit = 3 * time.Second
)

// directoryScanner lists PDF files below a directory within fixed limits
type directoryScanner struct {
	maxDepth  int
	fileLimit int
	timeLimit time.Duration
}

type scanResult struct {
	files     []FileInfo
	truncated bool
}

func (s *directoryScanner) scan(ctx context.Context, root string) scanResult {
	deadline := time.Now().Add(s.timeLimit)
	res := scanResult{files: []FileInfo{}}
	visited := make(map[string]bool)

	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if ctx.Err() != nil || depth >= s.maxDepth || res.truncated {
			return
		}
		if time.Now().After(deadline) {
			res.truncated = true
			return
		}

		realDir, err := filepath.EvalSymlinks(dir)
		if err != nil || visited[realDir] {
			return
		}
		visited[realDir] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") || entry.Type()&os.ModeSymlink != 0 {
				continue
			}
			path := filepath.Join(dir, name)
			if entry.IsDir() {
				walk(path, depth+1)
				if res.truncated {
					return
				}
				continue
			}
			if !strings.EqualFold(filepath.Ext(name), ".pdf") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			res.files = append(res.files, FileInfo{
				Path:         path,
				Name:         name,
				Size:         info.Size(),
				ModifiedTime: info.ModTime().Format("2006-01-02 15:04:05"),
			})
			if len(res.files) >= s.fileLimit {
				res.truncated = true
				return
			}
		}
	}
	walk(root, 0)
	return res
}

// PDFServerInfo returns server information, the available tools and the
// PDF files of the default directory
func (s *Service) PDFServerInfo(ctx context.Context, _ PDFServerInfoRequest, serverName, version,
	defaultDirectory string,
) (*PDFServerInfoResult, error) {
	validatedDir := defaultDirectory
	if err := s.pathValidator.ValidateDirectory(defaultDirectory); err != nil {
		validatedDir = s.pathValidator.GetConfiguredDirectory()
	}

	scanner := &directoryScanner{maxDepth: scanMaxDepth, fileLimit: scanFileLimit, timeLimit: scanTimeLimit}
	scanned := scanner.scan(ctx, validatedDir)

	return &PDFServerInfoResult{
		ServerName:        serverName,
		Version:           version,
		DefaultDirectory:  validatedDir,
		MaxFileSize:       s.maxFileSize,
		OracleConfigured:  s.CanFill(),
		Provider:          s.provider,
		Models:            s.models,
		AvailableTools:    availableTools(),
		DirectoryContents: scanned.files,
		Truncated:         scanned.truncated,
		UsageGuidance:     s.usageGuidance(),
	}, nil
}

func availableTools() []ToolInfo {
	pathParam := "(supports both absolute paths and paths relative to the default directory)"
	return []ToolInfo{
		{
			Name:        "pdf_fill_form",
			Description: descriptions.GetToolDescription("pdf_fill_form"),
			Usage:       "Fill a prior authorization form from a referral package. Requires a configured oracle.",
			Parameters: "referral_path (required), form_path (required) " + pathParam +
				", output_path (optional, default <form>_filled.pdf), report_path (optional xlsx report)",
		},
		{
			Name:        "pdf_form_fields",
			Description: descriptions.GetToolDescription("pdf_form_fields"),
			Usage:       "List fillable text fields and checkboxes with page, position and current value.",
			Parameters:  "path (required) " + pathParam,
		},
		{
			Name:        "pdf_isolate_page",
			Description: descriptions.GetToolDescription("pdf_isolate_page"),
			Usage:       "Write one page as a standalone PDF, the same unit the filler sends per page.",
			Parameters:  "path (required) " + pathParam + ", page (required, 1-based), output_path (optional)",
		},
		{
			Name:        "pdf_validate_file",
			Description: descriptions.GetToolDescription("pdf_validate_file"),
			Usage:       "Check that a file is a readable PDF before filling.",
			Parameters:  "path (required) " + pathParam,
		},
		{
			Name:        "pdf_server_info",
			Description: descriptions.GetToolDescription("pdf_server_info"),
			Usage:       "Get server configuration and the PDF files in the default directory.",
			Parameters:  "No parameters required",
		},
	}
}

func (s *Service) usageGuidance() string {
	maxFileSizeMB := s.maxFileSize / (1024 * 1024)
	return fmt.Sprintf(`PDF Form Fill Server Usage Guide:

1. VALIDATE INPUTS:
   - Use 'pdf_validate_file' on the referral package and the form
   - Use 'pdf_form_fields' to confirm the form has fillable fields

2. FILL:
   - Use 'pdf_fill_form' with referral_path and form_path
   - Patient details are extracted once from both documents
   - Each form page is then annotated and mapped on its own
   - Fields the referral does not answer are left blank

3. REVIEW:
   - 'values' holds every value written, 'page_errors' lists pages that were skipped
   - Pass report_path to get an xlsx with question, context and value per field
   - Use 'pdf_isolate_page' to see the exact page the filler worked from

IMPORTANT NOTES:
- Files must lie within the default directory
- The server can handle files up to %dMB
- Filling needs an oracle API key; the other tools work without one`, maxFileSizeMB)
}
