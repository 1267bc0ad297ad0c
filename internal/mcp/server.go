package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/descriptions"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config     *config.Config
	pdfService *pdf.Service
	mcpServer  *server.MCPServer
	logger     *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, pdfService *pdf.Service, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if pdfService == nil {
		return nil, fmt.Errorf("pdfService cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:     cfg,
		pdfService: pdfService,
		mcpServer:  mcpServer,
		logger:     logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	pathArg := func(name, desc string) mcp.ToolOption {
		return mcp.WithString(name, mcp.Required(), mcp.Description(desc))
	}

	s.mcpServer.AddTool(mcp.NewTool("pdf_fill_form",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_fill_form")),
		pathArg("referral_path", "Path to the referral package PDF"),
		pathArg("form_path", "Path to the fillable form PDF"),
		mcp.WithString("output_path", mcp.Description("Where to write the filled form (default <form>_filled.pdf)")),
		mcp.WithString("report_path", mcp.Description("Optional path of an xlsx report of every field")),
	), s.handlePDFFillForm)

	s.mcpServer.AddTool(mcp.NewTool("pdf_form_fields",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_form_fields")),
		pathArg("path", "Path to the form PDF"),
	), s.handlePDFFormFields)

	s.mcpServer.AddTool(mcp.NewTool("pdf_isolate_page",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_isolate_page")),
		pathArg("path", "Path to the PDF"),
		mcp.WithNumber("page", mcp.Required(), mcp.Description("1-based page number")),
		mcp.WithString("output_path", mcp.Description("Where to write the page (default <file>_page<N>.pdf)")),
	), s.handlePDFIsolatePage)

	s.mcpServer.AddTool(mcp.NewTool("pdf_validate_file",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_validate_file")),
		pathArg("path", "Path to the PDF file"),
	), s.handlePDFValidateFile)

	s.mcpServer.AddTool(mcp.NewTool("pdf_server_info",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_server_info")),
	), s.handlePDFServerInfo)
}

func optionalString(request mcp.CallToolRequest, key string) string {
	if v, ok := request.GetArguments()[key].(string); ok {
		return v
	}
	return ""
}

func (s *Server) handlePDFFillForm(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	referral, err := request.RequireString("referral_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	form, err := request.RequireString("form_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.PDFFillForm(ctx, pdf.PDFFillFormRequest{
		ReferralPath: referral,
		FormPath:     form,
		OutputPath:   optionalString(request, "output_path"),
		ReportPath:   optionalString(request, "report_path"),
	})
	if err != nil {
		s.logger.Warn("mcp.fill.failed", "form", form, "err", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	text, err := formatPDFFillFormResult(result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePDFFormFields(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.PDFFormFields(pdf.PDFFormFieldsRequest{Path: path})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatPDFFormFieldsResult(result)), nil
}

func (s *Server) handlePDFIsolatePage(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := request.RequireInt("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.PDFIsolatePage(pdf.PDFIsolatePageRequest{
		Path:       path,
		Page:       page,
		OutputPath: optionalString(request, "output_path"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := fmt.Sprintf("Wrote page %d of %s to %s (%d bytes)", result.Page, result.Path, result.OutputPath, result.Size)
	if result.Rasterized {
		text += "\nThe page could not be extracted as is and was rasterized."
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePDFValidateFile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.PDFValidateFile(pdf.PDFValidateFileRequest{Path: path})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var text string
	if result.Valid {
		text = fmt.Sprintf("PDF file %s is valid and readable (%d pages, %d fillable fields)",
			result.Path, result.Pages, result.FormFields)
	} else {
		text = fmt.Sprintf("PDF validation failed for %s: %s", result.Path, result.Message)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePDFServerInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.pdfService.PDFServerInfo(ctx, pdf.PDFServerInfoRequest{},
		s.config.ServerName, s.config.Version, s.config.PDFDirectory)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatPDFServerInfoResult(result)), nil
}

func formatPDFFillFormResult(result *pdf.PDFFillFormResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Filled form written to %s\n", result.OutputPath)
	if result.ReportPath != "" {
		fmt.Fprintf(&b, "Report written to %s\n", result.ReportPath)
	}
	fmt.Fprintf(&b, "Run: %s\n%s\n", result.RunID, result.Summary)

	for _, pe := range result.PageErrors {
		fmt.Fprintf(&b, "Page %d skipped (%s): %s\n", pe.Page, pe.Kind, pe.Message)
	}

	values, err := json.MarshalIndent(result.Values, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode values: %w", err)
	}
	fmt.Fprintf(&b, "\nValues:\n%s\n", values)
	return b.String(), nil
}

func formatPDFFormFieldsResult(result *pdf.PDFFormFieldsResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d fillable fields on %d pages\n", result.Path, result.TotalCount, result.PageCount)

	current := 0
	for _, f := range result.Fields {
		if f.Page != current {
			current = f.Page
			fmt.Fprintf(&b, "\nPage %d (%d fields):\n", current, result.FieldsPerPage[current])
		}
		fmt.Fprintf(&b, "  %s [%s] at %v", f.ID, f.Kind, f.Rect)
		if f.Value != nil {
			fmt.Fprintf(&b, " = %v", f.Value)
		}
		b.WriteString("\n")
	}
	if len(result.Fields) == 0 {
		b.WriteString("The document has no fillable text fields or checkboxes.\n")
	}
	return b.String()
}

func formatPDFServerInfoResult(result *pdf.PDFServerInfoResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s v%s - Server Information\n", result.ServerName, result.Version)
	fmt.Fprintf(&b, "Default Directory: %s\n", result.DefaultDirectory)
	fmt.Fprintf(&b, "Max File Size: %d MB\n", result.MaxFileSize/(1024*1024))
	if result.OracleConfigured {
		fmt.Fprintf(&b, "Oracle: %s (patient %s, context %s, mapping %s)\n\n",
			result.Provider, result.Models.Patient, result.Models.Context, result.Models.Mapping)
	} else {
		b.WriteString("Oracle: not configured, pdf_fill_form is unavailable\n\n")
	}

	if len(result.DirectoryContents) > 0 {
		fmt.Fprintf(&b, "Directory Contents (%d PDF files found):\n", len(result.DirectoryContents))
		for i, file := range result.DirectoryContents {
			if i >= 10 {
				fmt.Fprintf(&b, "   ... and %d more files\n", len(result.DirectoryContents)-10)
				break
			}
			fmt.Fprintf(&b, "   %d. %s (%d bytes)\n", i+1, file.Name, file.Size)
		}
		if result.Truncated {
			b.WriteString("   (scan stopped early)\n")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Directory Contents: No PDF files found in default directory\n\n")
	}

	b.WriteString("Available Tools:\n")
	for _, tool := range result.AvailableTools {
		fmt.Fprintf(&b, "\n- %s\n", tool.Name)
		fmt.Fprintf(&b, "  Description: %s\n", tool.Description)
		fmt.Fprintf(&b, "  Usage: %s\n", tool.Usage)
		fmt.Fprintf(&b, "  Parameters: %s\n", tool.Parameters)
	}

	b.WriteString("\n" + result.UsageGuidance)
	return b.String()
}

// Run starts the MCP server in the configured mode and blocks until ctx is
// done or the transport fails
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Info("mcp.stdio.start", "directory", s.config.PDFDirectory)

	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))
	s.logger.Info("mcp.sse.start", "addr", addr, "directory", s.config.PDFDirectory)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve sse: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down sse server: %w", err)
	}
	s.logger.Info("mcp.sse.stopped")
	return nil
}
