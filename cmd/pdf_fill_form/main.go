package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-pdf-formfill/internal/app"
	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/logging"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/pages"
	"github.com/a3tai/mcp-pdf-formfill/internal/pipeline"
)

const filePerm = 0o600

// newOracle is replaced in tests
var newOracle = app.NewOracle

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "pdf_fill_form",
		Short:         "Fill medical PDF forms from a referral package",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newFillCmd(), newFieldsCmd(), newPageCmd())
	return root
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, logging.New(cfg), nil
}

func newFillCmd() *cobra.Command {
	var referralPath, formPath, outPath, reportPath string

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Fill a form from a referral package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			o, err := newOracle(cfg, logger)
			if err != nil {
				return err
			}
			if o == nil {
				return pdf.ErrOracleNotConfigured
			}
			runner, err := app.NewRunner(cfg, o, logger)
			if err != nil {
				return err
			}

			validator := pdf.NewValidator(cfg.MaxFileSize)
			referral, err := validator.ReadFile(referralPath)
			if err != nil {
				return err
			}
			form, err := validator.ReadFile(formPath)
			if err != nil {
				return err
			}

			res, err := runner.Run(cmd.Context(), pipeline.Input{Referral: referral, Form: form})
			if err != nil {
				return err
			}

			if outPath == "" {
				ext := filepath.Ext(formPath)
				outPath = strings.TrimSuffix(formPath, ext) + "_filled" + ext
			}
			if err := os.WriteFile(outPath, res.Filled, filePerm); err != nil {
				return fmt.Errorf("write filled form: %w", err)
			}
			if reportPath != "" {
				data, err := pipeline.WriteReport(res)
				if err != nil {
					return fmt.Errorf("build report: %w", err)
				}
				if err := os.WriteFile(reportPath, data, filePerm); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Filled %d of %d fields into %s\n", len(res.Applied), res.Inventory.Len(), outPath)
			for _, st := range res.Statuses() {
				if st.Status == pipeline.StatusPageFailed {
					fmt.Fprintf(w, "  page %d %s: %s\n", st.Page, st.ID, st.Error)
				}
			}
			fmt.Fprintln(w, res.Errors.Summary())
			return nil
		},
	}

	cmd.Flags().StringVar(&referralPath, "referral", "", "Referral package PDF")
	cmd.Flags().StringVar(&formPath, "form", "", "Fillable form PDF")
	cmd.Flags().StringVar(&outPath, "out", "", "Output path (default <form>_filled.pdf)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Optional xlsx report path")
	_ = cmd.MarkFlagRequired("referral")
	_ = cmd.MarkFlagRequired("form")
	return cmd
}

func newFieldsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "fields FORM.pdf",
		Short: "List the fillable fields of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := pdf.NewValidator(cfg.MaxFileSize).ReadFile(args[0])
			if err != nil {
				return err
			}
			inv, err := forms.Extract(data)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(inv)
			case "text":
				fmt.Fprintf(w, "%d fields on %d pages\n", inv.Len(), inv.PageCount)
				for _, f := range inv.Fields {
					fmt.Fprintf(w, "page %d\t%s\t%s\t%v\n", f.Page, f.Kind, f.ID, f.Rect)
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q (valid: text, json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json")
	return cmd
}

func newPageCmd() *cobra.Command {
	var pageNr int
	var outPath string

	cmd := &cobra.Command{
		Use:   "page FILE.pdf",
		Short: "Write one page of a PDF as its own document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if pageNr < 1 {
				return errors.New("--page must be 1 or greater")
			}
			data, err := pdf.NewValidator(cfg.MaxFileSize).ReadFile(args[0])
			if err != nil {
				return err
			}
			rendered, err := pages.NewIsolator(logger).Isolate(data, pageNr)
			if err != nil {
				return err
			}

			if outPath == "" {
				ext := filepath.Ext(args[0])
				outPath = fmt.Sprintf("%s_page%d%s", strings.TrimSuffix(args[0], ext), pageNr, ext)
			}
			if err := os.WriteFile(outPath, rendered.Data, filePerm); err != nil {
				return fmt.Errorf("write page: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote page %d to %s\n", pageNr, outPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&pageNr, "page", 0, "1-based page number")
	cmd.Flags().StringVar(&outPath, "out", "", "Output path (default <file>_page<N>.pdf)")
	_ = cmd.MarkFlagRequired("page")
	return cmd
}
