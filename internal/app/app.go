// Package app wires the configuration into the oracle, pipeline and PDF
// service shared by the binaries.
package app

import (
	"fmt"
	"log/slog"

	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf"
	"github.com/a3tai/mcp-pdf-formfill/internal/pipeline"
)

// NewOracle builds the configured oracle. It returns nil without an error
// when no API key is available.
func NewOracle(cfg *config.Config, logger *slog.Logger) (oracle.Oracle, error) {
	if !cfg.OracleConfigured() {
		return nil, nil
	}

	primary, err := oracle.New(cfg.Provider, oracle.ClientConfig{
		APIKey:   cfg.APIKey,
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.FallbackProvider == "" || cfg.FallbackAPIKey == "" {
		return primary, nil
	}

	// the fallback runs on its provider's default model
	secondary, err := oracle.New(cfg.FallbackProvider, oracle.ClientConfig{
		APIKey:  cfg.FallbackAPIKey,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("fallback oracle: %w", err)
	}
	return oracle.NewFallback(
		[]oracle.Oracle{primary, secondary},
		[]string{cfg.Provider, cfg.FallbackProvider},
		logger,
	), nil
}

// NewRunner builds a pipeline runner over o with the configured models,
// workers and prompts
func NewRunner(cfg *config.Config, o oracle.Oracle, logger *slog.Logger) (*pipeline.Runner, error) {
	prompts := pipeline.DefaultPrompts()
	if cfg.PromptFile != "" {
		var err error
		if prompts, err = prompts.LoadPatientTemplate(cfg.PromptFile); err != nil {
			return nil, err
		}
	}

	return pipeline.NewRunner(o, pipeline.Options{
		Models: pipeline.Models{
			Patient: cfg.ModelPatient,
			Context: cfg.ModelContext,
			Mapping: cfg.ModelMapping,
		},
		Workers: cfg.Workers,
		Prompts: prompts,
		Logger:  logger,
	}), nil
}

// NewService builds the PDF service. Filling is only available when an
// oracle is configured.
func NewService(cfg *config.Config, logger *slog.Logger) (*pdf.Service, error) {
	opts := pdf.ServiceOptions{
		Logger:   logger,
		Provider: cfg.Provider,
		Models: pdf.ModelInfo{
			Patient: cfg.ModelPatient,
			Context: cfg.ModelContext,
			Mapping: cfg.ModelMapping,
		},
	}

	o, err := NewOracle(cfg, logger)
	if err != nil {
		return nil, err
	}
	if o != nil {
		if opts.Runner, err = NewRunner(cfg, o, logger); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("app.oracle.missing", "provider", cfg.Provider)
	}

	return pdf.NewService(cfg.MaxFileSize, cfg.PDFDirectory, opts)
}
