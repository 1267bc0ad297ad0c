package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PDFDirectory = t.TempDir()
	return cfg
}

var discard = slog.New(slog.DiscardHandler)

func TestNewOracle(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		o, err := NewOracle(testConfig(t), discard)
		require.NoError(t, err)
		assert.Nil(t, o)
	})

	t.Run("primary only", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.APIKey = "key"
		o, err := NewOracle(cfg, discard)
		require.NoError(t, err)
		assert.NotNil(t, o)
		_, isFallback := o.(*oracle.Fallback)
		assert.False(t, isFallback)
	})

	t.Run("with fallback", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.APIKey = "key"
		cfg.FallbackProvider = config.ProviderClaude
		cfg.FallbackAPIKey = "other"
		o, err := NewOracle(cfg, discard)
		require.NoError(t, err)
		assert.IsType(t, &oracle.Fallback{}, o)
	})

	t.Run("fallback without key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.APIKey = "key"
		cfg.FallbackProvider = config.ProviderClaude
		o, err := NewOracle(cfg, discard)
		require.NoError(t, err)
		_, isFallback := o.(*oracle.Fallback)
		assert.False(t, isFallback)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.APIKey = "key"
		cfg.Provider = "acme"
		_, err := NewOracle(cfg, discard)
		assert.Error(t, err)
	})
}

func TestNewRunner_PromptFile(t *testing.T) {
	cfg := testConfig(t)
	o := oracle.Func(nil)

	cfg.PromptFile = filepath.Join(t.TempDir(), "missing.tmpl")
	_, err := NewRunner(cfg, o, discard)
	assert.Error(t, err)

	cfg.PromptFile = filepath.Join(t.TempDir(), "patient.tmpl")
	require.NoError(t, os.WriteFile(cfg.PromptFile, []byte("Extract the patient details."), 0o600))
	runner, err := NewRunner(cfg, o, discard)
	require.NoError(t, err)
	assert.NotNil(t, runner)
}

func TestNewService(t *testing.T) {
	cfg := testConfig(t)
	svc, err := NewService(cfg, discard)
	require.NoError(t, err)
	assert.False(t, svc.CanFill())

	cfg.APIKey = "key"
	svc, err = NewService(cfg, discard)
	require.NoError(t, err)
	assert.True(t, svc.CanFill())
	assert.Equal(t, cfg.MaxFileSize, svc.GetMaxFileSize())
}
