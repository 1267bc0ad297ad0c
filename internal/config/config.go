package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Oracle providers
	ProviderGemini = "gemini"
	ProviderClaude = "claude"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultProvider    = ProviderGemini
	DefaultModel       = "gemini-2.5-pro"
	DefaultTimeout     = 120 * time.Second
	DefaultWorkers     = 1

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "MCP_FORMFILL"
)

// Config holds all configuration for the form filling MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// PDF configuration
	PDFDirectory string

	// Oracle configuration
	Provider         string
	APIKey           string
	FallbackProvider string
	FallbackAPIKey   string
	Endpoint         string
	ModelPatient     string
	ModelContext     string
	ModelMapping     string
	Timeout          time.Duration

	// Pipeline configuration
	Workers    int
	PromptFile string

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum PDF file size in bytes
	ConfigFile  string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:         ModeStdio, // Default to stdio mode for MCP compatibility
		Host:         DefaultHost,
		Port:         DefaultPort,
		PDFDirectory: currentDir,
		Provider:     DefaultProvider,
		ModelPatient: DefaultModel,
		ModelContext: DefaultModel,
		ModelMapping: DefaultModel,
		Timeout:      DefaultTimeout,
		Workers:      DefaultWorkers,
		Version:      "1.0.0",
		ServerName:   "mcp-pdf-formfill",
		LogLevel:     DefaultLogLevel,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(pflag.CommandLine, cfg)
	bindFlagsToViper(pflag.CommandLine)
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	return load(cfg)
}

// RegisterFlags defines the configuration flags on fs and binds them, for
// commands that own their flag set. Call Load once fs has been parsed.
func RegisterFlags(fs *pflag.FlagSet) {
	cfg := DefaultConfig()
	setupViperEnvironment(cfg)
	defineCommandLineFlags(fs, cfg)
	bindFlagsToViper(fs)
}

// Load builds the configuration from flags registered with RegisterFlags,
// the environment and the optional config file.
func Load() (*Config, error) {
	return load(DefaultConfig())
}

func load(cfg *Config) (*Config, error) {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	populateConfigFromViper(cfg)

	// Expand paths if needed
	if cfg.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFDirectory); err == nil {
			cfg.PDFDirectory = expandedPath
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.PDFDirectory)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("provider", cfg.Provider)
	viper.SetDefault("model_patient", cfg.ModelPatient)
	viper.SetDefault("model_context", cfg.ModelContext)
	viper.SetDefault("model_mapping", cfg.ModelMapping)
	viper.SetDefault("timeout", cfg.Timeout)
	viper.SetDefault("workers", cfg.Workers)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("config", "", "Path to a YAML, JSON or TOML configuration file")
	fs.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	fs.String("host", cfg.Host, "Server host address (server mode only)")
	fs.Int("port", cfg.Port, "Server port (server mode only)")
	fs.String("dir", cfg.PDFDirectory, "Directory containing PDF files")
	fs.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	fs.String("provider", cfg.Provider, "Oracle provider (gemini, claude)")
	fs.String("apikey", "", "Oracle API key")
	fs.String("fallback_provider", "", "Provider used when the primary one is rate limited")
	fs.String("fallback_apikey", "", "API key of the fallback provider")
	fs.String("endpoint", "", "Override the oracle API base URL")
	fs.String("model_patient", cfg.ModelPatient, "Model for patient info extraction")
	fs.String("model_context", cfg.ModelContext, "Model for field annotation")
	fs.String("model_mapping", cfg.ModelMapping, "Model for field mapping")
	fs.Duration("timeout", cfg.Timeout, "Timeout of a single oracle call")
	fs.Int("workers", cfg.Workers, "Pages processed concurrently")
	fs.String("prompt_file", "", "File holding a replacement patient info instruction")
}

var flagKeys = []string{
	"config", "mode", "host", "port", "dir", "loglevel", "maxfilesize",
	"provider", "apikey", "fallback_provider", "fallback_apikey", "endpoint",
	"model_patient", "model_context", "model_mapping", "timeout", "workers", "prompt_file",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper(fs *pflag.FlagSet) {
	for _, key := range flagKeys {
		_ = viper.BindPFlag(key, fs.Lookup(key))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP PDF Form Fill - A Model Context Protocol server that fills PDF forms from referral documents\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/pdfs --apikey=KEY              "+
			"# stdio mode with Gemini\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --provider=claude --model_mapping=claude-sonnet-4-20250514 "+
			"# Claude for every role\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --host=0.0.0.0 --port=8081      # server on all interfaces\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MCP_FORMFILL_<OPTION>  Any option above, upper case (e.g. MCP_FORMFILL_APIKEY)\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY         Gemini key when no apikey is configured\n")
		fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY      Claude key when no apikey is configured\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.PDFDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.Provider = strings.ToLower(viper.GetString("provider"))
	cfg.APIKey = viper.GetString("apikey")
	cfg.FallbackProvider = strings.ToLower(viper.GetString("fallback_provider"))
	cfg.FallbackAPIKey = viper.GetString("fallback_apikey")
	cfg.Endpoint = viper.GetString("endpoint")
	cfg.ModelPatient = viper.GetString("model_patient")
	cfg.ModelContext = viper.GetString("model_context")
	cfg.ModelMapping = viper.GetString("model_mapping")
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Workers = viper.GetInt("workers")
	cfg.PromptFile = viper.GetString("prompt_file")

	if cfg.APIKey == "" {
		cfg.APIKey = providerKeyFromEnv(cfg.Provider)
	}
	if cfg.FallbackProvider != "" && cfg.FallbackAPIKey == "" {
		cfg.FallbackAPIKey = providerKeyFromEnv(cfg.FallbackProvider)
	}
}

// providerKeyFromEnv reads the provider's conventional key variable
func providerKeyFromEnv(provider string) string {
	switch provider {
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case ProviderClaude:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	// Validate PDF directory
	if c.PDFDirectory == "" {
		return errors.New("PDF directory cannot be empty")
	}

	// Check if PDF directory exists, create if it doesn't
	if _, err := os.Stat(c.PDFDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.PDFDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create PDF directory %s: %w", c.PDFDirectory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access PDF directory %s: %w", c.PDFDirectory, err)
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	if !validProvider(c.Provider) {
		return fmt.Errorf("invalid provider: %s (must be one of: gemini, claude)", c.Provider)
	}
	if c.FallbackProvider != "" && !validProvider(c.FallbackProvider) {
		return fmt.Errorf("invalid fallback provider: %s (must be one of: gemini, claude)", c.FallbackProvider)
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

func validProvider(p string) bool {
	return p == ProviderGemini || p == ProviderClaude
}

// OracleConfigured reports whether an API key is available for the
// primary provider. Tools that do not call the oracle work without one.
func (c *Config) OracleConfigured() bool {
	return c.APIKey != ""
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. The API
// keys are never included.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, PDFDirectory: %s, LogLevel: %s, MaxFileSize: %d, "+
		"Provider: %s, FallbackProvider: %s, Models: %s/%s/%s, Workers: %d}",
		c.Mode, c.Host, c.Port, c.PDFDirectory, c.LogLevel, c.MaxFileSize,
		c.Provider, c.FallbackProvider, c.ModelPatient, c.ModelContext, c.ModelMapping, c.Workers)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
