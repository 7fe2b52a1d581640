package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio = "stdio"
	ModeSSE   = "sse"

	// Store backends
	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	// Renderer backends
	RendererNative  = "native"
	RendererBrowser = "browser"

	// Default values
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8080
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultViewportWidth = 794
	DefaultSettleDelay   = 2 * time.Second
	DefaultVerifyDelay   = 500 * time.Millisecond
	DefaultFilePrefix    = "document"
	DefaultMaxFileSize   = 50 * 1024 * 1024 // 50MB

	// EnvPrefix is prepended to every environment key, e.g. DOCFILL_STORE
	EnvPrefix = "DOCFILL"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the docfill server and CLI
type Config struct {
	// Server configuration
	Mode string // "stdio" or "sse"
	Host string
	Port int

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"

	// Files
	TemplateDir string
	OutputDir   string
	MaxFileSize int64 // Maximum template and PDF size in bytes

	// Host store
	Store     string
	StorePath string // YAML fixture for memory, database file for sqlite

	// Rendering
	Renderer      string
	ViewportWidth int
	SettleDelay   time.Duration
	FontPath      string // required for CJK text with the native renderer; the Go fonts lack those glyphs
	ChromeBin     string
	Timezone      string

	// Persistence
	FilePrefix  string
	Verify      bool
	VerifyDelay time.Duration

	MetricsAddr string

	// Application configuration
	Version    string
	ServerName string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:          ModeStdio,
		Host:          DefaultHost,
		Port:          DefaultPort,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		TemplateDir:   currentDir,
		OutputDir:     filepath.Join(currentDir, "output"),
		MaxFileSize:   DefaultMaxFileSize,
		Store:         StoreMemory,
		Renderer:      RendererNative,
		ViewportWidth: DefaultViewportWidth,
		SettleDelay:   DefaultSettleDelay,
		Timezone:      "Local",
		FilePrefix:    DefaultFilePrefix,
		Verify:        true,
		VerifyDelay:   DefaultVerifyDelay,
		Version:       "1.0.0",
		ServerName:    "mcp-docfill",
	}
}

// RegisterFlags defines the configuration flags with defaults from cfg
func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.String("mode", cfg.Mode, "Transport for serve: 'stdio' or 'sse'")
	flags.String("host", cfg.Host, "Listen host (sse mode only)")
	flags.Int("port", cfg.Port, "Listen port (sse mode only)")
	flags.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.String("logformat", cfg.LogFormat, "Log format (console, json)")
	flags.String("templatedir", cfg.TemplateDir, "Directory templates are read from")
	flags.String("outputdir", cfg.OutputDir, "Directory for locally saved PDFs")
	flags.Int64("maxfilesize", cfg.MaxFileSize, "Maximum template and PDF size in bytes")
	flags.String("store", cfg.Store, "Host store backend (memory, sqlite)")
	flags.String("storepath", cfg.StorePath, "YAML fixture (memory) or database file (sqlite)")
	flags.String("renderer", cfg.Renderer, "Rasterizer (native, browser)")
	flags.Int("viewportwidth", cfg.ViewportWidth, "Rendering width in pixels")
	flags.Duration("settledelay", cfg.SettleDelay, "Maximum wait for fonts and images before capture")
	flags.String("fontpath", cfg.FontPath, "TrueType/OpenType font for the native renderer (set one with CJK glyphs for Chinese, Japanese or Korean text)")
	flags.String("chromebin", cfg.ChromeBin, "Chrome binary for the browser renderer")
	flags.String("timezone", cfg.Timezone, "IANA zone timestamps are rendered in")
	flags.String("fileprefix", cfg.FilePrefix, "Prefix of generated PDF file names")
	flags.Bool("verify", cfg.Verify, "Read the attachment field back after writing")
	flags.Duration("verifydelay", cfg.VerifyDelay, "Wait before the read-back")
	flags.String("metricsaddr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (empty disables)")
}

// LoadDotEnv loads environment variables from path, or ./.env when path is
// empty. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration from flags, DOCFILL_* environment
// variables and defaults, in that order of precedence
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setupViperEnvironment(v, cfg)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	populateConfigFromViper(v, cfg)

	for _, dir := range []*string{&cfg.TemplateDir, &cfg.OutputDir} {
		if *dir == "" {
			continue
		}
		if abs, err := filepath.Abs(*dir); err == nil {
			*dir = abs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("loglevel", cfg.LogLevel)
	v.SetDefault("logformat", cfg.LogFormat)
	v.SetDefault("templatedir", cfg.TemplateDir)
	v.SetDefault("outputdir", cfg.OutputDir)
	v.SetDefault("maxfilesize", cfg.MaxFileSize)
	v.SetDefault("store", cfg.Store)
	v.SetDefault("storepath", cfg.StorePath)
	v.SetDefault("renderer", cfg.Renderer)
	v.SetDefault("viewportwidth", cfg.ViewportWidth)
	v.SetDefault("settledelay", cfg.SettleDelay)
	v.SetDefault("fontpath", cfg.FontPath)
	v.SetDefault("chromebin", cfg.ChromeBin)
	v.SetDefault("timezone", cfg.Timezone)
	v.SetDefault("fileprefix", cfg.FilePrefix)
	v.SetDefault("verify", cfg.Verify)
	v.SetDefault("verifydelay", cfg.VerifyDelay)
	v.SetDefault("metricsaddr", cfg.MetricsAddr)
}

func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.Mode = v.GetString("mode")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.LogLevel = v.GetString("loglevel")
	cfg.LogFormat = v.GetString("logformat")
	cfg.TemplateDir = v.GetString("templatedir")
	cfg.OutputDir = v.GetString("outputdir")
	cfg.MaxFileSize = v.GetInt64("maxfilesize")
	cfg.Store = v.GetString("store")
	cfg.StorePath = v.GetString("storepath")
	cfg.Renderer = v.GetString("renderer")
	cfg.ViewportWidth = v.GetInt("viewportwidth")
	cfg.SettleDelay = v.GetDuration("settledelay")
	cfg.FontPath = v.GetString("fontpath")
	cfg.ChromeBin = v.GetString("chromebin")
	cfg.Timezone = v.GetString("timezone")
	cfg.FilePrefix = v.GetString("fileprefix")
	cfg.Verify = v.GetBool("verify")
	cfg.VerifyDelay = v.GetDuration("verifydelay")
	cfg.MetricsAddr = v.GetString("metricsaddr")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeSSE {
		return errors.New("mode must be either 'stdio' or 'sse'")
	}

	// Port only matters when listening
	if c.Mode == ModeSSE && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.LogFormat)
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.StorePath == "" {
			return errors.New("sqlite store requires a store path")
		}
	default:
		return fmt.Errorf("invalid store: %s (must be memory or sqlite)", c.Store)
	}

	if c.Renderer != RendererNative && c.Renderer != RendererBrowser {
		return fmt.Errorf("invalid renderer: %s (must be native or browser)", c.Renderer)
	}
	if c.ViewportWidth < 200 || c.ViewportWidth > 4000 {
		return errors.New("viewport width must be between 200 and 4000 pixels")
	}
	if c.SettleDelay < 0 || c.VerifyDelay < 0 {
		return errors.New("delays cannot be negative")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if strings.ContainsAny(c.FilePrefix, `/\`) {
		return fmt.Errorf("file prefix %q cannot contain path separators", c.FilePrefix)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.OutputDir == "" {
		return errors.New("output directory cannot be empty")
	}
	if err := os.MkdirAll(c.OutputDir, DefaultDirPerm); err != nil {
		return fmt.Errorf("cannot create output directory %s: %w", c.OutputDir, err)
	}

	return nil
}

// Location resolves the configured time zone
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsSSEMode returns true if the MCP server listens over HTTP
func (c *Config) IsSSEMode() bool {
	return c.Mode == ModeSSE
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Store: %s, Renderer: %s, TemplateDir: %s, OutputDir: %s, LogLevel: %s, Verify: %t}",
		c.Mode, c.Store, c.Renderer, c.TemplateDir, c.OutputDir, c.LogLevel, c.Verify)
}
