package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModeStdio, cfg.Mode)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, RendererNative, cfg.Renderer)
	assert.Equal(t, 794, cfg.ViewportWidth)
	assert.Equal(t, 500*time.Millisecond, cfg.VerifyDelay)
	assert.True(t, cfg.Verify)
	assert.Equal(t, "document", cfg.FilePrefix)
	assert.Equal(t, "mcp-docfill", cfg.ServerName)

	currentDir, _ := os.Getwd()
	assert.Equal(t, currentDir, cfg.TemplateDir)
	assert.Equal(t, filepath.Join(currentDir, "output"), cfg.OutputDir)
}

func validConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "sse mode", mutate: func(c *Config) { c.Mode = ModeSSE; c.Port = 9000 }},
		{name: "invalid mode", mutate: func(c *Config) { c.Mode = "server" }, wantErr: "mode"},
		{name: "sse port too low", mutate: func(c *Config) { c.Mode = ModeSSE; c.Port = 0 }, wantErr: "port"},
		{name: "port ignored in stdio mode", mutate: func(c *Config) { c.Port = 70000 }},
		{name: "invalid log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "log level"},
		{name: "invalid log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log format"},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "postgres" }, wantErr: "store"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store = StoreSQLite }, wantErr: "store path"},
		{name: "sqlite with path", mutate: func(c *Config) { c.Store = StoreSQLite; c.StorePath = "docfill.db" }},
		{name: "unknown renderer", mutate: func(c *Config) { c.Renderer = "wkhtml" }, wantErr: "renderer"},
		{name: "browser renderer", mutate: func(c *Config) { c.Renderer = RendererBrowser }},
		{name: "narrow viewport", mutate: func(c *Config) { c.ViewportWidth = 10 }, wantErr: "viewport"},
		{name: "negative delay", mutate: func(c *Config) { c.VerifyDelay = -time.Second }, wantErr: "negative"},
		{name: "zero max size", mutate: func(c *Config) { c.MaxFileSize = 0 }, wantErr: "file size"},
		{name: "prefix with separator", mutate: func(c *Config) { c.FilePrefix = "a/b" }, wantErr: "prefix"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "named timezone", mutate: func(c *Config) { c.Timezone = "UTC" }},
		{name: "empty output dir", mutate: func(c *Config) { c.OutputDir = "" }, wantErr: "output directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_CreatesOutputDir(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	info, err := os.Stat(cfg.OutputDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConfigLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Timezone = "Asia/Shanghai"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}

func TestConfigHelpers(t *testing.T) {
	cfg := &Config{Host: "192.168.1.1", Port: 9090, Mode: ModeSSE, LogLevel: "debug"}

	assert.Equal(t, "192.168.1.1:9090", cfg.Address())
	assert.True(t, cfg.IsSSEMode())
	assert.True(t, cfg.IsDebug())
	assert.Contains(t, cfg.String(), "Mode: sse")
}
