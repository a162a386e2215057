package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", config.HTTP.Port)
	}
	if config.Lifecycle.DefaultGracePeriod != 120*time.Second {
		t.Errorf("Expected 120s grace period, got %v", config.Lifecycle.DefaultGracePeriod)
	}
	if config.Presence.HeartbeatTimeout <= config.WebSocket.PingInterval {
		t.Error("Heartbeat timeout must outlast the ping interval")
	}
	if config.RateLimit.RequestsPerMinute != 100 {
		t.Errorf("Expected 100 requests per minute, got %d", config.RateLimit.RequestsPerMinute)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing database", func(c *Config) { c.Database = nil }, "database configuration is required"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database path cannot be empty"},
		{"zero max connections", func(c *Config) { c.Database.MaxConnections = 0 }, "max connections"},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP port must be between"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "HTTP host cannot be empty"},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }, "must exceed the ping interval"},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }, "buffer size"},
		{"zero grace period", func(c *Config) { c.Lifecycle.DefaultGracePeriod = 0 }, "grace period"},
		{"negative heartbeat", func(c *Config) { c.Presence.HeartbeatTimeout = -time.Second }, "heartbeat"},
		{"zero shards", func(c *Config) { c.Fanout.Shards = 0 }, "fanout"},
		{"zero rate limit", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }, "rate limit"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Error %q should contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LIVESESSION_HTTP_PORT", "9090")
	t.Setenv("LIVESESSION_DATABASE_PATH", "/tmp/sessions.db")
	t.Setenv("LIVESESSION_LIFECYCLE_DEFAULT_GRACE_PERIOD", "45s")
	t.Setenv("LIVESESSION_FANOUT_SHARDS", "16")
	t.Setenv("LIVESESSION_LOG_LEVEL", "debug")
	t.Setenv("LIVESESSION_WEBSOCKET_BUFFER_SIZE", "not-a-number")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/sessions.db" {
		t.Errorf("Expected database path override, got %s", config.Database.Path)
	}
	if config.Lifecycle.DefaultGracePeriod != 45*time.Second {
		t.Errorf("Expected 45s grace period, got %v", config.Lifecycle.DefaultGracePeriod)
	}
	if config.Fanout.Shards != 16 {
		t.Errorf("Expected 16 shards, got %d", config.Fanout.Shards)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Expected debug log level, got %s", config.Log.Level)
	}
	if config.WebSocket.BufferSize != 100 {
		t.Errorf("Unparseable value should keep default, got %d", config.WebSocket.BufferSize)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {"path": "/data/test.db", "timeout": "10s"},
		"http": {"port": 9000, "read_timeout": "15s"},
		"websocket": {"ping_interval": "20s", "read_timeout": "50s"},
		"lifecycle": {"default_grace_period": "2m"},
		"presence": {"heartbeat_timeout": "75s"},
		"rate_limit": {"requests_per_minute": 30}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Database.Path != "/data/test.db" || config.Database.Timeout != 10*time.Second {
		t.Errorf("Unexpected database config: %+v", config.Database)
	}
	if config.HTTP.Port != 9000 || config.HTTP.ReadTimeout != 15*time.Second {
		t.Errorf("Unexpected HTTP config: %+v", config.HTTP)
	}
	if config.HTTP.Host != "0.0.0.0" {
		t.Error("Unset fields should keep defaults")
	}
	if config.Lifecycle.DefaultGracePeriod != 2*time.Minute || config.Presence.HeartbeatTimeout != 75*time.Second {
		t.Errorf("Unexpected lifecycle/presence config")
	}
	if config.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("Expected 30 requests per minute, got %d", config.RateLimit.RequestsPerMinute)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"http": {"port": }`},
		{"bad duration", `{"lifecycle": {"default_grace_period": "soon"}}`},
		{"invalid result", `{"websocket": {"ping_interval": "2m"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromFile(writeConfigFile(t, tt.content)); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("LIVESESSION_HTTP_PORT", "9090")
	t.Setenv("LIVESESSION_HTTP_HOST", "127.0.0.1")

	path := writeConfigFile(t, `{"http": {"port": 7070}}`)
	config := LoadConfigWithPrecedence(path)

	if config.HTTP.Port != 7070 {
		t.Errorf("File should override environment, got port %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Environment should override defaults, got host %s", config.HTTP.Host)
	}

	broken := writeConfigFile(t, `not json`)
	config = LoadConfigWithPrecedence(broken)
	if config.HTTP.Port != 9090 {
		t.Errorf("Broken file should fall back to environment, got port %d", config.HTTP.Port)
	}

	config = LoadConfigWithPrecedence("")
	if config.HTTP.Port != 9090 {
		t.Errorf("Empty path should use environment, got port %d", config.HTTP.Port)
	}
}

func TestConfig_LoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LIVESESSION_FANOUT_QUEUE_SIZE=64\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Setenv("LIVESESSION_FANOUT_QUEUE_SIZE", "")
	os.Unsetenv("LIVESESSION_FANOUT_QUEUE_SIZE")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if config := LoadFromEnv(); config.Fanout.QueueSize != 64 {
		t.Errorf("Expected queue size from .env, got %d", config.Fanout.QueueSize)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, want := range tests {
		got, err := ParseLogLevel(input)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
}
