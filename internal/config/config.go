package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment variable this service reads
const EnvPrefix = "LIVESESSION_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Lifecycle *LifecycleConfig `json:"lifecycle"`
	Presence  *PresenceConfig  `json:"presence"`
	Fanout    *FanoutConfig    `json:"fanout"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Log       *LogConfig       `json:"log"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	MigrationsPath string        `json:"migrations_path"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type LifecycleConfig struct {
	DefaultGracePeriod time.Duration `json:"default_grace_period"`
}

type PresenceConfig struct {
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
}

type FanoutConfig struct {
	Shards    int `json:"shards"`
	QueueSize int `json:"queue_size"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// DefaultConfig returns production-ready defaults
// FUNCTIONAL DISCOVERY: The presence timeout outlasts one missed ping so a single
// dropped pong does not flap a participant out of the roster
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/livesession.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Lifecycle: &LifecycleConfig{DefaultGracePeriod: 120 * time.Second},
		Presence:  &PresenceConfig{HeartbeatTimeout: 90 * time.Second},
		Fanout:    &FanoutConfig{Shards: 8, QueueSize: 1024},
		RateLimit: &RateLimitConfig{RequestsPerMinute: 100},
		Log:       &LogConfig{Level: "info"},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Lifecycle == nil || c.Lifecycle.DefaultGracePeriod <= 0 {
		return fmt.Errorf("lifecycle default grace period must be positive")
	}
	if c.Presence == nil || c.Presence.HeartbeatTimeout < 0 {
		return fmt.Errorf("presence heartbeat timeout cannot be negative")
	}
	if c.Fanout == nil || c.Fanout.Shards <= 0 || c.Fanout.QueueSize <= 0 {
		return fmt.Errorf("fanout shards and queue size must be positive")
	}
	if c.RateLimit == nil || c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// ParseLogLevel maps a configured level name to slog
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// LoadDotEnv loads KEY=VALUE pairs from .env files without overriding the
// real environment; missing files are ignored
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFromEnv overlays LIVESESSION_* variables on the defaults
// FUNCTIONAL DISCOVERY: Unparseable values fall back to the default silently
// so one typo does not prevent startup
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("DATABASE_PATH", &c.Database.Path)
	envDuration("DATABASE_TIMEOUT", &c.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)
	envString("DATABASE_MIGRATIONS_PATH", &c.Database.MigrationsPath)

	envInt("HTTP_PORT", &c.HTTP.Port)
	envString("HTTP_HOST", &c.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)

	envDuration("LIFECYCLE_DEFAULT_GRACE_PERIOD", &c.Lifecycle.DefaultGracePeriod)
	envDuration("PRESENCE_HEARTBEAT_TIMEOUT", &c.Presence.HeartbeatTimeout)
	envInt("FANOUT_SHARDS", &c.Fanout.Shards)
	envInt("FANOUT_QUEUE_SIZE", &c.Fanout.QueueSize)
	envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	envString("LOG_LEVEL", &c.Log.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database *struct {
		Path           string `json:"path"`
		Timeout        string `json:"timeout"`
		MaxConnections int    `json:"max_connections"`
		MigrationsPath string `json:"migrations_path"`
	} `json:"database"`
	HTTP *struct {
		Port            int    `json:"port"`
		Host            string `json:"host"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Lifecycle *struct {
		DefaultGracePeriod string `json:"default_grace_period"`
	} `json:"lifecycle"`
	Presence *struct {
		HeartbeatTimeout string `json:"heartbeat_timeout"`
	} `json:"presence"`
	Fanout *struct {
		Shards    int `json:"shards"`
		QueueSize int `json:"queue_size"`
	} `json:"fanout"`
	RateLimit *struct {
		RequestsPerMinute int `json:"requests_per_minute"`
	} `json:"rate_limit"`
	Log *struct {
		Level string `json:"level"`
	} `json:"log"`
}

// LoadFromFile reads a JSON config file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f ConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	if f.Database != nil {
		setString(&c.Database.Path, f.Database.Path)
		errs = append(errs, setDuration(&c.Database.Timeout, f.Database.Timeout, "database.timeout"))
		setInt(&c.Database.MaxConnections, f.Database.MaxConnections)
		setString(&c.Database.MigrationsPath, f.Database.MigrationsPath)
	}
	if f.HTTP != nil {
		setInt(&c.HTTP.Port, f.HTTP.Port)
		setString(&c.HTTP.Host, f.HTTP.Host)
		errs = append(errs,
			setDuration(&c.HTTP.ReadTimeout, f.HTTP.ReadTimeout, "http.read_timeout"),
			setDuration(&c.HTTP.WriteTimeout, f.HTTP.WriteTimeout, "http.write_timeout"),
			setDuration(&c.HTTP.ShutdownTimeout, f.HTTP.ShutdownTimeout, "http.shutdown_timeout"))
	}
	if f.WebSocket != nil {
		setInt(&c.WebSocket.BufferSize, f.WebSocket.BufferSize)
		errs = append(errs,
			setDuration(&c.WebSocket.PingInterval, f.WebSocket.PingInterval, "websocket.ping_interval"),
			setDuration(&c.WebSocket.ReadTimeout, f.WebSocket.ReadTimeout, "websocket.read_timeout"),
			setDuration(&c.WebSocket.WriteTimeout, f.WebSocket.WriteTimeout, "websocket.write_timeout"))
	}
	if f.Lifecycle != nil {
		errs = append(errs, setDuration(&c.Lifecycle.DefaultGracePeriod, f.Lifecycle.DefaultGracePeriod, "lifecycle.default_grace_period"))
	}
	if f.Presence != nil {
		errs = append(errs, setDuration(&c.Presence.HeartbeatTimeout, f.Presence.HeartbeatTimeout, "presence.heartbeat_timeout"))
	}
	if f.Fanout != nil {
		setInt(&c.Fanout.Shards, f.Fanout.Shards)
		setInt(&c.Fanout.QueueSize, f.Fanout.QueueSize)
	}
	if f.RateLimit != nil {
		setInt(&c.RateLimit.RequestsPerMinute, f.RateLimit.RequestsPerMinute)
	}
	if f.Log != nil {
		setString(&c.Log.Level, f.Log.Level)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid durations in %s: %w", path, err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults
// FUNCTIONAL DISCOVERY: A broken config file is reported but environment and
// defaults still produce a usable configuration
func LoadConfigWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		candidate := LoadFromEnv()
		if err := applyFile(candidate, path); err != nil {
			slog.Warn("Ignoring config file", "path", path, "error", err)
		} else if err := candidate.Validate(); err != nil {
			slog.Warn("Ignoring invalid config file", "path", path, "error", err)
		} else {
			config = candidate
		}
	}

	return config
}
