// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Registry file names inside Storage.DataDir.
const (
	StoreRegistryFile = "store-registry.json"
	RateCardsFile     = "rate-cards.json"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Analytics AnalyticsConfig
	Sweeper   SweeperConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 3000). PORT is honoured for
	// hosting platforms that inject it.
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"3000"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"3m"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including the upload drain (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 2m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"2m"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// DataDir holds store-registry.json and rate-cards.json (default: data)
	DataDir string `env:"DATA_DIR" default:"data"`

	// UploadsDir holds accepted Nash CSVs and the current upload pointer (default: uploads)
	UploadsDir string `env:"UPLOADS_DIR" default:"uploads"`

	// TempDir holds registry snapshots passed to analytics (default: temp)
	TempDir string `env:"TEMP_DIR" default:"temp"`

	// AllowlistPath is the CA store reference list, .csv or .xlsx
	AllowlistPath string `env:"ALLOWLIST_PATH" envAlt:"CA_STORES_PATH" default:"States/walmart_stores_ca_only.csv"`

	// AllowlistSheet selects the workbook sheet for .xlsx references (default: first sheet)
	AllowlistSheet string `env:"ALLOWLIST_SHEET"`
}

// UploadConfig holds Nash CSV upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of uploads validated at once (default: 4)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// AnalyticsConfig controls the external analysis process.
type AnalyticsConfig struct {
	// Python is the interpreter to run (default: python3)
	Python string `env:"PYTHON_PATH" default:"python3"`

	// ModulePrefix is prepended to script names for `python -m` (default: scripts.analysis)
	ModulePrefix string `env:"ANALYTICS_MODULE_PREFIX" default:"scripts.analysis"`

	// WorkDir is the project root the scripts are run from (default: .)
	WorkDir string `env:"ANALYTICS_WORKDIR" default:"."`

	// PythonPath lists extra PYTHONPATH entries, comma-separated
	PythonPath []string `env:"ANALYTICS_PYTHONPATH"`

	// Timeout bounds a single script run (default: 2m)
	Timeout time.Duration `env:"ANALYTICS_TIMEOUT" default:"2m"`
}

// SweeperConfig controls removal of stale temp and staging files.
type SweeperConfig struct {
	Enabled  bool          `env:"SWEEPER_ENABLED" default:"true"`
	Interval time.Duration `env:"SWEEPER_INTERVAL" default:"15m"`
	MaxAge   time.Duration `env:"SWEEPER_MAX_AGE" default:"1h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload and bulk endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StoreRegistryPath returns the store registry file path.
func (c *StorageConfig) StoreRegistryPath() string {
	return filepath.Join(c.DataDir, StoreRegistryFile)
}

// RateCardsPath returns the rate card file path.
func (c *StorageConfig) RateCardsPath() string {
	return filepath.Join(c.DataDir, RateCardsFile)
}
