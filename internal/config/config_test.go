package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 3000, ShutdownTimeout: time.Second, RequestTimeout: time.Minute},
		Storage: StorageConfig{
			DataDir:    "data",
			UploadsDir: "uploads",
			TempDir:    "temp",
		},
		Upload:    UploadConfig{MaxFileSize: 1, MaxConcurrent: 1, MaxWaitTime: time.Second},
		Analytics: AnalyticsConfig{Python: "python3", Timeout: time.Second},
		Sweeper:   SweeperConfig{Enabled: true, Interval: time.Minute, MaxAge: time.Hour},
		Rate:      RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 10},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Upload.MaxFileSize != 50*1024*1024 {
		t.Errorf("Upload.MaxFileSize = %d, want 50MB", cfg.Upload.MaxFileSize)
	}
	if cfg.Storage.DataDir != "data" || cfg.Storage.UploadsDir != "uploads" || cfg.Storage.TempDir != "temp" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.AllowlistPath != "States/walmart_stores_ca_only.csv" {
		t.Errorf("Storage.AllowlistPath = %q", cfg.Storage.AllowlistPath)
	}
	if cfg.Analytics.Python != "python3" || cfg.Analytics.ModulePrefix != "scripts.analysis" {
		t.Errorf("Analytics = %+v", cfg.Analytics)
	}
	if !cfg.Sweeper.Enabled || cfg.Sweeper.MaxAge != time.Hour {
		t.Errorf("Sweeper = %+v", cfg.Sweeper)
	}
	if cfg.Rate.RequestsPerMinute != 100 {
		t.Errorf("Rate.RequestsPerMinute = %d, want %d", cfg.Rate.RequestsPerMinute, 100)
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"SERVER_PORT":           "9090",
		"UPLOAD_MAX_CONCURRENT": "10",
		"LOG_LEVEL":             "debug",
		"DATA_DIR":              "/var/lib/nash",
		"PYTHON_PATH":           "/usr/local/bin/python3.13",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Upload.MaxConcurrent != 10 {
		t.Errorf("Upload.MaxConcurrent = %d, want %d", cfg.Upload.MaxConcurrent, 10)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if got, want := cfg.Storage.StoreRegistryPath(), filepath.Join("/var/lib/nash", "store-registry.json"); got != want {
		t.Errorf("StoreRegistryPath() = %q, want %q", got, want)
	}
	if got, want := cfg.Storage.RateCardsPath(), filepath.Join("/var/lib/nash", "rate-cards.json"); got != want {
		t.Errorf("RateCardsPath() = %q, want %q", got, want)
	}
	if cfg.Analytics.Python != "/usr/local/bin/python3.13" {
		t.Errorf("Analytics.Python = %q", cfg.Analytics.Python)
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"PORT": "10000"}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Server.Port != 10000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 10000)
	}

	// The primary name wins over the alternate.
	cfg, err = LoadFrom(env(map[string]string{"PORT": "10000", "SERVER_PORT": "4000"}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 4000)
	}
}

func TestLoad_Duration(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"SERVER_READ_TIMEOUT":  "45s",
		"UPLOAD_MAX_WAIT_TIME": "1m30s",
		"ANALYTICS_TIMEOUT":    "90s",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want %v", cfg.Server.ReadTimeout, 45*time.Second)
	}
	if cfg.Upload.MaxWaitTime != 90*time.Second {
		t.Errorf("Upload.MaxWaitTime = %v, want %v", cfg.Upload.MaxWaitTime, 90*time.Second)
	}
	if cfg.Analytics.Timeout != 90*time.Second {
		t.Errorf("Analytics.Timeout = %v, want %v", cfg.Analytics.Timeout, 90*time.Second)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"bad int", map[string]string{"SERVER_PORT": "eighty"}, "SERVER_PORT"},
		{"bad duration", map[string]string{"ANALYTICS_TIMEOUT": "soon"}, "ANALYTICS_TIMEOUT"},
		{"bad bool", map[string]string{"RATE_LIMIT_ENABLED": "maybe"}, "RATE_LIMIT_ENABLED"},
		{"analytics outlives request", map[string]string{"ANALYTICS_TIMEOUT": "5m", "SERVER_REQUEST_TIMEOUT": "1m"}, "ANALYTICS_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(env(tt.vars))
			if err == nil {
				t.Fatal("LoadFrom() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %s: %v", tt.want, err)
			}
		})
	}
}

func TestLoad_CommaSeparatedSlice(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"TRUSTED_PROXIES":      "10.0.0.0/8, 172.16.0.0/12 , 192.168.0.0/16",
		"ANALYTICS_PYTHONPATH": "/opt/py/site-packages,,",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	expected := []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}
	if len(cfg.Security.TrustedProxies) != len(expected) {
		t.Fatalf("TrustedProxies length = %d, want %d", len(cfg.Security.TrustedProxies), len(expected))
	}
	for i, v := range expected {
		if cfg.Security.TrustedProxies[i] != v {
			t.Errorf("TrustedProxies[%d] = %q, want %q", i, cfg.Security.TrustedProxies[i], v)
		}
	}
	if len(cfg.Analytics.PythonPath) != 1 || cfg.Analytics.PythonPath[0] != "/opt/py/site-packages" {
		t.Errorf("Analytics.PythonPath = %v", cfg.Analytics.PythonPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 99999 }, "SERVER_PORT"},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }, "DATA_DIR"},
		{"zero upload size", func(c *Config) { c.Upload.MaxFileSize = 0 }, "UPLOAD_MAX_FILE_SIZE"},
		{"sweeper without interval", func(c *Config) { c.Sweeper.Interval = 0 }, "SWEEPER_INTERVAL"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "LOG_LEVEL"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("validConfig().Validate() = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %s: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"SERVER_PORT", "LOG_LEVEL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"0.0.0.0", 3000, "0.0.0.0:3000"},
		{"127.0.0.1", 3000, "127.0.0.1:3000"},
		{"::1", 443, "[::1]:443"},
	}

	for _, tt := range tests {
		cfg := &ServerConfig{Host: tt.host, Port: tt.port}
		if got := cfg.Addr(); got != tt.want {
			t.Errorf("Addr() with host=%q, port=%d = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}
