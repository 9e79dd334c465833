package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a valid configuration for testing.
func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Manager: ManagerConfig{
			URL:     "https://example.com/contao-manager.phar.php",
			Timeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{PerformDryRun: true, MigrationTimeline: "loop"},
		Polling:  PollingConfig{Interval: time.Second, MaxDuration: 30 * time.Minute},
		Clear:    ClearConfig{Attempts: 30, Delay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		State:    StateConfig{Backend: "sqlite", Path: ".upgrader/state.db", LockTTL: time.Hour},
		Server:   ServerConfig{Listen: "127.0.0.1:8480", RequestTimeout: time.Minute},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Errorf("ValidateConfig() error = %v", err)
	}
}

func TestValidator_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"manager url scheme", func(c *Config) { c.Manager.URL = "ftp://example.com" }, "manager.url"},
		{"manager url host", func(c *Config) { c.Manager.URL = "https://" }, "manager.url"},
		{"manager timeout", func(c *Config) { c.Manager.Timeout = 0 }, "manager.timeout"},
		{"timeline", func(c *Config) { c.Workflow.MigrationTimeline = "spiral" }, "workflow.migration_timeline"},
		{"polling interval", func(c *Config) { c.Polling.Interval = 0 }, "polling.interval"},
		{"polling max", func(c *Config) { c.Polling.MaxDuration = time.Millisecond }, "polling.max_duration"},
		{"clear delay", func(c *Config) { c.Clear.Delay = 0 }, "clear.delay"},
		{"clear max delay", func(c *Config) { c.Clear.MaxDelay = time.Millisecond }, "clear.max_delay"},
		{"state backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"state path", func(c *Config) { c.State.Path = " " }, "state.path"},
		{"lock ttl", func(c *Config) { c.State.LockTTL = 0 }, "state.lock_ttl"},
		{"listen", func(c *Config) { c.Server.Listen = "8480" }, "server.listen"},
		{"request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T, want ValidationErrors", err)
			}
			if len(verrs) != 1 || verrs[0].Field != tt.field {
				t.Errorf("errors = %v, want one on %s", verrs, tt.field)
			}
		})
	}
}

func TestValidator_EmptyManagerURLAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Manager.URL = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("ValidateConfig() error = %v", err)
	}
}

func TestValidator_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "loud"
	cfg.State.Backend = ""
	cfg.Polling.Interval = 0

	v := NewValidator()
	err := v.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !v.Errors().HasErrors() || len(v.Errors()) != 3 {
		t.Errorf("Errors() = %v, want 3", v.Errors())
	}
	if !strings.Contains(err.Error(), "log.level") || !strings.Contains(err.Error(), "state.backend") {
		t.Errorf("Error() = %q", err.Error())
	}
}
