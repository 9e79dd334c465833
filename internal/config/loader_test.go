package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points HOME at an empty dir so a real user config cannot leak in.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoader_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}
	if cfg.Manager.Timeout != 30*time.Second {
		t.Errorf("Manager.Timeout = %v, want 30s", cfg.Manager.Timeout)
	}
	if !cfg.Workflow.PerformDryRun {
		t.Error("Workflow.PerformDryRun = false, want true")
	}
	if cfg.Workflow.MigrationTimeline != "loop" {
		t.Errorf("Workflow.MigrationTimeline = %q, want loop", cfg.Workflow.MigrationTimeline)
	}
	if cfg.Polling.Interval != time.Second || cfg.Polling.MaxDuration != 30*time.Minute {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if cfg.Clear.Attempts != 30 || cfg.Clear.Delay != 500*time.Millisecond || cfg.Clear.MaxDelay != 5*time.Second {
		t.Errorf("Clear = %+v", cfg.Clear)
	}
	if cfg.State.Backend != "sqlite" || cfg.State.Path != ".upgrader/state.db" {
		t.Errorf("State = %+v", cfg.State)
	}
	if cfg.Server.Listen != "127.0.0.1:8480" {
		t.Errorf("Server.Listen = %q", cfg.Server.Listen)
	}

	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoader_DefaultYAMLMatchesDefaults(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	fromFile, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load(file) error = %v", err)
	}
	defaults, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if fromFile.Workflow != defaults.Workflow || fromFile.Polling != defaults.Polling ||
		fromFile.Clear != defaults.Clear || fromFile.State != defaults.State ||
		fromFile.Manager != defaults.Manager || fromFile.Log != defaults.Log {
		t.Errorf("DefaultConfigYAML diverges from defaults:\nfile: %+v\ndefaults: %+v", fromFile, defaults)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("UPGRADER_LOG_LEVEL", "debug")
	t.Setenv("UPGRADER_MANAGER_TOKEN", "env-token")
	t.Setenv("UPGRADER_POLLING_INTERVAL", "250ms")
	t.Setenv("UPGRADER_WORKFLOW_PERFORM_DRY_RUN", "false")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Manager.Token != "env-token" {
		t.Errorf("Manager.Token = %q, want env-token", cfg.Manager.Token)
	}
	if cfg.Polling.Interval != 250*time.Millisecond {
		t.Errorf("Polling.Interval = %v, want 250ms", cfg.Polling.Interval)
	}
	if cfg.Workflow.PerformDryRun {
		t.Error("Workflow.PerformDryRun = true, want false from env")
	}
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	isolate(t)
	t.Setenv("UPGRADER_LOG_LEVEL", "error")
	t.Setenv("CMSUP_LOG_LEVEL", "warn")

	cfg, err := NewLoader().WithEnvPrefix("CMSUP").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn from CMSUP_LOG_LEVEL", cfg.Log.Level)
	}
}

func TestLoader_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `
manager:
  url: https://example.com/contao-manager.phar.php
  timeout: 10s
workflow:
  migration_timeline: expand
state:
  backend: json
  path: /tmp/upgrader-state
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader().WithConfigFile(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Manager.URL != "https://example.com/contao-manager.phar.php" {
		t.Errorf("Manager.URL = %q", cfg.Manager.URL)
	}
	if cfg.Manager.Timeout != 10*time.Second {
		t.Errorf("Manager.Timeout = %v, want 10s", cfg.Manager.Timeout)
	}
	if cfg.Workflow.MigrationTimeline != "expand" {
		t.Errorf("MigrationTimeline = %q, want expand", cfg.Workflow.MigrationTimeline)
	}
	if cfg.State.Backend != "json" {
		t.Errorf("State.Backend = %q, want json", cfg.State.Backend)
	}
	// Unset keys keep their defaults.
	if cfg.Polling.Interval != time.Second {
		t.Errorf("Polling.Interval = %v, want default 1s", cfg.Polling.Interval)
	}
	if loader.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), path)
	}
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	if err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoader_ProjectOverridesUser(t *testing.T) {
	home := isolate(t)
	userDir := filepath.Join(home, ".config", "upgrader")
	if err := os.MkdirAll(userDir, 0o750); err != nil {
		t.Fatal(err)
	}
	user := "log:\n  level: warn\nmanager:\n  url: https://user.example.com\n"
	if err := os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(user), 0o600); err != nil {
		t.Fatal(err)
	}

	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, ".upgrader.yaml"), []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(project)

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from project config", cfg.Log.Level)
	}
	if cfg.Manager.URL != "https://user.example.com" {
		t.Errorf("Manager.URL = %q, want the user config value", cfg.Manager.URL)
	}
}

func TestLoader_InvalidYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("log: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().WithConfigFile(path).Load(); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
