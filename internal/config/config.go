package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Clear    ClearConfig    `mapstructure:"clear"`
	State    StateConfig    `mapstructure:"state"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ManagerConfig points at the remote management API.
type ManagerConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig holds the defaults of a new update run.
type WorkflowConfig struct {
	PerformDryRun     bool   `mapstructure:"perform_dry_run"`
	SkipComposer      bool   `mapstructure:"skip_composer"`
	WithDeletes       bool   `mapstructure:"with_deletes"`
	MigrationTimeline string `mapstructure:"migration_timeline"`
}

// Core converts the defaults into the engine's run config.
func (w WorkflowConfig) Core() core.WorkflowConfig {
	return core.WorkflowConfig{
		PerformDryRun: w.PerformDryRun,
		SkipComposer:  w.SkipComposer,
		WithDeletes:   w.WithDeletes,
	}
}

// PollingConfig configures the polling sessions of long-running steps.
type PollingConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// ClearConfig bounds the delete retries when clearing pending tasks.
type ClearConfig struct {
	Attempts uint          `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// StateConfig configures snapshot persistence.
type StateConfig struct {
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}
