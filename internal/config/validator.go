package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration. The manager URL may be
// empty here; commands that talk to the manager require it themselves.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateManager(&cfg.Manager)
	v.validateWorkflow(&cfg.Workflow)
	v.validatePolling(&cfg.Polling)
	v.validateClear(&cfg.Clear)
	v.validateState(&cfg.State)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateManager(cfg *ManagerConfig) {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError("manager.url", cfg.URL, "must be an http or https URL")
		}
	}
	if cfg.Timeout <= 0 {
		v.addError("manager.timeout", cfg.Timeout, "must be positive")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	switch cfg.MigrationTimeline {
	case "loop", "expand":
	default:
		v.addError("workflow.migration_timeline", cfg.MigrationTimeline, "must be one of: loop, expand")
	}
}

func (v *Validator) validatePolling(cfg *PollingConfig) {
	if cfg.Interval <= 0 {
		v.addError("polling.interval", cfg.Interval, "must be positive")
	}
	if cfg.MaxDuration < cfg.Interval {
		v.addError("polling.max_duration", cfg.MaxDuration, "must be >= polling.interval")
	}
}

func (v *Validator) validateClear(cfg *ClearConfig) {
	if cfg.Delay <= 0 {
		v.addError("clear.delay", cfg.Delay, "must be positive")
	}
	if cfg.MaxDelay < cfg.Delay {
		v.addError("clear.max_delay", cfg.MaxDelay, "must be >= clear.delay")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "json", "sqlite":
	default:
		v.addError("state.backend", cfg.Backend, "must be one of: json, sqlite")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("state.path", cfg.Path, "path required")
	}
	if cfg.LockTTL <= 0 {
		v.addError("state.lock_ttl", cfg.LockTTL, "must be positive")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		v.addError("server.listen", cfg.Listen, "must be host:port")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("server.request_timeout", cfg.RequestTimeout, "must be positive")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
