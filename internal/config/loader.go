package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "UPGRADER",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "UPGRADER",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (UPGRADER_*)
// 3. Project config (.upgrader.yaml in current directory)
// 4. User config (~/.config/upgrader/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if err := l.readDefaultFiles(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// readDefaultFiles merges the user config and then the project config, so
// project values win key by key.
func (l *Loader) readDefaultFiles() error {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "upgrader", "config.yaml"))
	}
	paths = append(paths, ".upgrader.yaml")

	l.v.SetConfigType("yaml")
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		l.v.SetConfigFile(p)
		if err := l.v.MergeInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", p, err)
		}
	}
	return nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("manager.url", "")
	l.v.SetDefault("manager.token", "")
	l.v.SetDefault("manager.timeout", "30s")

	l.v.SetDefault("workflow.perform_dry_run", true)
	l.v.SetDefault("workflow.skip_composer", false)
	l.v.SetDefault("workflow.with_deletes", false)
	l.v.SetDefault("workflow.migration_timeline", "loop")

	l.v.SetDefault("polling.interval", "1s")
	l.v.SetDefault("polling.max_duration", "30m")

	l.v.SetDefault("clear.attempts", 30)
	l.v.SetDefault("clear.delay", "500ms")
	l.v.SetDefault("clear.max_delay", "5s")

	l.v.SetDefault("state.backend", "sqlite")
	l.v.SetDefault("state.path", ".upgrader/state.db")
	l.v.SetDefault("state.lock_ttl", "1h")

	l.v.SetDefault("server.listen", "127.0.0.1:8480")
	l.v.SetDefault("server.allowed_origins", []string{})
	l.v.SetDefault("server.request_timeout", "60s")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
