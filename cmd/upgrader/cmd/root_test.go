package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with an empty HOME so no
// real config leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)

	oldCfg, oldFile := appConfig, cfgFile
	t.Cleanup(func() {
		appConfig, cfgFile = oldCfg, oldFile
		appViper = nil
	})
	return dir
}

func TestExecute_Help(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--help"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Contains(t, out.String(), "upgrader")
	for _, sub := range []string{"run", "serve", "status", "pending", "init", "version"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestGetVersionFunction(t *testing.T) {
	SetVersion("test-version-func", "test-commit", "test-date")
	assert.Equal(t, "test-version-func", GetVersion())
}

func TestInitConfig_Defaults(t *testing.T) {
	isolate(t)
	cfgFile = ""

	require.NoError(t, initConfig(rootCmd.PersistentFlags()))
	require.NotNil(t, appConfig)
	assert.Equal(t, "info", appConfig.Log.Level)
	assert.Equal(t, "sqlite", appConfig.State.Backend)
	assert.True(t, appConfig.Workflow.PerformDryRun)
	assert.NotNil(t, appViper)
}

func TestInitConfig_ExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
manager:
  url: https://example.org/contao-manager.phar.php
workflow:
  perform_dry_run: false
  migration_timeline: expand
`), 0o600))
	cfgFile = path

	require.NoError(t, initConfig(rootCmd.PersistentFlags()))
	assert.Equal(t, "https://example.org/contao-manager.phar.php", appConfig.Manager.URL)
	assert.False(t, appConfig.Workflow.PerformDryRun)
	assert.Equal(t, "expand", appConfig.Workflow.MigrationTimeline)
	assert.Equal(t, path, appViper.ConfigFileUsed())
}

func TestInitConfig_InvalidConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  migration_timeline: spiral\n"), 0o600))
	cfgFile = path

	assert.Error(t, initConfig(rootCmd.PersistentFlags()))
}

func TestInitConfig_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	cfgFile = filepath.Join(dir, "missing.yaml")

	assert.Error(t, initConfig(rootCmd.PersistentFlags()))
}

func TestLockPathSitsNextToState(t *testing.T) {
	isolate(t)
	cfgFile = ""
	require.NoError(t, initConfig(rootCmd.PersistentFlags()))

	assert.Equal(t, filepath.Join(".upgrader", "upgrader.lock"), lockPath(appConfig))
}

// resetPersistentFlags undoes what a parsed command line left on rootCmd.
func resetPersistentFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})
}

func TestExecute_LogLevelFlagOverridesConfig(t *testing.T) {
	dir := isolate(t)
	resetPersistentFlags(t)
	path := filepath.Join(dir, "upgrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
state:
  backend: json
  path: `+filepath.Join(dir, "state")+`
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "--log-level", "debug", "--no-color", "status"})

	require.NoError(t, Execute())
	assert.Equal(t, "No active workflow\n", out.String())
	require.NotNil(t, appConfig)
	assert.Equal(t, "debug", appConfig.Log.Level)
	assert.Equal(t, "json", appConfig.State.Backend)
}

func TestExecute_ConfigFileLevelWinsWithoutFlag(t *testing.T) {
	dir := isolate(t)
	resetPersistentFlags(t)
	path := filepath.Join(dir, "upgrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "version"})

	require.NoError(t, Execute())
	require.NoError(t, initConfig(rootCmd.PersistentFlags()))
	assert.Equal(t, "warn", appConfig.Log.Level)
}
