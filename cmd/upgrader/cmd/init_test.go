package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/upgrader/internal/config"
)

func TestInit_WritesDefaultConfig(t *testing.T) {
	dir := isolate(t)
	t.Cleanup(func() { initForce = false })

	var out bytes.Buffer
	initCmd.SetOut(&out)
	t.Cleanup(func() { initCmd.SetOut(nil) })

	require.NoError(t, runInit(initCmd, nil))
	assert.Contains(t, out.String(), "Initialized upgrader")

	data, err := os.ReadFile(filepath.Join(dir, ".upgrader.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))
	assert.DirExists(t, filepath.Join(dir, ".upgrader"))

	// The written file loads and validates.
	cfg, err := config.NewLoader().WithConfigFile(filepath.Join(dir, ".upgrader.yaml")).Load()
	require.NoError(t, err)
	assert.NoError(t, config.ValidateConfig(cfg))

	assert.Error(t, runInit(initCmd, nil), "existing config without --force")

	initForce = true
	assert.NoError(t, runInit(initCmd, nil))
}
