package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/upgrader/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/upgrader/internal/config"
	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/testutil"
)

// withStatusStore points the status command at a JSON store in a temp dir
// holding the given runs. The last one is active.
func withStatusStore(t *testing.T, runs ...*core.WorkflowState) {
	t.Helper()
	dir := t.TempDir()
	store := state.NewJSONStore(dir)
	for _, wf := range runs {
		require.NoError(t, store.Save(context.Background(), wf))
	}

	oldCfg := appConfig
	appConfig = &config.Config{State: config.StateConfig{Backend: state.BackendJSON, Path: dir}}
	noColor = true
	t.Cleanup(func() {
		appConfig = oldCfg
		noColor = false
		statusJSON, statusYAML, statusAll, statusID = false, false, false, ""
	})
}

func execStatus(t *testing.T) (string, error) {
	t.Helper()
	var out bytes.Buffer
	statusCmd.SetOut(&out)
	statusCmd.SetContext(context.Background())
	t.Cleanup(func() { statusCmd.SetOut(nil) })
	err := runStatus(statusCmd, nil)
	return out.String(), err
}

func TestStatus_NoWorkflow(t *testing.T) {
	withStatusStore(t)

	out, err := execStatus(t)
	require.NoError(t, err)
	assert.Equal(t, "No active workflow\n", out)
}

func TestStatus_Timeline(t *testing.T) {
	withStatusStore(t, testutil.NewTestState(testutil.WithID("wf-1"), testutil.WithCursor(1)))

	out, err := execStatus(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Update wf-1")
	assert.Contains(t, out, "Check pending tasks")
	assert.Contains(t, out, "Update version information")
}

func TestStatus_JSON(t *testing.T) {
	withStatusStore(t, testutil.NewTestState(testutil.WithID("wf-1")))
	statusJSON = true

	out, err := execStatus(t)
	require.NoError(t, err)

	var got core.WorkflowState
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, core.WorkflowID("wf-1"), got.ID)
	assert.Len(t, got.Steps, 4)
}

func TestStatus_YAMLUsesJSONFieldNames(t *testing.T) {
	withStatusStore(t, testutil.NewTestState(testutil.WithID("wf-1")))
	statusYAML = true

	out, err := execStatus(t)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "wf-1", got["id"])
	assert.Contains(t, got, "current_step")
	assert.Contains(t, got, "steps")
}

func TestStatus_AllAndByID(t *testing.T) {
	older := testutil.NewTestState(testutil.WithID("wf-old"),
		testutil.WithUpdatedAt(time.Now().Add(-2*time.Hour)))
	newer := testutil.NewTestState(testutil.WithID("wf-new"),
		testutil.WithUpdatedAt(time.Now().Add(-time.Minute)))
	withStatusStore(t, older, newer)

	statusAll = true
	out, err := execStatus(t)
	require.NoError(t, err)
	assert.Contains(t, out, "wf-new")
	assert.Contains(t, out, "wf-old")

	statusAll, statusID = false, "wf-old"
	out, err = execStatus(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Update wf-old")

	statusID = "wf-missing"
	_, err = execStatus(t)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}
