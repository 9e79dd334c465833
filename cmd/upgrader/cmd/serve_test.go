package cmd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/upgrader/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/upgrader/internal/config"
	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
	"github.com/hugo-lorenzo-mato/upgrader/internal/testutil"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// withServeConfig loads the defaults in an isolated directory and points
// state at a JSON store inside it.
func withServeConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := isolate(t)
	cfg, err := config.NewLoader().Load()
	require.NoError(t, err)
	cfg.Manager.URL = newManagerServer(t, nil, nil).URL
	cfg.State.Backend = state.BackendJSON
	cfg.State.Path = filepath.Join(dir, "state")
	appConfig = cfg

	serveListen = freeAddr(t)
	t.Cleanup(func() { serveListen = "" })
	return cfg
}

// startServe runs the command until the returned cancel is called.
func startServe(t *testing.T) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	t.Cleanup(cancelCtx)
	serveCmd.SetContext(ctx)

	errc := make(chan error, 1)
	go func() { errc <- runServe(serveCmd, nil) }()
	return cancelCtx, errc
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return 0, err
		}
	}
	return resp.StatusCode, nil
}

func waitServed(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
		return nil
	}
}

func TestServe_StartsAndShutsDown(t *testing.T) {
	cfg := withServeConfig(t)
	base := "http://" + serveListen

	cancel, done := startServe(t)
	require.Eventually(t, func() bool {
		code, err := getJSON(base+"/health", nil)
		return err == nil && code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	assert.FileExists(t, lockPath(cfg))
	code, err := getJSON(base+"/api/v1/workflow", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, code)

	cancel()
	require.NoError(t, waitServed(t, done))
	assert.NoFileExists(t, lockPath(cfg))

	_, err = http.Get(base + "/health")
	assert.Error(t, err)
}

func TestServe_RestoresStoredWorkflow(t *testing.T) {
	cfg := withServeConfig(t)
	store := state.NewJSONStore(cfg.State.Path)
	require.NoError(t, store.Save(context.Background(), testutil.NewTestState(testutil.WithID("wf-restored"))))
	base := "http://" + serveListen

	cancel, done := startServe(t)
	var got core.WorkflowState
	require.Eventually(t, func() bool {
		code, err := getJSON(base+"/api/v1/workflow", &got)
		return err == nil && code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "wf-restored", got.ID)

	cancel()
	require.NoError(t, waitServed(t, done))
}

func TestServe_RefusesWhileLocked(t *testing.T) {
	cfg := withServeConfig(t)
	held := state.NewFileLock(lockPath(cfg), time.Hour)
	require.NoError(t, held.Acquire())
	t.Cleanup(func() { _ = held.Release() })

	_, done := startServe(t)
	err := waitServed(t, done)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
	assert.FileExists(t, lockPath(cfg))
}

func TestWatchConfig_WithoutFileIsNoop(t *testing.T) {
	logger := logging.NewNop()
	assert.NotPanics(t, func() {
		watchConfig(nil, logger)
	})
}
