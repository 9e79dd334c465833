package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
	"github.com/hugo-lorenzo-mato/upgrader/internal/testutil"
)

// readEvents collects "event:" lines until n have been read.
func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []string {
	t.Helper()
	var types []string
	for len(types) < n && scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	require.Len(t, types, n, "stream ended early: %v", scanner.Err())
	return types
}

func TestSSE_StreamsEvents(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	srv := httptest.NewServer(NewServer(newFakeController(), WithEventBus(bus)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"connected", events.TypeWorkflowStateUpdated}, readEvents(t, scanner, 2))

	testutil.Eventually(t, time.Second, func() bool { return bus.SubscriberCount() == 1 }, "subscriber registered")
	bus.Publish(events.NewWorkflowPausedEvent("wf-1", "check-migrations", "confirm migrations"))

	assert.Equal(t, []string{events.TypeWorkflowPaused}, readEvents(t, scanner, 1))
	scanner.Scan()
	assert.Contains(t, scanner.Text(), `"reason":"confirm migrations"`)
}

func TestSSE_TypeFilter(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	fc := newFakeController()
	fc.state = nil
	srv := httptest.NewServer(NewServer(fc, WithEventBus(bus)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/events?types="+events.TypeStepFailed, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"connected"}, readEvents(t, scanner, 1))

	testutil.Eventually(t, time.Second, func() bool { return bus.SubscriberCount() == 1 }, "subscriber registered")
	bus.Publish(events.NewWorkflowEvent(events.TypeWorkflowStarted, "wf-1", ""))
	bus.Publish(events.NewStepEvent(events.TypeStepFailed, "wf-1", core.Step{ID: "composer-update", Status: core.StepError}))

	assert.Equal(t, []string{events.TypeStepFailed}, readEvents(t, scanner, 1))
}

func TestSSE_WithoutBus(t *testing.T) {
	rec := do(t, NewServer(newFakeController()).Handler(), http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
