package tui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
	"github.com/hugo-lorenzo-mato/upgrader/internal/testutil"
)

func printedLines(buf *bytes.Buffer) []string {
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestEventPrinter_StepEvents(t *testing.T) {
	var buf bytes.Buffer
	p := NewEventPrinter(false, false).WithWriter(&buf)

	step := core.Step{ID: "check-tasks", Kind: core.KindCheckTasks, Title: "Check pending tasks", Status: core.StepActive}
	p.Print(events.NewStepEvent(events.TypeStepStarted, "wf-1", step))
	p.Print(events.NewStepEvent(events.TypeStepProgress, "wf-1", step))

	step.Status = core.StepError
	step.Error = "task still running"
	p.Print(events.NewStepEvent(events.TypeStepFailed, "wf-1", step))

	step.Status = core.StepUserActionRequired
	step.Error = ""
	p.Print(events.NewStepEvent(events.TypeStepActionRequired, "wf-1", step))

	lines := printedLines(&buf)
	require.Len(t, lines, 3, "progress events are quiet unless verbose")
	assert.Contains(t, lines[0], "◐ Check pending tasks")
	assert.Contains(t, lines[1], "✗ Check pending tasks: task still running")
	assert.Contains(t, lines[2], "! Check pending tasks (waiting for user)")
}

func TestEventPrinter_WorkflowEvents(t *testing.T) {
	var buf bytes.Buffer
	p := NewEventPrinter(false, false).WithWriter(&buf)

	p.Print(events.NewWorkflowEvent(events.TypeWorkflowInitialized, "wf-1", ""))
	p.Print(events.NewWorkflowEvent(events.TypeWorkflowStarted, "wf-1", "check-tasks"))
	p.Print(events.NewWorkflowPausedEvent("wf-1", "check-migrations", "migrations pending"))
	p.Print(events.NewWorkflowFailedEvent("wf-1", "execute-migrations", "migration failed"))
	p.Print(events.NewWorkflowCompletedEvent("wf-1", 95*time.Second, 2, 1))
	p.Print(events.NewStateUpdatedEvent(testutil.NewTestState()))

	lines := printedLines(&buf)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Update started")
	assert.Contains(t, lines[1], "Paused: migrations pending")
	assert.Contains(t, lines[2], "Halted: migration failed")
	assert.Contains(t, lines[3], "Update complete in 1m35s (2 skipped, 1 migration cycles)")
}

func TestEventPrinter_VerboseShowsDetail(t *testing.T) {
	var buf bytes.Buffer
	p := NewEventPrinter(false, true).WithWriter(&buf)

	p.Print(events.NewWorkflowEvent(events.TypeWorkflowInitialized, "wf-1", ""))
	entry := core.MigrationExecutionHistory{Cycle: 2, StepType: core.HistoryCheck, Status: core.StepComplete}
	p.Print(events.NewMigrationEvent("wf-1", "check-migrations-2", entry, testutil.PendingMigration("h", "a", "b"), false))

	lines := printedLines(&buf)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Workflow wf-1 initialized")
	assert.Contains(t, lines[1], "migration cycle 2 check complete, 2 operations")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEventPrinter_RunStopsWhenChannelCloses(t *testing.T) {
	buf := &lockedBuffer{}
	p := NewEventPrinter(false, false).WithWriter(buf)

	bus := events.New(10)
	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), ch)
		close(done)
	}()

	bus.Publish(events.NewWorkflowEvent(events.TypeWorkflowStopped, "wf-1", ""))
	testutil.Eventually(t, time.Second, func() bool {
		return strings.Contains(buf.String(), "Stopped")
	}, "stopped event printed")

	bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}

func TestEventPrinter_RunStopsOnContext(t *testing.T) {
	p := NewEventPrinter(false, false).WithWriter(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan events.Event))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run ignored the cancelled context")
	}
}
