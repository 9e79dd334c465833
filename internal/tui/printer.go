package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
)

// EventPrinter writes one line per step or workflow event. It is the output
// of the run command when the terminal is not interactive.
type EventPrinter struct {
	writer   io.Writer
	useColor bool
	verbose  bool
	mu       sync.Mutex
	r        *Renderer
}

// NewEventPrinter creates a printer writing to stdout.
func NewEventPrinter(useColor, verbose bool) *EventPrinter {
	return &EventPrinter{
		writer:   os.Stdout,
		useColor: useColor,
		verbose:  verbose,
		r:        NewRenderer(useColor, 0),
	}
}

// WithWriter sets a custom writer.
func (p *EventPrinter) WithWriter(w io.Writer) *EventPrinter {
	p.writer = w
	return p
}

// Run prints events from ch until it closes or ctx ends.
func (p *EventPrinter) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.Print(ev)
		}
	}
}

// Print writes a single event. Snapshot events are ignored.
func (p *EventPrinter) Print(ev events.Event) {
	line := p.format(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.writer, "%s %s\n", p.r.paint(MutedStyle, ev.Timestamp().Format("15:04:05")), line)
}

func (p *EventPrinter) format(ev events.Event) string {
	switch e := ev.(type) {
	case events.StepEvent:
		if e.EventType() == events.TypeStepProgress && !p.verbose {
			return ""
		}
		line := fmt.Sprintf("%s %s", p.r.paint(StatusStyle(e.Status), StatusIcon(e.Status)), e.Title)
		if e.Status == core.StepUserActionRequired {
			line += p.r.paint(MutedStyle, " (waiting for user)")
		}
		if e.Error != "" {
			line += ": " + p.r.paint(ErrorTextStyle, e.Error)
		}
		if p.verbose && e.Status == core.StepActive {
			line += p.r.paint(MutedStyle, " ["+e.StepID+"]")
		}
		return line
	case events.MigrationEvent:
		if !p.verbose {
			return ""
		}
		return p.r.paint(MutedStyle, fmt.Sprintf("  migration cycle %d %s %s, %d operations",
			e.Cycle, e.StepType, e.Status, e.Operations))
	case events.WorkflowCompletedEvent:
		return p.r.paint(StatusStyle(core.StepComplete),
			fmt.Sprintf("Update complete in %s (%d skipped, %d migration cycles)",
				e.Duration.Round(time.Second), e.Skipped, e.Cycles))
	case events.WorkflowEvent:
		switch e.EventType() {
		case events.TypeWorkflowStarted:
			return p.r.paint(HeaderStyle, "Update started")
		case events.TypeWorkflowPaused:
			return p.r.paint(StatusStyle(core.StepUserActionRequired), "Paused: "+e.Reason)
		case events.TypeWorkflowFailed:
			return p.r.paint(ErrorTextStyle, "Halted: "+e.Error)
		case events.TypeWorkflowStopped:
			return "Stopped"
		case events.TypeWorkflowCancelled:
			return p.r.paint(StatusStyle(core.StepCancelled), "Cancelled")
		case events.TypeWorkflowResumed:
			return "Resumed"
		case events.TypeWorkflowInitialized:
			if p.verbose {
				return "Workflow " + e.WorkflowID() + " initialized"
			}
		}
	}
	return ""
}
