package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// Renderer turns workflow snapshots into terminal text.
type Renderer struct {
	color bool
	width int
	now   func() time.Time
}

// NewRenderer creates a renderer. Without color every style is dropped.
func NewRenderer(color bool, width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{color: color, width: width, now: time.Now}
}

func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

// WorkflowStatus summarizes a snapshot in one word.
func WorkflowStatus(state *core.WorkflowState) string {
	switch {
	case state == nil:
		return "none"
	case state.IsRunning:
		return "running"
	case state.IsComplete():
		return "complete"
	case state.Error != "":
		return "halted"
	case state.IsPaused:
		return "paused"
	case state.StartTime == nil:
		return "ready"
	default:
		return "stopped"
	}
}

// Timeline renders the header, one line per step, the migration history of
// the migration steps and the actions offered by the current step.
func (r *Renderer) Timeline(state *core.WorkflowState) string {
	if state == nil {
		return "No workflow.\n"
	}

	var b strings.Builder
	header := fmt.Sprintf("Update %s  %s", state.ID, strings.ToUpper(WorkflowStatus(state)))
	b.WriteString(r.paint(HeaderStyle, header))
	b.WriteString("\n")

	var meta []string
	if state.StartTime != nil {
		meta = append(meta, "started "+humanize.RelTime(*state.StartTime, r.now(), "ago", "from now"))
	}
	if state.MigrationCycle > 0 {
		meta = append(meta, fmt.Sprintf("migration cycle %d", state.MigrationCycle))
	}
	if !state.UpdatedAt.IsZero() {
		meta = append(meta, "updated "+humanize.RelTime(state.UpdatedAt, r.now(), "ago", "from now"))
	}
	if len(meta) > 0 {
		b.WriteString(r.paint(MutedStyle, strings.Join(meta, " · ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	titleWidth := 0
	for _, st := range state.Steps {
		if len(st.Title) > titleWidth {
			titleWidth = len(st.Title)
		}
	}

	for i, st := range state.Steps {
		b.WriteString(r.stepLine(st, i == state.CurrentStep, titleWidth))
		for _, h := range st.MigrationHistory {
			b.WriteString(r.historyLine(h))
		}
		if st.Error != "" {
			b.WriteString("      ")
			b.WriteString(r.paint(ErrorTextStyle, st.Error))
			b.WriteString("\n")
		}
	}

	if state.Error != "" {
		b.WriteString("\n")
		b.WriteString(r.paint(ErrorTextStyle, "Error: "+state.Error))
		b.WriteString("\n")
	}

	if pm := state.PendingMigration; pm != nil {
		b.WriteString("\n")
		b.WriteString(r.pendingBox(pm))
		b.WriteString("\n")
	}

	if cur := state.Current(); cur != nil && len(cur.UserActions) > 0 && !state.IsRunning {
		b.WriteString("\n")
		b.WriteString(r.Actions(cur.UserActions))
	}
	return b.String()
}

func (r *Renderer) stepLine(st core.Step, current bool, titleWidth int) string {
	cursor := " "
	if current {
		cursor = ">"
	}
	icon := r.paint(StatusStyle(st.Status), StatusIcon(st.Status))
	title := fmt.Sprintf("%-*s", titleWidth, st.Title)
	if current {
		title = r.paint(lipgloss.NewStyle().Bold(true), title)
	}

	detail := string(st.Status)
	if d := stepDuration(st); d > 0 {
		detail += "  " + d.String()
	}
	return fmt.Sprintf("%s %s %s  %s\n", cursor, icon, title, r.paint(MutedStyle, detail))
}

func (r *Renderer) historyLine(h core.MigrationExecutionHistory) string {
	line := fmt.Sprintf("      cycle %d %-7s %s", h.Cycle, h.StepType, h.Status)
	if h.Error != "" {
		line += ": " + h.Error
	}
	return r.paint(StatusStyle(h.Status), line) + "\n"
}

func (r *Renderer) pendingBox(pm *core.PendingMigration) string {
	text := fmt.Sprintf("%d migration operations pending (cycle %d)", len(pm.Migration.Operations), pm.Cycle)
	if pm.Migration.HasDeletes() {
		text += "\nsome operations delete data"
	}
	if !r.color {
		return text
	}
	return BoxStyle.Render(text)
}

// Actions lists user actions as "[id] label" lines.
func (r *Renderer) Actions(actions []core.UserAction) string {
	var b strings.Builder
	b.WriteString("Actions:\n")
	for i, a := range actions {
		style := ActionStyle
		if a.Variant == core.VariantDanger {
			style = DangerActionStyle
		}
		fmt.Fprintf(&b, "  %d) %s  %s\n", i+1, r.paint(style, a.Label), r.paint(MutedStyle, "["+a.ID+"]"))
	}
	return b.String()
}

// Summaries renders a stored-run listing.
func (r *Renderer) Summaries(list []core.WorkflowSummary) string {
	if len(list) == 0 {
		return "No stored workflows.\n"
	}
	var b strings.Builder
	for _, s := range list {
		status := "stopped"
		switch {
		case s.IsRunning:
			status = "running"
		case s.CurrentStep >= s.TotalSteps && s.TotalSteps > 0:
			status = "complete"
		case s.Error != "":
			status = "halted"
		case s.IsPaused:
			status = "paused"
		}
		fmt.Fprintf(&b, "%s  %-8s  step %d/%d  %s\n",
			s.ID, status, min(s.CurrentStep+1, s.TotalSteps), s.TotalSteps,
			r.paint(MutedStyle, humanize.RelTime(s.UpdatedAt, r.now(), "ago", "from now")))
	}
	return b.String()
}

func stepDuration(st core.Step) time.Duration {
	if st.StartTime == nil || st.EndTime == nil {
		return 0
	}
	d := st.EndTime.Sub(*st.StartTime)
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Second)
}
