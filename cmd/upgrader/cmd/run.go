package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
	"github.com/hugo-lorenzo-mato/upgrader/internal/service/update"
	"github.com/hugo-lorenzo-mato/upgrader/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an update",
	Long: `Run an update against the configured manager.

The timeline is printed as steps progress. When a step needs a decision
(installing the resolved packages, confirming migrations, retrying a failed
step) the available actions are offered at the prompt. Without a terminal
the run stops there; continue it later with --resume.

Examples:
  # Full update with a package dry-run first
  upgrader run

  # Continue the stored update
  upgrader run --resume

  # Unattended: accept the primary action at every pause
  upgrader run --no-dry-run --yes`,
	RunE: runUpdate,
}

var (
	runResume       bool
	runNoDryRun     bool
	runSkipComposer bool
	runWithDeletes  bool
	runYes          bool
	runVerbose      bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runResume, "resume", false, "Continue the stored workflow instead of starting a new one")
	runCmd.Flags().BoolVar(&runNoDryRun, "no-dry-run", false, "Install package updates without a dry-run first")
	runCmd.Flags().BoolVar(&runSkipComposer, "skip-composer", false, "Skip the package update")
	runCmd.Flags().BoolVar(&runWithDeletes, "with-deletes", false, "Apply migrations that drop data")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Accept the primary action whenever a step waits for a decision")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print progress and migration history events")
}

// workflowFromFlags applies the run flags on top of the configured defaults.
func workflowFromFlags(cmd *cobra.Command, wf core.WorkflowConfig) core.WorkflowConfig {
	if cmd.Flags().Changed("no-dry-run") {
		wf.PerformDryRun = !runNoDryRun
	}
	if cmd.Flags().Changed("skip-composer") {
		wf.SkipComposer = runSkipComposer
	}
	if cmd.Flags().Changed("with-deletes") {
		wf.WithDeletes = runWithDeletes
	}
	return wf
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.loadOrInit(ctx, runResume, workflowFromFlags(cmd, cfg.Workflow.Core())); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	renderer := newRenderer()
	color := tui.NewDetector().NoColor(noColor).ShouldUseColor()

	printer := tui.NewEventPrinter(color, runVerbose).WithWriter(out)
	printCh := deps.bus.Subscribe(
		events.TypeWorkflowStarted, events.TypeWorkflowResumed, events.TypeWorkflowPaused,
		events.TypeWorkflowFailed, events.TypeWorkflowCompleted, events.TypeWorkflowCancelled,
		events.TypeStepStarted, events.TypeStepProgress, events.TypeStepCompleted, events.TypeStepSkipped,
		events.TypeStepFailed, events.TypeStepActionRequired, events.TypeMigrationRecorded,
	)
	go printer.Run(ctx, printCh)

	d := &driver{
		engine:      deps.engine,
		updates:     deps.bus.Subscribe(events.TypeWorkflowStateUpdated),
		out:         out,
		renderer:    renderer,
		prompter:    newPrompter(cmd.InOrStdin(), out, renderer),
		interactive: tui.NewDetector().IsInteractive(),
		autoAccept:  runYes,
		color:       color,
	}
	return d.drive(ctx)
}

// errAwaitingUser ends an unattended run that reached a decision point.
var errAwaitingUser = errors.New("workflow is waiting for a decision; continue with 'upgrader run --resume'")

// driver runs the engine to completion, answering pauses at the prompt.
type driver struct {
	engine      *update.Engine
	updates     <-chan events.Event
	out         io.Writer
	renderer    *tui.Renderer
	prompter    *prompter
	interactive bool
	autoAccept  bool
	color       bool
}

func (d *driver) drive(ctx context.Context) error {
	st := d.engine.GetState()
	if st.IsComplete() {
		fmt.Fprint(d.out, d.renderer.Timeline(st))
		fmt.Fprintln(d.out, "The stored workflow is already complete.")
		return nil
	}
	if cur := st.Current(); cur == nil || cur.Status != core.StepUserActionRequired {
		if err := d.begin(st); err != nil {
			return err
		}
	}

	for {
		st, err := d.waitIdle(ctx)
		if err != nil {
			d.engine.Stop()
			fmt.Fprintln(d.out, "Interrupted; continue with 'upgrader run --resume'.")
			return nil
		}
		if st.IsComplete() {
			fmt.Fprint(d.out, "\n"+d.renderer.Timeline(st))
			return nil
		}

		cur := st.Current()
		if cur == nil || len(cur.UserActions) == 0 {
			fmt.Fprint(d.out, "\n"+d.renderer.Timeline(st))
			if st.Error != "" {
				return errors.New(st.Error)
			}
			return nil
		}

		actionID, err := d.decide(st, cur)
		if err != nil {
			return err
		}
		if actionID == "" {
			fmt.Fprintln(d.out, "Left paused; continue with 'upgrader run --resume'.")
			return nil
		}
		if err := d.engine.ResolveAction(ctx, actionID); err != nil {
			fmt.Fprintln(d.out, "Action failed:", core.Message(err))
			if !d.interactive {
				return err
			}
		}
	}
}

// begin starts a fresh workflow or resumes a stored one at its cursor.
func (d *driver) begin(st *core.WorkflowState) error {
	if st.StartTime == nil {
		return d.engine.Start()
	}
	return d.engine.Resume()
}

// decide picks the action for a suspended or failed step. An empty id
// leaves the workflow paused.
func (d *driver) decide(st *core.WorkflowState, cur *core.Step) (string, error) {
	if pm := st.PendingMigration; pm != nil && cur.Kind == core.KindExecuteMigrations {
		if md, err := tui.RenderMarkdown(tui.MigrationMarkdown(pm), d.color, tui.TerminalWidth()); err == nil {
			fmt.Fprint(d.out, md)
		}
	}

	if d.autoAccept && cur.Status == core.StepUserActionRequired {
		if a, ok := primaryAction(cur.UserActions); ok {
			fmt.Fprintf(d.out, "Accepting %q\n", a.Label)
			return a.ID, nil
		}
	}
	if !d.interactive {
		fmt.Fprint(d.out, "\n"+d.renderer.Timeline(st))
		return "", errAwaitingUser
	}
	return d.prompter.Choose(cur.UserActions)
}

// waitIdle blocks until the engine is no longer running. State updates wake
// it up; the ticker covers updates dropped by a full subscriber buffer.
func (d *driver) waitIdle(ctx context.Context) (*core.WorkflowState, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if st := d.engine.GetState(); st != nil && !st.IsRunning {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.updates:
		case <-ticker.C:
		}
	}
}

func primaryAction(actions []core.UserAction) (core.UserAction, bool) {
	for _, a := range actions {
		if a.Variant == core.VariantPrimary {
			return a, true
		}
	}
	return core.UserAction{}, false
}
