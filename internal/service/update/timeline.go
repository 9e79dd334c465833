package update

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

type stepDef struct {
	title       string
	description string
	conditional bool
}

var stepDefs = map[core.StepKind]stepDef{
	core.KindCheckTasks: {
		title:       "Check pending tasks",
		description: "Make sure no task or database migration is already running on the server.",
	},
	core.KindCheckManager: {
		title:       "Check manager version",
		description: "Look up whether a newer release of the manager is available.",
	},
	core.KindUpdateManager: {
		title:       "Update manager",
		description: "Install the latest manager release.",
		conditional: true,
	},
	core.KindComposerDryRun: {
		title:       "Dry-run package update",
		description: "Resolve package updates without installing them.",
	},
	core.KindComposerUpdate: {
		title:       "Update packages",
		description: "Install the resolved package updates.",
		conditional: true,
	},
	core.KindCheckMigrations: {
		title:       "Check database migrations",
		description: "Ask the server which migrations and schema changes are pending.",
	},
	core.KindExecuteMigrations: {
		title:       "Execute database migrations",
		description: "Run the confirmed migrations and schema changes.",
		conditional: true,
	},
	core.KindUpdateVersions: {
		title:       "Update version information",
		description: "Record the installed versions on the server.",
	},
}

// BuildSteps returns the static step sequence for a configuration. All steps
// start pending.
func BuildSteps(cfg core.WorkflowConfig) []core.Step {
	kinds := []core.StepKind{
		core.KindCheckTasks,
		core.KindCheckManager,
		core.KindUpdateManager,
	}
	if !cfg.SkipComposer {
		if cfg.PerformDryRun {
			kinds = append(kinds, core.KindComposerDryRun)
		}
		kinds = append(kinds, core.KindComposerUpdate)
	}
	kinds = append(kinds,
		core.KindCheckMigrations,
		core.KindExecuteMigrations,
		core.KindUpdateVersions,
	)

	steps := make([]core.Step, 0, len(kinds))
	for _, k := range kinds {
		steps = append(steps, NewStep(k, 1))
	}
	return steps
}

// NewStep creates a pending step of the given kind. Cycles after the first
// get a derived id and title.
func NewStep(kind core.StepKind, cycle int) core.Step {
	def := stepDefs[kind]
	step := core.Step{
		ID:          core.CycleStepID(kind, cycle),
		Kind:        kind,
		Title:       def.title,
		Description: def.description,
		Status:      core.StepPending,
		Conditional: def.conditional,
	}
	if cycle > 1 {
		step.Cycle = cycle
		step.Title = fmt.Sprintf("%s (cycle %d)", def.title, cycle)
	}
	return step
}
