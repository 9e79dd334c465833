package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/upgrader/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflow status",
	Long:  "Display the stored workflow timeline, or a listing of every stored run with --all.",
	RunE:  runStatus,
}

var (
	statusJSON bool
	statusYAML bool
	statusAll  bool
	statusID   string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "Output as YAML")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "List every stored workflow")
	statusCmd.Flags().StringVar(&statusID, "id", "", "Show a specific workflow instead of the active one")
	statusCmd.MarkFlagsMutuallyExclusive("json", "yaml")
	statusCmd.MarkFlagsMutuallyExclusive("all", "id")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	store, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer state.CloseStore(store)

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if statusAll {
		list, err := store.List(ctx)
		if err != nil {
			return err
		}
		if list == nil {
			list = []core.WorkflowSummary{}
		}
		if handled, err := outputStructured(out, list); handled {
			return err
		}
		fmt.Fprint(out, newRenderer().Summaries(list))
		return nil
	}

	var wf *core.WorkflowState
	if statusID != "" {
		wf, err = store.LoadByID(ctx, core.WorkflowID(statusID))
	} else {
		wf, err = store.Load(ctx)
	}
	if err != nil {
		return err
	}
	if wf == nil {
		if statusID != "" {
			return core.ErrNotFound("workflow", statusID)
		}
		fmt.Fprintln(out, "No active workflow")
		return nil
	}

	if handled, err := outputStructured(out, wf); handled {
		return err
	}
	fmt.Fprint(out, newRenderer().Timeline(wf))
	return nil
}

// outputStructured writes v as JSON or YAML when requested.
func outputStructured(w io.Writer, v any) (bool, error) {
	switch {
	case statusJSON:
		return true, outputJSON(w, v)
	case statusYAML:
		return true, outputYAML(w, v)
	}
	return false, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML goes through JSON so the field names and raw step payloads
// match the JSON output.
func outputYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
