package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/upgrader/internal/adapters/manager"
	"github.com/hugo-lorenzo-mato/upgrader/internal/service/update"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show tasks blocking an update",
	Long: `Query the manager for a running task or database migration.

Both block an update. Clear them from 'upgrader run' when the first step
reports them.`,
	RunE: runPending,
}

var pendingJSON bool

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().BoolVar(&pendingJSON, "json", false, "Output as JSON")
}

func runPending(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	api, err := manager.New(manager.Options{
		BaseURL:   cfg.Manager.URL,
		Token:     cfg.Manager.Token,
		Timeout:   cfg.Manager.Timeout,
		UserAgent: "upgrader/" + appVersion,
		Logger:    newLogger(cfg),
	})
	if err != nil {
		return err
	}

	found, err := update.FindPendingArtifacts(cmd.Context(), api)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pendingJSON {
		return outputJSON(out, found)
	}
	if found.Empty() {
		fmt.Fprintln(out, "Nothing pending")
		return nil
	}
	if t := found.Task; t != nil {
		fmt.Fprintf(out, "Task:      %s (%s)\n", t.Title, t.Status)
		if summary := t.FailureSummary(); summary != "" && summary != t.Title {
			fmt.Fprintf(out, "           %s\n", summary)
		}
	}
	if m := found.Migration; m != nil {
		fmt.Fprintf(out, "Migration: %s (%s), %d operations\n", m.Type, m.Status, len(m.Operations))
	}
	return nil
}
