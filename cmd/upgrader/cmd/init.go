package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/upgrader/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Write .upgrader.yaml with the default settings in the current directory
and create the state directory.`,
	// The config does not exist yet.
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error { return nil },
	RunE:              runInit,
}

var (
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, ".upgrader.yaml")
	if err := config.WriteDefaultConfig(configPath, initForce); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(cwd, ".upgrader"), 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initialized upgrader in", cwd)
	fmt.Fprintln(out, "Configuration file: .upgrader.yaml")
	fmt.Fprintln(out, "Set manager.url and manager.token (or UPGRADER_MANAGER_URL / UPGRADER_MANAGER_TOKEN), then run 'upgrader run'")
	return nil
}
