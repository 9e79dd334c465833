package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/upgrader/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool

	// Populated by PersistentPreRunE.
	appConfig *config.Config
	appViper  *viper.Viper

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "upgrader",
	Short: "Guided updates of a remote CMS installation",
	Long: `upgrader drives the update of a remote CMS installation through its
management API: it checks for pending tasks, updates the manager, runs the
package update and loops over database migrations until none are left.

Every step is persisted, so an interrupted update can be resumed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd.Root().PersistentFlags())
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .upgrader.yaml, then ~/.config/upgrader/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
}

// initConfig loads the configuration with the persistent flags bound on top
// of files and environment.
func initConfig(flags *pflag.FlagSet) error {
	v := viper.New()
	// Only flags the user actually set override the config.
	if flags.Changed("log-level") {
		_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	}
	if flags.Changed("log-format") {
		_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	}

	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	appConfig = cfg
	appViper = v
	return nil
}
