package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/upgrader/internal/api"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API",
	Long: `Start the HTTP control API.

The server exposes the workflow snapshot, every control operation and a
server-sent event stream under /api/v1. A stored workflow is restored on
startup, paused at the step it was on.

Examples:
  # Listen on the configured address (default 127.0.0.1:8480)
  upgrader serve

  # Listen on all interfaces
  upgrader serve --listen 0.0.0.0:8480`,
	RunE: runServe,
}

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (overrides server.listen)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if found, err := deps.engine.Restore(ctx); err != nil {
		logger.Warn("failed to restore workflow", "error", err)
	} else if found {
		logger.Info("stored workflow restored", "workflow_id", deps.engine.GetState().ID)
	}

	watchConfig(appViper, logger)

	server := api.NewServer(deps.engine,
		api.WithLogger(logger),
		api.WithStore(deps.store),
		api.WithEventBus(deps.bus),
		api.WithDefaults(cfg.Workflow.Core()),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
	)

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}
	if err := server.ListenAndServe(ctx, addr); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// watchConfig applies log level changes from the config file without a
// restart. Everything else needs one.
func watchConfig(v *viper.Viper, logger *logging.Logger) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := v.GetString("log.level")
		logger.SetLevel(level)
		logger.Info("config reloaded", "file", e.Name, "log_level", level)
	})
	v.WatchConfig()
}
