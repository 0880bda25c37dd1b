// Package cli wires the cobra command tree. Commands are a thin
// presentation layer: all session, gateway, and store logic lives in the
// internal packages they call into.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pipewatch/internal/api"
	"pipewatch/internal/config"
	"pipewatch/internal/dispatcher"
	"pipewatch/internal/gateway"
	"pipewatch/internal/logging"
	"pipewatch/internal/session"
	"pipewatch/internal/store"
	"pipewatch/internal/stream"
)

// App holds the wired components shared by all commands.
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Session    *session.Manager
	API        *api.Client
	Store      *store.Store
	Dispatcher *dispatcher.Dispatcher

	stopRun context.CancelFunc
}

// NewRootCmd builds the pipewatch command tree.
func NewRootCmd() *cobra.Command {
	app := &App{}
	var cfgPath, serverURL string
	var verbose bool

	root := &cobra.Command{
		Use:           "pipewatch",
		Short:         "CLI for tracking pipeline execution on a remote service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if serverURL != "" {
				cfg.Server.URL = serverURL
			}

			logger := logging.NewLogger(verbose)
			sess, err := session.NewManager(session.NewFileStore(cfg.StateDir), logger)
			if err != nil {
				return err
			}

			gw := gateway.New(cfg.Server.URL, sess, cfg.Server.Timeout, logger)
			apiClient := api.NewClient(gw)
			st := store.New(logger)
			streamClient := stream.NewClient(cfg.Server.URL, logger)
			disp := dispatcher.New(sess, apiClient, st, streamClient,
				cfg.Refresh.AfterAction, cfg.Refresh.Interval, logger)

			runCtx, cancel := context.WithCancel(cmd.Context())
			go disp.Run(runCtx)

			app.Config = cfg
			app.Logger = logger
			app.Session = sess
			app.API = apiClient
			app.Store = st
			app.Dispatcher = disp
			app.stopRun = cancel
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.stopRun != nil {
				app.stopRun()
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "service base URL (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRegisterCmd(app))
	root.AddCommand(newLoginCmd(app))
	root.AddCommand(newLogoutCmd(app))
	root.AddCommand(newWhoamiCmd(app))
	root.AddCommand(newProfileCmd(app))
	root.AddCommand(newPipelineCmd(app))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// requireSession gates commands that need an authenticated session. Expiry
// is checked on every protected command entry; an expired session is torn
// down before the command reports failure.
func requireSession(app *App) error {
	if app.Session.Valid() {
		return nil
	}
	app.Session.End()
	return fmt.Errorf("not logged in (run 'pipewatch login')")
}
