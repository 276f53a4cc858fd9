package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil/bootstrap"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a reconciliation session until interrupted",
		Long: `Start the entity store, the snapshot poller, the live stream client and,
if enabled, the local view API. Stops on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSession()
			if err != nil {
				return err
			}

			app, err := bootstrap.NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize session: %w", err)
			}

			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				app.Shutdown()
				return fmt.Errorf("failed to start session: %w", err)
			}

			if !quiet {
				successColor.Fprintln(cmd.ErrOrStderr(), "Vigil session running")
				if cfg.API.Enabled {
					infoColor.Fprintf(cmd.ErrOrStderr(), "View API on http://%s\n", cfg.API.Listen)
				}
			}

			app.WaitForShutdown(ctx)
			app.Shutdown()
			return nil
		},
	}
}
