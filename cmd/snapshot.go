package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vigil/bootstrap"
)

const defaultSnapshotTimeout = 30 * time.Second

func newSnapshotCmd() *cobra.Command {
	var (
		output       string
		timeout      time.Duration
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch every collection once and print the reconciled view",
		Long: `Fetch stats, threats, logs and alerts from the backend, merge them into a
fresh store and print the result. Collections that fail to fetch are reported
and left empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unsupported output format %q (table, json, yaml)", output)
			}

			cfg, logger, err := loadSession()
			if err != nil {
				return err
			}
			cfg.API.Enabled = false

			app, err := bootstrap.NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize session: %w", err)
			}
			defer app.Shutdown()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var s *spinner.Spinner
			if showProgress && output == "table" && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " Fetching snapshot..."
				s.Start()
			}

			view, fetchErr := app.Snapshot(ctx)

			if s != nil {
				s.Stop()
			}

			if fetchErr != nil && !quiet {
				warningColor.Fprintf(cmd.ErrOrStderr(), "Some collections could not be fetched: %v\n", fetchErr)
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				return outputAsJSON(out, view)
			case "yaml":
				return outputAsYAML(out, view)
			default:
				renderView(out, view)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSnapshotTimeout, "Overall fetch timeout")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputAsYAML(w io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}
