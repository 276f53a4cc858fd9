// Package cmd provides the vigil command-line interface.
package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vigil/bootstrap"
	"vigil/config"
)

// Build information, set with -ldflags "-X vigil/cmd.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	configFile string
	noColor    bool
	quiet      bool
)

// NewRootCmd creates the vigil command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vigil",
		Short: "Real-time state reconciliation client for a security-operations console",
		Long: `Vigil keeps a consistent, bounded view of threats, alerts, logs and dashboard
stats by merging periodic snapshots with a live push stream from the backend.

Run it as a session with "vigil run", or take a one-off reconciled snapshot
with "vigil snapshot".`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: search ./config.yaml and ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadSession loads configuration and builds the logger. In quiet mode only
// errors are logged.
func loadSession() (*config.Config, *zap.Logger, error) {
	cfg, err := bootstrap.InitConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Log
	if quiet {
		logCfg.Level = "error"
	}
	logger, _, err := bootstrap.InitLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "vigil %s (commit %s, built %s)\n", Version, Commit, BuildDate)
}
