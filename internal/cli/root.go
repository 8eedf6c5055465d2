// Package cli provides the command-line interface for assetcheck.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/assetcheck/internal/app"
	"github.com/raphaelgruber/assetcheck/internal/client"
	"github.com/raphaelgruber/assetcheck/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg    config.Config
	logger *slog.Logger

	// Opened on first use by commands that work on the local store.
	application *app.App
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "assetcheck",
	Short: "Asset maintenance test runner",
	Long: `Assetcheck runs step-by-step maintenance test procedures against
data-center assets and syncs the results to a shared spreadsheet.

Results recorded offline are queued locally and uploaded by 'assetcheck sync'.
Pass --server (or set ASSETCHECK_SERVER_URL) to talk to a running
assetcheck-server instead of the local store.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger = config.NewLogger("cli", level, os.Stderr, nil)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			if err := application.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close local store: %v\n", err)
			}
			application = nil
		}
	},
}

// openApp opens the local store and services once per invocation.
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	if application != nil {
		return application, nil
	}
	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	application = a
	return a, nil
}

// serverClient returns a client when a server was selected, nil otherwise.
func serverClient() *client.Client {
	if serverURL == "" && os.Getenv("ASSETCHECK_SERVER_URL") == "" {
		return nil
	}
	return client.New(serverURL)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "assetcheck-server URL (default: local store)")

	rootCmd.AddCommand(proceduresCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}
