// Package cmd implements the codemind command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "codemind",
	Short: "Plan, generate and run code with a two-stage model pipeline",
	Long: `codemind sends a query to a reasoning model for a structured plan, hands the
plan to a synthesis model for code, and can run the result in a sandbox.

Available commands:
  query    - Plan and generate code for a query
  sandbox  - Run a file in the sandbox
  serve    - Serve the HTTP API and event stream
  auth     - Manage API keys in the system keychain
  init     - Write a default config to ./.codemind/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process is
// interrupted. Errors not already shown to the user are printed to stderr.
// It is called once by main.main().
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errReported) {
		if stdoutIsTerminal() {
			fmt.Fprint(os.Stderr, pterm.Error.Sprintln(err.Error()))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./.codemind/config.yaml, then ~/.codemind/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "write the log file as JSON lines")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(initCmd)
}
