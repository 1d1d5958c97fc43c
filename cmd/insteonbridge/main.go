// Insteon bridge for Gray Logic.
//
// This is the main entry point for the Insteon bridge service. It connects
// Insteon modems (a local PLM or remote relays over MQTT) to the Gray Logic
// MQTT bus, tracks every command until the device confirms it, and attributes
// confirmed state changes to whoever asked for them.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-insteon/internal/auth"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancels on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Running the binary with no subcommand
// serves, so existing service units keep working.
func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "insteonbridge",
		Short:         "Insteon bridge for Gray Logic",
		Long:          `insteonbridge relays commands from the Gray Logic MQTT bus to Insteon devices and reports their confirmed state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "path to the service configuration file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bridge until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the service and Insteon configuration files and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				summary, err := validateConfig(configPath)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), summary)
				return nil
			},
		},
		&cobra.Command{
			Use:   "hash-password",
			Short: "Read a password from stdin and print its API password_hash",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				hash, err := hashPassword(cmd)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "insteonbridge %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)

	return rootCmd
}

// hashPassword hashes the first line of the command's input.
func hashPassword(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return "", fmt.Errorf("no password on stdin")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	return auth.HashPassword(password)
}

// getConfigPath returns the configuration file path.
// Uses INSTEONBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INSTEONBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
