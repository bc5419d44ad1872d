// Btgate is an edge gateway that discovers nearby radio devices, resolves
// their serial services and publishes them over an HTTP API.
//
// Usage:
//
//	btgate run [flags]      run discovery and serve the API
//	btgate watch [flags]    live terminal view of a running gateway
//
// See 'btgate --help' for all commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "btgate",
	Short: "Radio device discovery gateway",
	Long: `btgate periodically inquires for nearby radio devices, pairs with the
devices listed in the fleet descriptor, resolves their serial port services
and publishes devices and connection URLs over an HTTP API.

Configuration is read from btgate.yaml in the user configuration directory
unless --config is given. Logging is silent unless --log-level or
BTGATE_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to btgate.yaml (default: user config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); empty = BTGATE_LOG_LEVEL or silent")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("btgate %s\n", version.Full())
	},
}
