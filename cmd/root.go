// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canopy-robotics/canopy-agent/internal/log"
)

var (
	// Global flags
	configFile string
	socketPath string
	pidFile    string

	// cli is the client used by every command except daemon itself;
	// tests inject a mock via SetClient.
	cli ClientInterface
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "canopy-agent",
	Short: "Control the canopy-agent inspection drone orchestrator",
	Long: `canopy-agent is the backend orchestrator for an autonomous inspection
drone: it bridges a UDP-controlled quadrotor, marker and object detection,
a segmentation-backed diagnosis workflow, and a websocket control plane
under one process.

Use "daemon" to run the orchestrator in the foreground, and "start"/"stop"/
"status"/"stats"/"reload" to manage an already-running daemon over its
local control socket.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "daemon" {
			return nil
		}
		if cli == nil {
			cli = newUDSClient()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and runs it. Called
// once by FatalExecute.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/canopy-agent/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/canopy-agent.sock",
		"daemon control socket path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "/var/run/canopy-agent.pid",
		"PID file path")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reloadCmd)
}

// SetClient injects a client for testing.
func SetClient(c ClientInterface) {
	cli = c
}

// GetClient returns the currently configured client.
func GetClient() ClientInterface {
	return cli
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// FatalExecute is the entry point main.main() calls.
func FatalExecute() {
	if err := Execute(); err != nil {
		log.Get().WithError(err).Error("canopy-agent exited with an error")
		os.Exit(1)
	}
}
