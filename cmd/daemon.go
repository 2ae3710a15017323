package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canopy-robotics/canopy-agent/internal/daemon"
)

// daemonCmd runs the orchestrator in the foreground: this is the process
// start/stop/status/stats/reload all talk to over the control socket.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the canopy-agent orchestrator in the foreground",
	Long: `Run the canopy-agent daemon process in the foreground.

The daemon loads its configuration, connects every component (drone
driver, status cache, marker/object detectors, diagnosis workflow,
mission controller, websocket control plane) and blocks until it
receives SIGTERM/SIGINT, a daemon_shutdown admin command, or SIGHUP
(which reloads configuration in place instead of restarting).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile, socketPath, pidFile)
		if err != nil {
			return fmt.Errorf("failed to initialize daemon: %w", err)
		}
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		if err := d.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "daemon exited with error: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}
