// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stop the canopy-agent daemon gracefully.

This sends a daemon_shutdown command over the local control socket. The
daemon stops the mission controller and frame pipeline, closes the
control plane and bridge relay, and exits cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), cli, cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped successfully")
	return nil
}
