package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

var foreground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the canopy-agent daemon.

By default this spawns a detached background process running "canopy-agent
daemon" and returns immediately. With --foreground, the current process
execs directly into the daemon instead (for use under systemd or similar
process supervisors that expect the foreground process to be the service).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if foreground {
			return runForeground()
		}
		return runStart(cmd.Context(), cli, cmd.OutOrStdout())
	},
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground (for systemd)")
}

func runStart(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	fmt.Fprintln(out, "✓ Service started successfully")
	return nil
}

func runForeground() error {
	fmt.Println("Starting in foreground mode...")

	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{execPath, "daemon", "--config", configFile, "--socket", socketPath, "--pidfile", pidFile}
	return syscall.Exec(execPath, args, os.Environ())
}
