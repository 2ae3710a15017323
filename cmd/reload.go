// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// reloadCmd represents the reload command.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon configuration",
	Long: `Reload the daemon's global configuration.

This sends a config_reload command to the running daemon over its local
control socket. The daemon re-reads its config file and hot-applies what
can change without a restart (logging, marker cooldown); listen addresses
and the driver address still require a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), cli, cmd.OutOrStdout())
	},
}

func runReload(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
