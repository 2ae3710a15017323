package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/command"
)

// udsClient implements ClientInterface over the daemon's Unix domain
// control socket, spawning the daemon itself on Start since the socket
// obviously isn't there to dial yet.
type udsClient struct {
	uds *command.UDSClient
}

func newUDSClient() *udsClient {
	return &udsClient{uds: command.NewUDSClient(socketPath, 10*time.Second)}
}

func (c *udsClient) Start(ctx context.Context) error {
	if err := c.uds.Ping(ctx); err == nil {
		return fmt.Errorf("daemon already running")
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	spawn := exec.Command(execPath, "daemon", "--config", configFile, "--socket", socketPath, "--pidfile", pidFile)
	spawn.Stdout = nil
	spawn.Stderr = nil
	if err := spawn.Start(); err != nil {
		return fmt.Errorf("failed to spawn daemon: %w", err)
	}
	return nil
}

func (c *udsClient) Stop(ctx context.Context) error {
	resp, err := c.uds.DaemonShutdown(ctx)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon_shutdown failed: %s", resp.Error.Message)
	}
	return nil
}

func (c *udsClient) Reload(ctx context.Context) error {
	resp, err := c.uds.ConfigReload(ctx)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("config_reload failed: %s", resp.Error.Message)
	}
	return nil
}

func (c *udsClient) Close() error { return nil }
