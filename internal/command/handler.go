// Package command implements the local admin control channel used by the
// CLI (start/stop/status/reload subcommands) to talk to an already-running
// daemon over a Unix domain socket. This is deliberately separate from the
// websocket control plane in internal/controlplane, which carries the
// drone command taxonomy (mission control, diagnosis, AI config, ...) to
// remote clients; this package only ever serves the local operator.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// StatsProvider is implemented by the daemon to expose a point-in-time
// snapshot of the running components for the daemon_stats command.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// CommandHandler handles local admin commands received over the UDS.
type CommandHandler struct {
	configReloader ConfigReloader
	stats          StatsProvider
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(reloader ConfigReloader, stats StatsProvider) *CommandHandler {
	return &CommandHandler{
		configReloader: reloader,
		stats:          stats,
		startTime:      time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents an admin control command.
type Command struct {
	Method string          `json:"method"` // e.g., "daemon_status", "daemon_shutdown"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling admin command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	case "daemon_stats":
		return h.handleDaemonStats(ctx, cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(ctx context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "config reloader not available",
			},
		}
	}

	if err := h.configReloader.Reload(); err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: fmt.Sprintf("reload config failed: %v", err),
			},
		}
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "shutdown handler not registered",
			},
		}
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// handleDaemonStatus returns daemon uptime and process-level status.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	uptimeSeconds := time.Now().Unix() - h.startTime

	result := map[string]interface{}{
		"version":    "0.1.0",
		"uptime_sec": uptimeSeconds,
	}
	if h.stats != nil {
		for k, v := range h.stats.Stats() {
			result[k] = v
		}
	}

	return Response{ID: cmd.ID, Result: result}
}

// handleDaemonStats returns the runtime statistics snapshot from the
// components registered through StatsProvider (driver connection,
// mission phase, connected clients, ...).
func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	if h.stats == nil {
		return Response{
			ID:     cmd.ID,
			Result: map[string]interface{}{},
		}
	}
	return Response{ID: cmd.ID, Result: h.stats.Stats()}
}
