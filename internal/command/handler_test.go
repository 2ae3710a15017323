package command

import (
	"context"
	"encoding/json"
	"testing"
)

// mockConfigReloader is a mock implementation of ConfigReloader.
type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

// mockStats is a mock implementation of StatsProvider.
type mockStats struct {
	snapshot map[string]interface{}
}

func (m *mockStats) Stats() map[string]interface{} {
	return m.snapshot
}

func TestCommandHandler_HandleDaemonStatus(t *testing.T) {
	handler := NewCommandHandler(nil, &mockStats{snapshot: map[string]interface{}{"mission_phase": "idle"}})

	cmd := Command{
		Method: "daemon_status",
		Params: json.RawMessage{},
		ID:     "req-1",
	}

	resp := handler.Handle(context.Background(), cmd)

	if resp.ID != "req-1" {
		t.Errorf("response ID = %s, want req-1", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error.Message)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("result is not a map")
	}
	if _, exists := result["uptime_sec"]; !exists {
		t.Error("result missing 'uptime_sec' field")
	}
	if result["mission_phase"] != "idle" {
		t.Errorf("result[mission_phase] = %v, want idle", result["mission_phase"])
	}
}

func TestCommandHandler_HandleDaemonStats(t *testing.T) {
	handler := NewCommandHandler(nil, &mockStats{snapshot: map[string]interface{}{"frames_processed": 42}})

	cmd := Command{Method: "daemon_stats", Params: json.RawMessage{}, ID: "req-2"}
	resp := handler.Handle(context.Background(), cmd)

	if resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("result is not a map")
	}
	if result["frames_processed"] != 42 {
		t.Errorf("result[frames_processed] = %v, want 42", result["frames_processed"])
	}
}

func TestCommandHandler_HandleConfigReload(t *testing.T) {
	reloadCalled := false
	reloader := &mockConfigReloader{
		reloadFunc: func() error {
			reloadCalled = true
			return nil
		},
	}

	handler := NewCommandHandler(reloader, nil)

	cmd := Command{
		Method: "config_reload",
		Params: json.RawMessage{},
		ID:     "req-3",
	}

	resp := handler.Handle(context.Background(), cmd)

	if resp.ID != "req-3" {
		t.Errorf("response ID = %s, want req-3", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error.Message)
	}
	if !reloadCalled {
		t.Error("reload function was not called")
	}
}

func TestCommandHandler_HandleConfigReloadMissingReloader(t *testing.T) {
	handler := NewCommandHandler(nil, nil)

	cmd := Command{Method: "config_reload", Params: json.RawMessage{}, ID: "req-4"}
	resp := handler.Handle(context.Background(), cmd)

	if resp.Error == nil {
		t.Fatal("expected error when no reloader is registered")
	}
}

func TestCommandHandler_HandleDaemonShutdown(t *testing.T) {
	done := make(chan struct{})
	handler := NewCommandHandler(nil, nil)
	handler.SetShutdownFunc(func() { close(done) })

	cmd := Command{Method: "daemon_shutdown", Params: json.RawMessage{}, ID: "req-5"}
	resp := handler.Handle(context.Background(), cmd)

	if resp.Error != nil {
		t.Errorf("unexpected error: %v", resp.Error.Message)
	}
	<-done
}

func TestCommandHandler_HandleUnknownMethod(t *testing.T) {
	handler := NewCommandHandler(nil, nil)

	cmd := Command{
		Method: "unknown.method",
		Params: json.RawMessage{},
		ID:     "req-6",
	}

	resp := handler.Handle(context.Background(), cmd)

	if resp.ID != "req-6" {
		t.Errorf("response ID = %s, want req-6", resp.ID)
	}
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}
