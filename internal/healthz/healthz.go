// Package healthz implements the §12 health/monitoring HTTP surface: a
// GET /healthz liveness probe and a GET /statusz process-level snapshot,
// both independent of the control plane's own status_update/drone_status
// websocket events.
package healthz

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Snapshot is polled fresh on every /statusz request; canopy-agent wires
// it to the daemon's live component state.
type Snapshot struct {
	DriverConnected bool   `json:"driver_connected"`
	PipelineRunning bool   `json:"pipeline_running"`
	MissionPhase    string `json:"mission_phase"`
}

// SnapshotFunc produces a fresh Snapshot on demand.
type SnapshotFunc func() Snapshot

// Server is the §12 health HTTP surface.
type Server struct {
	startedAt time.Time
	snapshot  SnapshotFunc
	router    chi.Router
}

// New builds a Server whose /statusz calls snapshot on every request.
func New(snapshot SnapshotFunc) *Server {
	s := &Server{startedAt: time.Now(), snapshot: snapshot}
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/statusz", s.handleStatusz)
	s.router = r
	return s
}

// Handler returns the http.Handler to mount or serve directly.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	snap := Snapshot{}
	if s.snapshot != nil {
		snap = s.snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"driver_connected": snap.DriverConnected,
		"pipeline_running": snap.PipelineRunning,
		"mission_phase":    snap.MissionPhase,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
