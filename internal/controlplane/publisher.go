package controlplane

import (
	"encoding/base64"

	"github.com/canopy-robotics/canopy-agent/internal/marker"
	"github.com/canopy-robotics/canopy-agent/internal/statuscache"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

// HubPublisher adapts Hub.Broadcast to the frame pipeline's (C7) Publisher
// contract and to C1's status-change callback, turning both into the
// outbound event vocabulary every connected client receives (§4.9).
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher builds a HubPublisher broadcasting through hub.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) PublishFrame(jpeg []byte, seq uint64) {
	p.hub.Broadcast(hotPathEvent(EventVideoFrame, map[string]interface{}{
		"seq":   seq,
		"image": base64.StdEncoding.EncodeToString(jpeg),
	}))
}

func (p *HubPublisher) PublishDetectionSummary(summary plugin.Summary) {
	p.hub.Broadcast(event(EventObjectSummary, map[string]interface{}{
		"counts": summary.Counts,
	}))
}

func (p *HubPublisher) PublishMarkerObservation(obs marker.Observation) {
	data := map[string]interface{}{
		"decoded_text": obs.DecodedText,
		"bbox":         obs.BBox,
	}
	if obs.ID != nil {
		data["plant_id"] = *obs.ID
		p.hub.Broadcast(event(EventMarkerPlantDetected, data))
		return
	}
	p.hub.Broadcast(event(EventMarkerDetected, data))
}

func (p *HubPublisher) PublishMarkerCooldown(plantID int) {
	p.hub.Broadcast(event(EventMarkerCooldownStatus, map[string]interface{}{
		"plant_id": plantID,
		"cooling":  true,
	}))
}

// PublishDroneStatus broadcasts a statuscache-shaped snapshot as the
// hot-path drone_status event (no timestamp wrapper, per §6.1).
func (p *HubPublisher) PublishDroneStatus(status statuscache.DroneStatus) {
	p.hub.Broadcast(hotPathEvent(EventDroneStatus, status))
}

// PublishMissionStatus relays a mission status line as a mission_status
// event.
func (p *HubPublisher) PublishMissionStatus(message string) {
	p.hub.Broadcast(event(EventMissionStatus, map[string]interface{}{"message": message}))
}

// PublishMissionPosition relays a confirmed mission waypoint.
func (p *HubPublisher) PublishMissionPosition(pos interface{}) {
	p.hub.Broadcast(event(EventMissionPosition, pos))
}

// PublishDiagnosisProgress relays one diagnosis.ProgressFunc callback.
func (p *HubPublisher) PublishDiagnosisProgress(plantID int, stage, message string, percent int) {
	p.hub.Broadcast(event(EventDiagnosisProgress, map[string]interface{}{
		"plant_id": plantID, "stage": stage, "message": message, "percent": percent,
	}))
}

// PublishDiagnosisResult relays a completed diagnosis report.
func (p *HubPublisher) PublishDiagnosisResult(report interface{}) {
	p.hub.Broadcast(event(EventDiagnosisComplete, report))
}

// PublishDiagnosisError relays a terminal diagnosis failure for plantID.
func (p *HubPublisher) PublishDiagnosisError(plantID int, err error) {
	p.hub.Broadcast(event(EventDiagnosisError, map[string]interface{}{
		"plant_id": plantID, "message": err.Error(),
	}))
}
