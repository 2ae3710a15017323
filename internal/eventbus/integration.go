package eventbus

import "fmt"

// Topics enumerates the internal publish topics fed into the control
// plane's broadcaster. These are distinct from the outbound wire event
// `type` names in §4.9 — the control plane maps a topic's Payload onto the
// matching wire event when it serializes to clients.
const (
	TopicMarkerDetected    = "marker_detected"
	TopicMarkerCooldown    = "marker_cooldown"
	TopicDiagnosisStarted  = "diagnosis_started"
	TopicDiagnosisProgress = "diagnosis_progress"
	TopicDiagnosisComplete = "diagnosis_complete"
	TopicDiagnosisError    = "diagnosis_error"
	TopicDroneStatus       = "drone_status"
	TopicVideoFrame        = "video_frame"
	TopicObjectSummary     = "object_summary"
	TopicMissionStatus     = "mission_status"
	TopicMissionPosition   = "mission_position"
)

// PublishPlant publishes payload under topic, keyed by plantID so that
// progress events for the same diagnosis always land on the same
// partition and are delivered to the control plane in the order the
// workflow emitted them.
func PublishPlant(bus EventBus, topic string, plantID int, payload interface{}) error {
	return bus.Publish(&Event{Topic: topic, Key: fmt.Sprintf("plant-%d", plantID), Payload: payload})
}
