// Package controlplane implements C9: the websocket message channel that
// relays drone status, video and diagnosis/mission events to any number
// of connected clients and demultiplexes their inbound commands.
package controlplane

import "time"

// Message is the JSON envelope every inbound and outbound frame uses
// (§6.1). Timestamp is omitted by the server on hot-path events
// (video_frame, drone_status); Data tolerates absence as empty.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp *string     `json:"timestamp,omitempty"`
}

func nowStamp() *string {
	s := time.Now().UTC().Format(time.RFC3339)
	return &s
}

// event builds an outbound Message carrying a timestamp.
func event(typ string, data interface{}) Message {
	return Message{Type: typ, Data: data, Timestamp: nowStamp()}
}

// hotPathEvent builds an outbound Message without a timestamp, for
// video_frame and drone_status.
func hotPathEvent(typ string, data interface{}) Message {
	return Message{Type: typ, Data: data}
}

// Outbound event type names (§4.9).
const (
	EventConnectionEstablished = "connection_established"
	EventStatusUpdate          = "status_update"
	EventDroneStatus           = "drone_status"
	EventDetectionStatus       = "detection_status"
	EventVideoFrame            = "video_frame"
	EventObjectSummary         = "object_summary"
	EventMarkerDetected        = "marker_detected"
	EventMarkerPlantDetected   = "marker_plant_detected"
	EventDiagnosisStarted      = "diagnosis_started"
	EventDiagnosisProgress     = "diagnosis_progress"
	EventDiagnosisComplete     = "diagnosis_complete"
	EventDiagnosisError        = "diagnosis_error"
	EventDiagnosisCooldown     = "diagnosis_cooldown"
	EventDiagnosisConfigError  = "diagnosis_config_error"
	EventMissionStatus         = "mission_status"
	EventMissionPosition       = "mission_position"
	EventAIConfigUpdated       = "ai_config_updated"
	EventAIConfigStatus        = "ai_config_status"
	EventMarkerCooldownUpdated = "marker_cooldown_updated"
	EventMarkerCooldownStatus  = "marker_cooldown_status"
	EventMarkerCooldownsCleared = "marker_cooldowns_cleared"
	EventDroneCommandResponse  = "drone_command_response"
	EventError                 = "error"
)

// Inbound command type names (§4.9).
const (
	CmdConnectDrone             = "connect_drone"
	CmdDisconnectDrone          = "disconnect_drone"
	CmdDroneTakeoff             = "drone_takeoff"
	CmdDroneLand                = "drone_land"
	CmdDroneCommand             = "drone_command"
	CmdManualControl            = "manual_control"
	CmdStartVideo               = "start_video"
	CmdStopVideo                = "stop_video"
	CmdStartObjectDetection     = "start_object_detection"
	CmdStopObjectDetection      = "stop_object_detection"
	CmdStartMarkerDetection     = "start_marker_detection"
	CmdStopMarkerDetection      = "stop_marker_detection"
	CmdStartDiagnosisWorkflow   = "start_diagnosis_workflow"
	CmdStopDiagnosisWorkflow    = "stop_diagnosis_workflow"
	CmdSetMarkerCooldown        = "set_marker_cooldown"
	CmdGetMarkerCooldownStatus  = "get_marker_cooldown_status"
	CmdClearMarkerCooldowns     = "clear_marker_cooldowns"
	CmdSetAIConfig              = "set_ai_config"
	CmdGetAIConfigStatus        = "get_ai_config_status"
	CmdChallengeCruiseStart     = "challenge_cruise_start"
	CmdChallengeCruiseStop      = "challenge_cruise_stop"
	CmdParseMissionText         = "parse_mission_text"
)
