package controlplane

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/diagnosis"
	"github.com/canopy-robotics/canopy-agent/internal/driver"
	"github.com/canopy-robotics/canopy-agent/internal/framepipeline"
	"github.com/canopy-robotics/canopy-agent/internal/log"
	"github.com/canopy-robotics/canopy-agent/internal/marker"
	"github.com/canopy-robotics/canopy-agent/internal/mission"
	"github.com/canopy-robotics/canopy-agent/internal/missiontext"
	"github.com/canopy-robotics/canopy-agent/internal/vlm"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

// Dispatcher is the default Handler: it demultiplexes every inbound
// command named in §4.9 to the owning component and acknowledges before
// any long-running drone command actually executes.
type Dispatcher struct {
	Driver     driver.Driver
	Pipeline   *framepipeline.Pipeline
	MarkerDet  *marker.Detector
	Diagnosis  *diagnosis.Workflow
	Mission    *mission.Controller
	Hub        *Hub
}

var _ Handler = (*Dispatcher)(nil)

func dataMap(msg Message) map[string]interface{} {
	m, _ := msg.Data.(map[string]interface{})
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func strField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatField(m map[string]interface{}, key string, def float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func okResponse(typ string, data map[string]interface{}) Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["success"] = true
	return event(typ, data)
}

func errResponse(err error) Message {
	return event(EventError, map[string]interface{}{"success": false, "message": err.Error()})
}

// Handle dispatches one inbound Message and returns the single response
// owed to the issuing client. Side effects visible to every client
// (status updates, detection events, mission telemetry) are delivered
// separately via Hub.Broadcast by the components themselves or by this
// dispatcher, never by piggy-backing on this return value.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) Message {
	data := dataMap(msg)

	switch msg.Type {
	case CmdConnectDrone:
		return d.connectDrone(ctx)
	case CmdDisconnectDrone:
		return d.disconnectDrone()
	case CmdDroneTakeoff:
		return d.droneTakeoff(ctx)
	case CmdDroneLand:
		return d.droneLand(ctx)
	case CmdDroneCommand:
		return d.droneCommand(data)
	case CmdManualControl:
		return d.manualControl(ctx, data)
	case CmdStartVideo:
		return d.startVideo(ctx)
	case CmdStopVideo:
		return d.stopVideo(ctx)
	case CmdStartObjectDetection:
		d.Pipeline.SetObjectDetectionEnabled(true)
		return okResponse(EventDetectionStatus, map[string]interface{}{"object_detection": true})
	case CmdStopObjectDetection:
		d.Pipeline.SetObjectDetectionEnabled(false)
		return okResponse(EventDetectionStatus, map[string]interface{}{"object_detection": false})
	case CmdStartMarkerDetection:
		d.Pipeline.SetMarkerDetectionEnabled(true)
		return okResponse(EventDetectionStatus, map[string]interface{}{"marker_detection": true})
	case CmdStopMarkerDetection:
		d.Pipeline.SetMarkerDetectionEnabled(false)
		return okResponse(EventDetectionStatus, map[string]interface{}{"marker_detection": false})
	case CmdStartDiagnosisWorkflow:
		d.Diagnosis.SetEnabled(true)
		return okResponse(EventDetectionStatus, map[string]interface{}{"diagnosis_workflow": true})
	case CmdStopDiagnosisWorkflow:
		d.Diagnosis.SetEnabled(false)
		return okResponse(EventDetectionStatus, map[string]interface{}{"diagnosis_workflow": false})
	case CmdSetMarkerCooldown:
		return d.setMarkerCooldown(data)
	case CmdGetMarkerCooldownStatus:
		return d.markerCooldownStatus()
	case CmdClearMarkerCooldowns:
		d.MarkerDet.ClearCooldowns()
		return event(EventMarkerCooldownsCleared, map[string]interface{}{"success": true})
	case CmdSetAIConfig:
		return d.setAIConfig(data)
	case CmdGetAIConfigStatus:
		return d.getAIConfigStatus()
	case CmdChallengeCruiseStart:
		return d.cruiseStart(data)
	case CmdChallengeCruiseStop:
		d.Mission.Stop()
		return event(EventMissionStatus, map[string]interface{}{"running": false})
	case CmdParseMissionText:
		return d.parseMissionText(data)
	default:
		return errResponse(fmt.Errorf("unknown command %q", msg.Type))
	}
}

func (d *Dispatcher) connectDrone(ctx context.Context) Message {
	if err := d.Driver.Connect(ctx); err != nil {
		return errResponse(fmt.Errorf("connect: %w", err))
	}
	return okResponse(EventStatusUpdate, map[string]interface{}{"connected": true})
}

func (d *Dispatcher) disconnectDrone() Message {
	if err := d.Driver.End(); err != nil {
		return errResponse(fmt.Errorf("disconnect: %w", err))
	}
	return okResponse(EventStatusUpdate, map[string]interface{}{"connected": false})
}

func (d *Dispatcher) droneTakeoff(ctx context.Context) Message {
	resp := okResponse(EventDroneCommandResponse, map[string]interface{}{"action": "takeoff"})
	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.Driver.Takeoff(tctx); err != nil {
			d.broadcast(errResponse(fmt.Errorf("takeoff: %w", err)))
			return
		}
		d.broadcast(event(EventDroneCommandResponse, map[string]interface{}{"action": "takeoff", "success": true}))
	}()
	return resp
}

func (d *Dispatcher) droneLand(ctx context.Context) Message {
	resp := okResponse(EventDroneCommandResponse, map[string]interface{}{"action": "land"})
	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.Driver.Land(tctx); err != nil {
			d.broadcast(errResponse(fmt.Errorf("land: %w", err)))
			return
		}
		d.broadcast(event(EventDroneCommandResponse, map[string]interface{}{"action": "land", "success": true}))
	}()
	return resp
}

// droneCommand acknowledges immediately (§4.9's "drone_command acks before
// executing"); the actual movement runs asynchronously and its outcome is
// reported through a follow-up broadcast, never by delaying this ack.
func (d *Dispatcher) droneCommand(data map[string]interface{}) Message {
	action := strField(data, "action")
	arg := intField(data, "value", 20)
	ack := okResponse(EventDroneCommandResponse, map[string]interface{}{"action": action, "acknowledged": true})

	fn, ok := d.resolveDroneAction(action, arg)
	if !ok {
		return errResponse(fmt.Errorf("drone_command: unknown action %q", action))
	}

	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := fn(tctx); err != nil {
			log.Get().WithError(err).Warn("drone_command failed")
			d.broadcast(event(EventDroneCommandResponse, map[string]interface{}{"action": action, "success": false, "message": err.Error()}))
			return
		}
		d.broadcast(event(EventDroneCommandResponse, map[string]interface{}{"action": action, "success": true}))
	}()
	return ack
}

func (d *Dispatcher) resolveDroneAction(action string, arg int) (func(context.Context) error, bool) {
	switch action {
	case "forward":
		return func(ctx context.Context) error { return d.Driver.MoveForward(ctx, arg) }, true
	case "back":
		return func(ctx context.Context) error { return d.Driver.MoveBack(ctx, arg) }, true
	case "left":
		return func(ctx context.Context) error { return d.Driver.MoveLeft(ctx, arg) }, true
	case "right":
		return func(ctx context.Context) error { return d.Driver.MoveRight(ctx, arg) }, true
	case "up":
		return func(ctx context.Context) error { return d.Driver.MoveUp(ctx, arg) }, true
	case "down":
		return func(ctx context.Context) error { return d.Driver.MoveDown(ctx, arg) }, true
	case "rotate_cw":
		return func(ctx context.Context) error { return d.Driver.RotateClockwise(ctx, arg) }, true
	case "rotate_ccw":
		return func(ctx context.Context) error { return d.Driver.RotateCounterClockwise(ctx, arg) }, true
	case "emergency":
		return func(ctx context.Context) error { return d.Driver.Emergency(ctx) }, true
	case "set_height":
		return func(ctx context.Context) error { return d.Driver.SetHeight(ctx, arg) }, true
	default:
		return nil, false
	}
}

func (d *Dispatcher) manualControl(ctx context.Context, data map[string]interface{}) Message {
	lr := intField(data, "lr", 0)
	fb := intField(data, "fb", 0)
	ud := intField(data, "ud", 0)
	yaw := intField(data, "yaw", 0)
	if err := d.Driver.SendRCControl(ctx, lr, fb, ud, yaw); err != nil {
		return errResponse(fmt.Errorf("manual_control: %w", err))
	}
	return okResponse(EventDroneCommandResponse, map[string]interface{}{"action": "manual_control"})
}

func (d *Dispatcher) startVideo(ctx context.Context) Message {
	if err := d.Driver.StreamOn(ctx); err != nil {
		return errResponse(fmt.Errorf("start_video: %w", err))
	}
	return okResponse(EventDetectionStatus, map[string]interface{}{"video": true})
}

func (d *Dispatcher) stopVideo(ctx context.Context) Message {
	if err := d.Driver.StreamOff(ctx); err != nil {
		return errResponse(fmt.Errorf("stop_video: %w", err))
	}
	return okResponse(EventDetectionStatus, map[string]interface{}{"video": false})
}

func (d *Dispatcher) setMarkerCooldown(data map[string]interface{}) Message {
	seconds := intField(data, "seconds", 60)
	d.MarkerDet.SetCooldown(time.Duration(seconds) * time.Second)
	return okResponse(EventMarkerCooldownUpdated, map[string]interface{}{"seconds": seconds})
}

func (d *Dispatcher) markerCooldownStatus() Message {
	cooldown, active := d.MarkerDet.CooldownStatus()
	ids := make([]int, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	return event(EventMarkerCooldownStatus, map[string]interface{}{
		"cooldown_seconds": int(cooldown.Seconds()),
		"active_ids":       ids,
	})
}

func (d *Dispatcher) setAIConfig(data map[string]interface{}) Message {
	cfg := vlm.Config{
		Provider:    strField(data, "provider"),
		Model:       strField(data, "model"),
		APIKey:      strField(data, "api_key"),
		APIBase:     strField(data, "api_base"),
		Temperature: floatField(data, "temperature", 0),
		MaxTokens:   intField(data, "max_tokens", 0),
	}
	if err := cfg.Validate(); err != nil {
		return errResponse(fmt.Errorf("set_ai_config: %w", err))
	}

	factory, err := plugin.GetProviderFactory("vlm")
	if err != nil {
		return errResponse(fmt.Errorf("set_ai_config: %w", err))
	}
	provider := factory()
	adapter, ok := provider.(*vlm.Adapter)
	if !ok {
		return errResponse(fmt.Errorf("set_ai_config: unexpected provider implementation"))
	}
	adapter.SetConfig(cfg)
	d.Diagnosis.SetAIConfig(adapter, cfg)

	return okResponse(EventAIConfigUpdated, map[string]interface{}{
		"provider": cfg.Provider, "model": cfg.Model, "vision_capable": cfg.SupportsVision,
	})
}

func (d *Dispatcher) getAIConfigStatus() Message {
	provider, model, configured, vision := d.Diagnosis.AIConfigStatus()
	return event(EventAIConfigStatus, map[string]interface{}{
		"provider": provider, "model": model, "configured": configured, "vision_capable": vision,
	})
}

func (d *Dispatcher) cruiseStart(data map[string]interface{}) Message {
	params := mission.Params{
		Rounds:       intField(data, "rounds", 1),
		DwellSeconds: intField(data, "stayDuration", 5),
		HeightCM:     intField(data, "height", 100),
		TargetPads:   [2]int{intField(data, "pad_a", 1), intField(data, "pad_b", 6)},
	}
	if err := d.Mission.Start(params); err != nil {
		return errResponse(fmt.Errorf("challenge_cruise_start: %w", err))
	}
	return okResponse(EventMissionStatus, map[string]interface{}{"running": true})
}

// parseMissionText is the §12 deterministic mission-shorthand parser: it
// turns free text into the same mission.Params a challenge_cruise_start
// command carries and starts the mission directly, without requiring the
// client to re-derive and resend the structured payload itself.
func (d *Dispatcher) parseMissionText(data map[string]interface{}) Message {
	text := strField(data, "text")
	params, err := missiontext.Parse(text)
	if err != nil {
		return errResponse(fmt.Errorf("parse_mission_text: %w", err))
	}
	if err := d.Mission.Start(params); err != nil {
		return errResponse(fmt.Errorf("parse_mission_text: %w", err))
	}
	return okResponse(EventMissionStatus, map[string]interface{}{
		"running":       true,
		"pad_a":         params.TargetPads[0],
		"pad_b":         params.TargetPads[1],
		"rounds":        params.Rounds,
		"dwell_seconds": params.DwellSeconds,
		"height_cm":     params.HeightCM,
	})
}

func (d *Dispatcher) broadcast(msg Message) {
	if d.Hub != nil {
		d.Hub.Broadcast(msg)
	}
}
