package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canopy-robotics/canopy-agent/internal/diagnosis"
	"github.com/canopy-robotics/canopy-agent/internal/driver"
	"github.com/canopy-robotics/canopy-agent/internal/framepipeline"
	"github.com/canopy-robotics/canopy-agent/internal/marker"
	"github.com/canopy-robotics/canopy-agent/internal/mission"
	"github.com/canopy-robotics/canopy-agent/internal/segmentation"
)

func testServer(t *testing.T) (*Hub, *httptest.Server, *websocket.Conn) {
	t.Helper()
	sim := driver.NewSim()
	markerDet := marker.New(marker.NopDecoder{}, time.Minute)
	diagWF := diagnosis.New(diagnosis.Config{}, (*segmentation.Client)(nil))
	missionCtl := mission.New(sim)
	pipeline := framepipeline.New(sim, nil, markerDet, diagWF, nil)

	hub := New(nil)
	hub.handler = &Dispatcher{
		Driver:    sim,
		Pipeline:  pipeline,
		MarkerDet: markerDet,
		Diagnosis: diagWF,
		Mission:   missionCtl,
		Hub:       hub,
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return hub, srv, conn
}

func readOne(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub_SendsConnectionEstablishedOnConnect(t *testing.T) {
	_, srv, conn := testServer(t)
	defer srv.Close()
	defer conn.Close()

	msg := readOne(t, conn)
	if msg.Type != EventConnectionEstablished {
		t.Fatalf("expected %s, got %s", EventConnectionEstablished, msg.Type)
	}
}

func TestHub_ConnectDroneRoundTrip(t *testing.T) {
	_, srv, conn := testServer(t)
	defer srv.Close()
	defer conn.Close()

	readOne(t, conn) // connection_established

	req := Message{Type: CmdConnectDrone}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readOne(t, conn)
	if resp.Type != EventStatusUpdate {
		t.Fatalf("expected %s, got %s (%v)", EventStatusUpdate, resp.Type, resp.Data)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok || data["success"] != true {
		t.Fatalf("expected success=true, got %v", resp.Data)
	}
}

func TestHub_UnknownCommandReturnsError(t *testing.T) {
	_, srv, conn := testServer(t)
	defer srv.Close()
	defer conn.Close()

	readOne(t, conn)

	if err := conn.WriteJSON(Message{Type: "not_a_real_command"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readOne(t, conn)
	if resp.Type != EventError {
		t.Fatalf("expected error event, got %s", resp.Type)
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, srv, connA := testServer(t)
	defer srv.Close()
	defer connA.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	connB, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial second client: %v", err)
	}
	defer connB.Close()

	readOne(t, connA)
	readOne(t, connB)

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 2 {
		t.Fatalf("expected 2 connected clients, got %d", hub.ClientCount())
	}

	hub.Broadcast(event(EventMissionStatus, map[string]interface{}{"message": "hello"}))

	for _, c := range []*websocket.Conn{connA, connB} {
		msg := readOne(t, c)
		if msg.Type != EventMissionStatus {
			t.Fatalf("expected mission_status, got %s", msg.Type)
		}
	}
}

func TestDispatcher_ParseMissionTextStartsCruise(t *testing.T) {
	_, srv, conn := testServer(t)
	defer srv.Close()
	defer conn.Close()

	readOne(t, conn) // connection_established

	req := Message{Type: CmdParseMissionText, Data: map[string]interface{}{
		"text": "patrol pads 2 and 9 twice, 8s dwell",
	}}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readOne(t, conn)
	if resp.Type != EventMissionStatus {
		t.Fatalf("expected mission_status, got %s (%v)", resp.Type, resp.Data)
	}
	data := resp.Data.(map[string]interface{})
	if data["pad_a"] != float64(2) || data["pad_b"] != float64(9) {
		t.Fatalf("expected pads 2/9, got %v", data)
	}
	if data["rounds"] != float64(2) {
		t.Fatalf("expected rounds=2, got %v", data)
	}
	if data["dwell_seconds"] != float64(8) {
		t.Fatalf("expected dwell_seconds=8, got %v", data)
	}
}

// TestDispatcher_CruiseStartUsesWireFieldNames pins challenge_cruise_start's
// wire contract (§4.9, §8 scenario #4): {rounds, height, stayDuration}, not
// {height_cm, dwell_seconds}. Using non-default values catches a handler
// that silently falls back to its defaults instead of reading the payload.
func TestDispatcher_CruiseStartUsesWireFieldNames(t *testing.T) {
	hub, srv, conn := testServer(t)
	defer srv.Close()
	defer conn.Close()

	readOne(t, conn) // connection_established

	req := Message{Type: CmdChallengeCruiseStart, Data: map[string]interface{}{
		"rounds":       3,
		"height":       150,
		"stayDuration": 12,
		"pad_a":        2,
		"pad_b":        9,
	}}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readOne(t, conn)
	if resp.Type != EventMissionStatus {
		t.Fatalf("expected mission_status, got %s (%v)", resp.Type, resp.Data)
	}

	d := hub.handler.(*Dispatcher)
	params := d.Mission.LastParams()
	if params.Rounds != 3 || params.HeightCM != 150 || params.DwellSeconds != 12 {
		t.Fatalf("expected rounds=3 height=150 dwell=12, got %+v", params)
	}
	if params.TargetPads != [2]int{2, 9} {
		t.Fatalf("expected pads 2/9, got %v", params.TargetPads)
	}
}

func TestDispatcher_DroneCommandAcksBeforeExecuting(t *testing.T) {
	sim := driver.NewSim()
	sim.Connect(context.Background())
	d := &Dispatcher{Driver: sim}

	raw, _ := json.Marshal(map[string]interface{}{"action": "forward", "value": 50})
	var data map[string]interface{}
	json.Unmarshal(raw, &data)

	resp := d.Handle(context.Background(), Message{Type: CmdDroneCommand, Data: data})
	if resp.Type != EventDroneCommandResponse {
		t.Fatalf("expected immediate ack, got %s", resp.Type)
	}
	respData := resp.Data.(map[string]interface{})
	if respData["acknowledged"] != true {
		t.Fatalf("expected acknowledged=true ack, got %v", respData)
	}
}
