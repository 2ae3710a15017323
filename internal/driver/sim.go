package driver

import (
	"context"
	"sync"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
)

// SimDriver is an in-memory stand-in for UDPDriver used by tests and by
// local development without real hardware attached. It tracks just enough
// state (connected flag, battery/height/temperature readings, a call log)
// for callers to assert on behavior without a network round trip.
type SimDriver struct {
	mu sync.Mutex

	connected bool
	battery   int
	temp      int
	height    int
	padID     int

	calls []string
	frame *frame.Frame
}

// NewSim builds a SimDriver with plausible defaults (battery full, on the
// ground, no mission pad in view).
func NewSim() *SimDriver {
	return &SimDriver{battery: 100, temp: 25, height: 0, padID: -1}
}

var _ Driver = (*SimDriver)(nil)

func (s *SimDriver) record(call string) {
	s.calls = append(s.calls, call)
}

// Calls returns the ordered list of operations invoked so far, for test
// assertions on command sequencing.
func (s *SimDriver) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *SimDriver) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.record("connect")
	return nil
}

func (s *SimDriver) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.record("end")
	return nil
}

func (s *SimDriver) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SimDriver) Battery(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.battery, nil
}

func (s *SimDriver) Temperature(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.temp, nil
}

func (s *SimDriver) Height(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrNotConnected
	}
	return s.height, nil
}

func (s *SimDriver) MissionPadID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return -1, ErrNotConnected
	}
	return s.padID, nil
}

func (s *SimDriver) Takeoff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.height = 100
	s.record("takeoff")
	return nil
}

func (s *SimDriver) Land(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.height = 0
	s.record("land")
	return nil
}

func (s *SimDriver) Emergency(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("emergency")
	return nil
}

func (s *SimDriver) MoveForward(ctx context.Context, cm int) error {
	return s.move("forward", cm)
}
func (s *SimDriver) MoveBack(ctx context.Context, cm int) error {
	return s.move("back", cm)
}
func (s *SimDriver) MoveLeft(ctx context.Context, cm int) error {
	return s.move("left", cm)
}
func (s *SimDriver) MoveRight(ctx context.Context, cm int) error {
	return s.move("right", cm)
}
func (s *SimDriver) MoveUp(ctx context.Context, cm int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.height += clampInt(cm, 20, 500)
	s.record("up")
	return nil
}
func (s *SimDriver) MoveDown(ctx context.Context, cm int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.height -= clampInt(cm, 20, 500)
	s.record("down")
	return nil
}

func (s *SimDriver) move(name string, cm int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.record(name)
	return nil
}

func (s *SimDriver) RotateClockwise(ctx context.Context, deg int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.record("cw")
	return nil
}

func (s *SimDriver) RotateCounterClockwise(ctx context.Context, deg int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.record("ccw")
	return nil
}

func (s *SimDriver) SetHeight(ctx context.Context, cm int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.height = clampInt(cm, 40, 300)
	s.record("set_height")
	return nil
}

func (s *SimDriver) SendRCControl(ctx context.Context, lr, fb, ud, yaw int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.record("rc")
	return nil
}

func (s *SimDriver) GoXYZSpeedMid(ctx context.Context, x, y, z, speed, padID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.record("go_xyz_speed_mid")
	return nil
}

func (s *SimDriver) StreamOn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("streamon")
	return nil
}

func (s *SimDriver) StreamOff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("streamoff")
	return nil
}

// Push installs the frame returned by GetFrameRead's reader, letting tests
// feed synthetic frames through the same interface the frame pipeline
// consumes from a real driver.
func (s *SimDriver) Push(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
}

func (s *SimDriver) GetFrameRead() FrameReader {
	return &simFrameHandle{sim: s}
}

type simFrameHandle struct{ sim *SimDriver }

func (h *simFrameHandle) Read() (*frame.Frame, bool) {
	h.sim.mu.Lock()
	defer h.sim.mu.Unlock()
	if h.sim.frame == nil {
		return nil, false
	}
	return h.sim.frame, true
}

// SetBattery/SetHeight/SetPadID let a test script the readings SimDriver
// reports, e.g. to exercise low-battery recovery behavior.
func (s *SimDriver) SetBattery(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = v
}

func (s *SimDriver) SetPadID(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.padID = v
}
