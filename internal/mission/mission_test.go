package mission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/driver"
)

func connectedSim(padID int) *driver.SimDriver {
	sim := driver.NewSim()
	sim.Connect(context.Background())
	sim.SetPadID(padID)
	return sim
}

// idealDriver simulates a drone that is physically wherever it was last
// told to go: RC bursts and direct go-to-pad commands move currentPad,
// and mission pad reads reflect it immediately. This lets a mission test
// exercise search/align/transition without real-world settling time.
type idealDriver struct {
	*driver.SimDriver
	mu         sync.Mutex
	currentPad int
}

func newIdealDriver(startPad int) *idealDriver {
	sim := driver.NewSim()
	sim.Connect(context.Background())
	return &idealDriver{SimDriver: sim, currentPad: startPad}
}

func (d *idealDriver) MissionPadID(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPad, nil
}

func (d *idealDriver) SendRCControl(ctx context.Context, lr, fb, ud, yaw int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lr > 0 {
		d.currentPad = 6
	} else if lr < 0 {
		d.currentPad = 1
	}
	return nil
}

func (d *idealDriver) GoXYZSpeedMid(ctx context.Context, x, y, z, speed, padID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentPad = padID
	return nil
}

func TestController_FullMissionCompletes(t *testing.T) {
	sim := newIdealDriver(1)
	c := New(sim)

	var positions []Position
	c.SetCallbacks(nil, func(p Position) { positions = append(positions, p) })

	if err := c.Start(Params{Rounds: 1, DwellSeconds: 0, HeightCM: 100, TargetPads: [2]int{1, 6}}); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(30 * time.Second)
	for c.IsRunning() {
		select {
		case <-deadline:
			t.Fatalf("mission did not finish in time, phase=%s", c.Phase())
		case <-time.After(50 * time.Millisecond):
		}
	}

	if c.Phase() != PhaseDone && c.Phase() != PhaseAborted {
		t.Fatalf("expected terminal phase, got %s", c.Phase())
	}
	if len(positions) == 0 {
		t.Fatalf("expected at least one position callback")
	}
}

// TestController_RoundsProduceTwiceAsManyDwells exercises scenario #4's own
// example (Rounds=1, pads 1 and 6): the mission must dwell at both pads
// once each — searching(1)->dwelling(1)->searching(6)->dwelling(6)->
// searching(1)->prepare_landing->landing — for exactly 2*Rounds dwell
// events, and must land back over pad a even though the last leg ends at b.
func TestController_RoundsProduceTwiceAsManyDwells(t *testing.T) {
	for _, rounds := range []int{1, 2, 3} {
		sim := newIdealDriver(1)
		c := New(sim)

		var positions []Position
		c.SetCallbacks(nil, func(p Position) { positions = append(positions, p) })

		if err := c.Start(Params{Rounds: rounds, DwellSeconds: 0, HeightCM: 100, TargetPads: [2]int{1, 6}}); err != nil {
			t.Fatalf("rounds=%d: start: %v", rounds, err)
		}

		deadline := time.After(90 * time.Second)
		for c.IsRunning() {
			select {
			case <-deadline:
				t.Fatalf("rounds=%d: mission did not finish in time, phase=%s", rounds, c.Phase())
			case <-time.After(50 * time.Millisecond):
			}
		}

		if c.Phase() != PhaseDone {
			t.Fatalf("rounds=%d: expected PhaseDone, got %s", rounds, c.Phase())
		}
		if want := 2 * rounds; len(positions) != want {
			t.Fatalf("rounds=%d: expected %d dwell events, got %d (%+v)", rounds, want, len(positions), positions)
		}
		for i, p := range positions {
			wantPad := 1
			if i%2 == 1 {
				wantPad = 6
			}
			if p.PadID != wantPad {
				t.Fatalf("rounds=%d: dwell %d expected pad %d, got %d", rounds, i, wantPad, p.PadID)
			}
		}

		sim.mu.Lock()
		landedAt := sim.currentPad
		sim.mu.Unlock()
		if landedAt != 1 {
			t.Fatalf("rounds=%d: expected mission to end back over pad 1, drone is at pad %d", rounds, landedAt)
		}
	}
}

func TestController_RejectsConcurrentStart(t *testing.T) {
	sim := connectedSim(-1) // never confirms, keeps the mission running
	c := New(sim)

	if err := c.Start(DefaultParams()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(DefaultParams()); err == nil {
		t.Fatalf("expected error starting a second mission while one is running")
	}
}

func TestController_StopAborts(t *testing.T) {
	sim := connectedSim(-1) // pad never found, controller stays in searching/recovering
	c := New(sim)

	if err := c.Start(DefaultParams()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	c.Stop()

	if c.IsRunning() {
		t.Fatalf("expected mission to have stopped")
	}
}
