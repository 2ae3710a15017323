// Package mission implements C8: the waypoint cruise between two mission
// pads, run as a cooperatively-cancellable worker with its own phase
// state machine.
package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/driver"
	"github.com/canopy-robotics/canopy-agent/internal/errs"
	"github.com/canopy-robotics/canopy-agent/internal/log"
)

// Phase is one state in the mission's lifecycle.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseTakingOff      Phase = "taking_off"
	PhaseSearching      Phase = "searching"
	PhaseRecovering     Phase = "recovering"
	PhaseAligning       Phase = "aligning"
	PhaseDwelling       Phase = "dwelling"
	PhaseTransiting     Phase = "transiting"
	PhasePreparingLand  Phase = "prepare_landing"
	PhaseLanding        Phase = "landing"
	PhaseDone           Phase = "done"
	PhaseAborted        Phase = "aborted"
)

// Params is one mission's parameters (§4.8); the classic case is pads
// {1, 6}.
type Params struct {
	Rounds       int
	DwellSeconds int
	HeightCM     int
	TargetPads   [2]int
}

// DefaultParams returns the classic A=1/B=6 case with sane defaults.
func DefaultParams() Params {
	return Params{Rounds: 1, DwellSeconds: 5, HeightCM: 100, TargetPads: [2]int{1, 6}}
}

// Position is emitted at each confirmed pad (§4.8 callbacks).
type Position struct {
	PadID     int
	Round     int
	Phase     Phase
	Timestamp time.Time
}

// StatusFunc receives de-duplicated human-readable status lines (same
// message within 1s is suppressed).
type StatusFunc func(message string)

// PositionFunc receives a Position at each confirmed pad.
type PositionFunc func(pos Position)

const (
	searchPollInterval   = 500 * time.Millisecond // ~2Hz
	confirmSampleCount   = 3
	initialSearchTimeout = 10 * time.Second
	inflightSearchTimeout = 4 * time.Second
	alignTimeout         = 3 * time.Second
	recoveryMaxRotations = 4
	recoveryRotationDeg  = 30
	burstRC              = 35
	burstDuration        = 1200 * time.Millisecond
	legMaxAttempts       = 3
	alignSpeedCMs        = 15
)

// Controller is C8.
type Controller struct {
	drv driver.Driver

	mu           sync.Mutex
	running      bool
	phase        Phase
	lastParams   Params
	cancel       context.CancelFunc
	done         chan struct{}
	lastStatus   string
	lastStatusAt time.Time

	statusCB   StatusFunc
	positionCB PositionFunc
}

// New builds a Controller bound to drv.
func New(drv driver.Driver) *Controller {
	return &Controller{drv: drv, phase: PhaseIdle}
}

func (c *Controller) SetCallbacks(status StatusFunc, position PositionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCB = status
	c.positionCB = position
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LastParams returns the Params most recently passed to Start, for
// diagnostics and testing; the zero value before the first Start call.
func (c *Controller) LastParams() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastParams
}

// Start runs the mission in its own goroutine; only one mission may run at
// a time (§5).
func (c *Controller) Start(params Params) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("mission: already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.lastParams = params
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()
		defer errs.Guard("mission")()
		c.run(ctx, params)
	}()
	return nil
}

// Stop requests cancellation; additionally disables detection in the
// caller's pipeline (the caller is responsible for that per §5 — mission
// stop "disables marker and object detection" is coordinated by whoever
// owns both, typically the daemon) and attempts a safe descent if flying.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) status(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	now := time.Now()
	if msg == c.lastStatus && now.Sub(c.lastStatusAt) < time.Second {
		c.mu.Unlock()
		return
	}
	c.lastStatus = msg
	c.lastStatusAt = now
	cb := c.statusCB
	c.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
	log.Get().Info(msg)
}

func (c *Controller) position(pos Position) {
	c.mu.Lock()
	cb := c.positionCB
	c.mu.Unlock()
	if cb != nil {
		cb(pos)
	}
}

// run drives the phase state machine end to end (§4.8).
func (c *Controller) run(ctx context.Context, params Params) {
	a, b := params.TargetPads[0], params.TargetPads[1]
	allowed := map[int]bool{a: true, b: true}

	c.setPhase(PhaseTakingOff)
	if err := c.ensureAirborne(ctx, params.HeightCM); err != nil {
		c.status("takeoff failed: %v", err)
		c.setPhase(PhaseAborted)
		return
	}
	sleepCancellable(ctx, 2*time.Second)

	// Once airborne, a cancelled mission ends with a safe descent and
	// landing, whichever phase observed the cancellation.
	defer func() {
		if ctx.Err() != nil && c.Phase() != PhaseDone {
			c.safeLandAndAbort(ctx)
		}
	}()

	// Each round dwells at both pads: a full cruise is a→b→a, repeated
	// Rounds times, for 2*Rounds total dwell events (§8's testable
	// property). Track legs rather than rounds directly so the final
	// leg always lands back at a regardless of Rounds' parity — leg
	// 2*Rounds is always the "at b" leg, since legs alternate a,b,a,b...
	current := a
	if !c.searchConfirmOrRecover(ctx, current, allowed, true) {
		c.status("pad %d not found, aborting", current)
		c.setPhase(PhaseAborted)
		return
	}

	totalLegs := 2 * params.Rounds
	for leg := 1; leg <= totalLegs; leg++ {
		if ctx.Err() != nil {
			return
		}
		round := (leg + 1) / 2

		if !c.align(ctx, current, params.HeightCM) {
			c.status("pad %d alignment failed, aborting", current)
			c.setPhase(PhaseAborted)
			return
		}
		c.dwell(ctx, current, round, params.DwellSeconds)

		if leg == totalLegs {
			break
		}

		other := b
		if current == b {
			other = a
		}

		c.setPhase(PhaseTransiting)
		if !c.transitionLeg(ctx, current, other, allowed) {
			c.status("transition from %d to %d failed, aborting", current, other)
			c.setPhase(PhaseAborted)
			return
		}
		current = other
	}

	if current != a {
		c.setPhase(PhaseTransiting)
		if !c.transitionLeg(ctx, current, a, allowed) {
			c.status("transition from %d to %d failed, aborting", current, a)
			c.setPhase(PhaseAborted)
			return
		}
	}

	c.prepareLandingOverPad(ctx, a)
	c.setPhase(PhaseDone)
}

func (c *Controller) ensureAirborne(ctx context.Context, heightCM int) error {
	height, err := c.drv.Height(ctx)
	if err == nil && height > 10 {
		return c.drv.SetHeight(ctx, heightCM)
	}
	if err := c.drv.Takeoff(ctx); err != nil {
		return err
	}
	return c.drv.SetHeight(ctx, heightCM)
}

// searchConfirmOrRecover implements phases 3-4: poll for a confirmed
// observation of target, recovering via rotation on timeout, up to
// recoveryMaxRotations attempts.
func (c *Controller) searchConfirmOrRecover(ctx context.Context, target int, allowed map[int]bool, initial bool) bool {
	c.setPhase(PhaseSearching)
	timeout := initialSearchTimeout
	if !initial {
		timeout = inflightSearchTimeout
	}
	if c.confirmObservation(ctx, target, allowed, timeout) {
		return true
	}

	c.setPhase(PhaseRecovering)
	for attempt := 0; attempt < recoveryMaxRotations; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if err := c.drv.RotateClockwise(ctx, recoveryRotationDeg); err != nil {
			c.status("recovery rotation failed: %v", err)
		}
		if c.confirmObservation(ctx, target, allowed, inflightSearchTimeout) {
			return true
		}
	}
	return false
}

// confirmObservation polls the driver's pad ID at ~2Hz, requiring 3
// consecutive equal reads of target; any ID outside allowed resets the
// streak (the observation discipline invariant).
func (c *Controller) confirmObservation(ctx context.Context, target int, allowed map[int]bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	streak := 0
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		padID, err := c.drv.MissionPadID(ctx)
		if err != nil {
			streak = 0
		} else if padID == target {
			streak++
			if streak >= confirmSampleCount {
				return true
			}
		} else if !allowed[padID] {
			streak = 0
		}
		sleepCancellable(ctx, searchPollInterval)
	}
	return false
}

func (c *Controller) align(ctx context.Context, pad, heightCM int) bool {
	c.setPhase(PhaseAligning)
	if err := c.drv.GoXYZSpeedMid(ctx, 0, 0, heightCM, alignSpeedCMs, pad); err != nil {
		c.status("align to pad %d failed: %v", pad, err)
		return false
	}
	sleepCancellable(ctx, 3*time.Second)
	allowed := map[int]bool{pad: true}
	return c.confirmObservation(ctx, pad, allowed, alignTimeout)
}

func (c *Controller) dwell(ctx context.Context, pad, round, dwellSeconds int) {
	c.setPhase(PhaseDwelling)
	c.position(Position{PadID: pad, Round: round, Phase: PhaseDwelling, Timestamp: time.Now()})
	sleepCancellable(ctx, time.Duration(dwellSeconds)*time.Second)
}

// transitionLeg moves toward other using short translational RC bursts,
// up to legMaxAttempts attempts (§4.8 step 7).
func (c *Controller) transitionLeg(ctx context.Context, from, other int, allowed map[int]bool) bool {
	for attempt := 0; attempt < legMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		lr := burstRC
		if other < from {
			lr = -burstRC
		}
		if err := c.drv.SendRCControl(ctx, lr, 0, 0, 0); err != nil {
			c.status("rc burst failed: %v", err)
		}
		sleepCancellable(ctx, burstDuration)
		c.drv.SendRCControl(ctx, 0, 0, 0, 0)

		if c.searchConfirmOrRecover(ctx, other, allowed, false) {
			return true
		}
	}
	return false
}

func (c *Controller) prepareLandingOverPad(ctx context.Context, pad int) {
	c.setPhase(PhasePreparingLand)
	confirmed := c.confirmObservation(ctx, pad, map[int]bool{pad: true}, inflightSearchTimeout)
	if confirmed {
		c.drv.GoXYZSpeedMid(ctx, 0, 0, 60, alignSpeedCMs, pad)
		sleepCancellable(ctx, time.Second)
		c.drv.GoXYZSpeedMid(ctx, 0, 0, 30, alignSpeedCMs, pad)
	} else {
		c.drv.SetHeight(ctx, 30)
	}
	c.setPhase(PhaseLanding)
	c.drv.Land(ctx)
}

func (c *Controller) safeLandAndAbort(ctx context.Context) {
	c.setPhase(PhaseLanding)
	c.drv.SetHeight(context.Background(), 30)
	c.drv.Land(context.Background())
	c.setPhase(PhaseAborted)
}

func sleepCancellable(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
