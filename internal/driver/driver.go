// Package driver defines the §6.2 drone driver contract consumed by the
// frame pipeline (C7), the mission controller (C8) and the control plane
// (C9), plus a UDP reference implementation for the commodity quadrotor's
// SDK-style text protocol. The wire protocol itself is out of scope per
// spec §1 ("assumed to be accessed through a driver exposing the
// operations enumerated in §6.2"); Driver is that boundary.
package driver

import (
	"context"
	"errors"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
)

// ErrNotConnected is returned by any command issued before Connect
// succeeds or after End.
var ErrNotConnected = errors.New("driver: not connected")

// FrameReader yields the latest decoded video frame. Reads never block
// waiting for a new frame arriving from the camera stream; they return the
// most recent one, matching the drop-oldest semantics C7 needs.
type FrameReader interface {
	Read() (*frame.Frame, bool)
}

// Driver is the full set of operations §6.2 names. Every method blocks
// until the drone acknowledges (or the context is cancelled / the
// implementation's internal timeout fires), and every method call is
// serialized against every other: implementations own a mutex so that
// C7's status polling, C8's flight commands and C9's direct commands never
// race on the wire.
type Driver interface {
	Connect(ctx context.Context) error
	End() error
	IsConnected() bool

	Battery(ctx context.Context) (int, error)
	Temperature(ctx context.Context) (int, error)
	Height(ctx context.Context) (int, error)
	MissionPadID(ctx context.Context) (int, error)

	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	Emergency(ctx context.Context) error

	MoveForward(ctx context.Context, cm int) error
	MoveBack(ctx context.Context, cm int) error
	MoveLeft(ctx context.Context, cm int) error
	MoveRight(ctx context.Context, cm int) error
	MoveUp(ctx context.Context, cm int) error
	MoveDown(ctx context.Context, cm int) error

	RotateClockwise(ctx context.Context, deg int) error
	RotateCounterClockwise(ctx context.Context, deg int) error

	SetHeight(ctx context.Context, cm int) error

	SendRCControl(ctx context.Context, lr, fb, ud, yaw int) error
	GoXYZSpeedMid(ctx context.Context, x, y, z, speed, padID int) error

	StreamOn(ctx context.Context) error
	StreamOff(ctx context.Context) error
	GetFrameRead() FrameReader
}

// clampInt clips v into [lo, hi]; used by implementations to enforce
// §6.2's documented per-operation bounds without rejecting the caller.
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
