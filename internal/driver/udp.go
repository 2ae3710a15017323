package driver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/frame"
	"github.com/canopy-robotics/canopy-agent/internal/log"
)

// UDPDriver talks the commodity quadrotor's SDK-style text protocol: every
// command is a short ASCII line sent to the command port, acknowledged by
// a reply on the same socket. All commands serialize through cmdMu,
// matching §5's "drone driver is a single exclusive resource" rule — C7's
// status polling, C8's flight commands and C9's direct commands all
// funnel through the one UDPDriver instance.
type UDPDriver struct {
	addr           string
	connectTimeout time.Duration
	cmdTimeout     time.Duration

	cmdMu sync.Mutex
	conn  *net.UDPConn

	connected   bool
	reader      *streamReader
	latestFrame *frame.Frame
}

// Config parameterizes a UDPDriver.
type Config struct {
	Address        string        // "192.168.10.1:8889" style command endpoint
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// New builds a UDPDriver from cfg; zero-value durations default to 5s
// connect / 7s per-command, matching the real SDK's ack latency envelope.
func New(cfg Config) *UDPDriver {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 7 * time.Second
	}
	return &UDPDriver{addr: cfg.Address, connectTimeout: cfg.ConnectTimeout, cmdTimeout: cfg.CommandTimeout}
}

var _ Driver = (*UDPDriver)(nil)

// Connect dials the command endpoint and sends the SDK handshake
// ("command"), expecting an "ok" acknowledgement.
func (d *UDPDriver) Connect(ctx context.Context) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", d.addr)
	if err != nil {
		return fmt.Errorf("resolve driver address %q: %w", d.addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial driver: %w", err)
	}
	d.conn = conn
	d.reader = newStreamReader(conn)

	if err := d.sendLocked(ctx, "command"); err != nil {
		conn.Close()
		d.conn = nil
		return fmt.Errorf("driver handshake: %w", err)
	}
	d.connected = true
	log.Get().Info("driver connected")
	return nil
}

// End closes the connection. Safe to call when not connected.
func (d *UDPDriver) End() error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.connected = false
	return err
}

func (d *UDPDriver) IsConnected() bool {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return d.connected
}

func (d *UDPDriver) Battery(ctx context.Context) (int, error)     { return d.sendQueryInt(ctx, "battery?") }
func (d *UDPDriver) Temperature(ctx context.Context) (int, error) { return d.sendQueryInt(ctx, "temp?") }
func (d *UDPDriver) Height(ctx context.Context) (int, error)      { return d.sendQueryInt(ctx, "height?") }

func (d *UDPDriver) MissionPadID(ctx context.Context) (int, error) {
	n, err := d.sendQueryInt(ctx, "mid?")
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (d *UDPDriver) Takeoff(ctx context.Context) error   { return d.send(ctx, "takeoff") }
func (d *UDPDriver) Land(ctx context.Context) error      { return d.send(ctx, "land") }
func (d *UDPDriver) Emergency(ctx context.Context) error { return d.send(ctx, "emergency") }

func (d *UDPDriver) MoveForward(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("forward %d", clampInt(cm, 20, 500)))
}
func (d *UDPDriver) MoveBack(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("back %d", clampInt(cm, 20, 500)))
}
func (d *UDPDriver) MoveLeft(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("left %d", clampInt(cm, 20, 500)))
}
func (d *UDPDriver) MoveRight(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("right %d", clampInt(cm, 20, 500)))
}
func (d *UDPDriver) MoveUp(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("up %d", clampInt(cm, 20, 500)))
}
func (d *UDPDriver) MoveDown(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("down %d", clampInt(cm, 20, 500)))
}

func (d *UDPDriver) RotateClockwise(ctx context.Context, deg int) error {
	return d.send(ctx, fmt.Sprintf("cw %d", clampInt(deg, 1, 360)))
}
func (d *UDPDriver) RotateCounterClockwise(ctx context.Context, deg int) error {
	return d.send(ctx, fmt.Sprintf("ccw %d", clampInt(deg, 1, 360)))
}

func (d *UDPDriver) SetHeight(ctx context.Context, cm int) error {
	return d.send(ctx, fmt.Sprintf("height %d", clampInt(cm, 40, 300)))
}

func (d *UDPDriver) SendRCControl(ctx context.Context, lr, fb, ud, yaw int) error {
	lr, fb, ud, yaw = clampInt(lr, -100, 100), clampInt(fb, -100, 100), clampInt(ud, -100, 100), clampInt(yaw, -100, 100)
	return d.send(ctx, fmt.Sprintf("rc %d %d %d %d", lr, fb, ud, yaw))
}

func (d *UDPDriver) GoXYZSpeedMid(ctx context.Context, x, y, z, speed, padID int) error {
	return d.send(ctx, fmt.Sprintf("go %d %d %d %d m%d", x, y, z, speed, padID))
}

func (d *UDPDriver) StreamOn(ctx context.Context) error  { return d.send(ctx, "streamon") }
func (d *UDPDriver) StreamOff(ctx context.Context) error { return d.send(ctx, "streamoff") }

// GetFrameRead returns a handle onto the latest decoded video frame. The
// UDP reference driver does not itself decode the H.264 video stream
// (out of scope per spec §1); a real deployment wires a decoder that
// feeds Push below. Returns a reader backed by an always-empty buffer
// until Push is called at least once, so callers see "no frame yet"
// rather than a nil dereference.
func (d *UDPDriver) GetFrameRead() FrameReader {
	return &frameHandle{driver: d}
}

// Push is called by an external video decoder goroutine to hand the
// driver its latest decoded frame.
func (d *UDPDriver) Push(f *frame.Frame) {
	d.cmdMu.Lock()
	d.latestFrame = f
	d.cmdMu.Unlock()
}

type frameHandle struct{ driver *UDPDriver }

func (h *frameHandle) Read() (*frame.Frame, bool) {
	h.driver.cmdMu.Lock()
	defer h.driver.cmdMu.Unlock()
	if h.driver.latestFrame == nil {
		return nil, false
	}
	return h.driver.latestFrame, true
}

func (d *UDPDriver) send(ctx context.Context, cmd string) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return d.sendLocked(ctx, cmd)
}

func (d *UDPDriver) sendQueryInt(ctx context.Context, cmd string) (int, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	reply, err := d.sendLockedReply(ctx, cmd)
	if err != nil {
		return 0, err
	}
	reply = strings.TrimSuffix(strings.TrimSpace(reply), "cm")
	n, parseErr := strconv.Atoi(reply)
	if parseErr != nil {
		return 0, fmt.Errorf("parse %q reply %q: %w", cmd, reply, parseErr)
	}
	return n, nil
}

func (d *UDPDriver) sendLocked(ctx context.Context, cmd string) error {
	reply, err := d.sendLockedReply(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(reply), "ok") {
		return fmt.Errorf("command %q rejected: %s", cmd, reply)
	}
	return nil
}

// sendLockedReply writes cmd and waits for one line of reply or timeout.
// Caller must hold cmdMu.
func (d *UDPDriver) sendLockedReply(ctx context.Context, cmd string) (string, error) {
	if d.conn == nil {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(d.cmdTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	d.conn.SetDeadline(deadline)

	if _, err := d.conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}

	line, err := d.reader.ReadLine()
	if err != nil {
		return "", fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	return line, nil
}

// streamReader wraps a UDP connection in a bufio.Scanner-style line
// reader; each datagram from the real SDK carries exactly one reply line.
type streamReader struct {
	r *bufio.Reader
}

func newStreamReader(conn net.Conn) *streamReader {
	return &streamReader{r: bufio.NewReader(conn)}
}

func (s *streamReader) ReadLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
