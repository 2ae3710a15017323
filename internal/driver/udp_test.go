package driver

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeDrone is a minimal UDP responder standing in for the real quadrotor:
// it replies "ok" to every command line except the battery/height/temp/mid
// queries, which get a canned numeric reply.
func fakeDrone(t *testing.T) (addr string, stop func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			select {
			case <-done:
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			cmd := string(buf[:n])
			reply := "ok\n"
			switch {
			case strings.HasPrefix(cmd, "battery?"):
				reply = "85\n"
			case strings.HasPrefix(cmd, "height?"):
				reply = "120cm\n"
			case strings.HasPrefix(cmd, "temp?"):
				reply = "30\n"
			case strings.HasPrefix(cmd, "mid?"):
				reply = "6\n"
			}
			conn.WriteToUDP([]byte(reply), raddr)
		}
	}()

	return conn.LocalAddr().String(), func() {
		close(done)
		conn.Close()
	}
}

func TestUDPDriver_ConnectAndQueries(t *testing.T) {
	addr, stop := fakeDrone(t)
	defer stop()

	d := New(Config{Address: addr, ConnectTimeout: time.Second, CommandTimeout: time.Second})
	ctx := context.Background()

	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.End()

	if !d.IsConnected() {
		t.Fatalf("expected connected")
	}

	battery, err := d.Battery(ctx)
	if err != nil || battery != 85 {
		t.Fatalf("expected battery 85, got %d, err %v", battery, err)
	}

	height, err := d.Height(ctx)
	if err != nil || height != 120 {
		t.Fatalf("expected height 120, got %d, err %v", height, err)
	}

	pad, err := d.MissionPadID(ctx)
	if err != nil || pad != 6 {
		t.Fatalf("expected pad 6, got %d, err %v", pad, err)
	}
}

func TestUDPDriver_TakeoffAcksOK(t *testing.T) {
	addr, stop := fakeDrone(t)
	defer stop()

	d := New(Config{Address: addr, ConnectTimeout: time.Second, CommandTimeout: time.Second})
	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.End()

	if err := d.Takeoff(ctx); err != nil {
		t.Fatalf("takeoff: %v", err)
	}
	if err := d.MoveForward(ctx, 50); err != nil {
		t.Fatalf("move forward: %v", err)
	}
}

func TestUDPDriver_CommandsFailWhenNotConnected(t *testing.T) {
	d := New(Config{Address: "127.0.0.1:1"})
	if _, err := d.Battery(context.Background()); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
