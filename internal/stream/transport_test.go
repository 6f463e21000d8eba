package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
	"github.com/Tpanda03/Pulse-RadarProject/internal/transport"
)

// pipeDialer hands out the client ends of net.Pipe pairs, one per Connect,
// and records the server ends for the test to drive.
type pipeDialer struct {
	servers chan net.Conn
	err     error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{servers: make(chan net.Conn, 4)}
}

func (p *pipeDialer) dial(ctx context.Context, address string) (net.Conn, error) {
	if p.err != nil {
		return nil, p.err
	}
	client, server := net.Pipe()
	p.servers <- server
	return client, nil
}

func waitForState(t *testing.T, events <-chan transport.Event, want transport.State) transport.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == transport.EventStateChange && ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func waitForDetection(t *testing.T, events <-chan transport.Event) detection.Detection {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == transport.EventDetection {
				return ev.Detection
			}
		case <-deadline:
			t.Fatal("timed out waiting for a detection event")
		}
	}
}

func TestConnectFailure(t *testing.T) {
	d := newPipeDialer()
	d.err = errors.New("connection refused")
	tr := NewTransportWithDialer(d.dial)

	if err := tr.Connect("192.0.2.1:9000"); err == nil {
		t.Fatal("expected connect error")
	}

	waitForState(t, tr.Events(), transport.StateError)
	if tr.LastError() == "" {
		t.Error("expected an error message after failed connect")
	}
	if tr.IsConnected() {
		t.Error("IsConnected after failed connect")
	}
}

func TestReadLoopDeliversDetections(t *testing.T) {
	d := newPipeDialer()
	tr := NewTransportWithDialer(d.dial)
	defer tr.Disconnect()

	if err := tr.Connect("bridge:9000"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, tr.Events(), transport.StateConnected)
	server := <-d.servers

	go server.Write([]byte(`{"object_id":"t1","x_position":2,"y_position":3,"depth":1,"snr":10}` + "\n"))

	got := waitForDetection(t, tr.Events())
	if got.ObjectID != "t1" {
		t.Errorf("ObjectID = %q, want t1", got.ObjectID)
	}
	if got.XPosition != 2 || got.YPosition != 3 {
		t.Errorf("position = (%f, %f), want (2, 3)", got.XPosition, got.YPosition)
	}
}

func TestReadLoopSkipsBadFrames(t *testing.T) {
	d := newPipeDialer()
	tr := NewTransportWithDialer(d.dial)
	defer tr.Disconnect()

	if err := tr.Connect("bridge:9000"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := <-d.servers

	go func() {
		server.Write([]byte("not json at all\n"))
		server.Write([]byte(`{"x_position":1}` + "\n")) // missing required fields
		server.Write([]byte(`{"object_id":"ok","x_position":0,"y_position":0,"depth":2,"snr":8}` + "\n"))
	}()

	got := waitForDetection(t, tr.Events())
	if got.ObjectID != "ok" {
		t.Errorf("ObjectID = %q, want ok (bad frames must be skipped, not fatal)", got.ObjectID)
	}
	if !tr.IsConnected() {
		t.Error("payload errors must not drop the connection")
	}
}

// TestStreamFailureThenReconnect covers the recovery contract: a mid-loop
// read failure moves the transport to the error state and releases the
// handle, and a later Connect reaches Connected again.
func TestStreamFailureThenReconnect(t *testing.T) {
	d := newPipeDialer()
	tr := NewTransportWithDialer(d.dial)
	defer tr.Disconnect()

	if err := tr.Connect("bridge:9000"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, tr.Events(), transport.StateConnected)
	server := <-d.servers

	// Server drops the connection while the transport is mid-read.
	server.Close()

	waitForState(t, tr.Events(), transport.StateError)
	if tr.IsConnected() {
		t.Error("handle must be released after a read failure")
	}

	if err := tr.Connect("bridge:9000"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitForState(t, tr.Events(), transport.StateConnected)
	if !tr.IsConnected() {
		t.Error("expected IsConnected after reconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	d := newPipeDialer()
	tr := NewTransportWithDialer(d.dial)

	// From Disconnected.
	tr.Disconnect()
	tr.Disconnect()
	if got := tr.State(); got != transport.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}

	// From Connected.
	if err := tr.Connect("bridge:9000"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-d.servers
	tr.Disconnect()
	tr.Disconnect()
	if got := tr.State(); got != transport.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
}

func TestSendCommand(t *testing.T) {
	d := newPipeDialer()
	tr := NewTransportWithDialer(d.dial)
	defer tr.Disconnect()

	if err := tr.SendCommand("START"); err == nil {
		t.Error("expected error sending while disconnected")
	}

	if err := tr.Connect("bridge:9000"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := <-d.servers

	lines := make(chan string, 1)
	go func() {
		scan := bufio.NewScanner(server)
		for scan.Scan() {
			lines <- scan.Text()
		}
	}()

	if err := tr.SendCommand("START"); err != nil {
		t.Fatalf("send command: %v", err)
	}

	select {
	case line := <-lines:
		var env struct {
			Type      string `json:"type"`
			Command   string `json:"command"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Fatalf("parse outbound command %q: %v", line, err)
		}
		if env.Type != "command" || env.Command != "START" {
			t.Errorf("outbound envelope = %+v, want type=command command=START", env)
		}
		if env.Timestamp == 0 {
			t.Error("outbound envelope missing timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command envelope")
	}
}

func TestDisconnectDuringDial(t *testing.T) {
	dialing := make(chan struct{})
	release := make(chan struct{})
	var server net.Conn
	tr := NewTransportWithDialer(func(ctx context.Context, address string) (net.Conn, error) {
		close(dialing)
		<-release
		client, srv := net.Pipe()
		server = srv
		return client, nil
	})

	errc := make(chan error, 1)
	go func() { errc <- tr.Connect("bridge:9000") }()
	<-dialing

	// Tear down while the dial is still in flight, then let it finish.
	tr.Disconnect()
	close(release)

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("connect = %v, want context.Canceled", err)
	}
	if got := tr.State(); got != transport.StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if tr.IsConnected() {
		t.Error("IsConnected after teardown")
	}

	// The late-arriving conn must be closed, not installed.
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("server read = %v, want EOF", err)
	}

	// No Connected transition may have slipped out.
	for {
		select {
		case ev := <-tr.Events():
			if ev.Kind == transport.EventStateChange && ev.State == transport.StateConnected {
				t.Fatal("transport reported connected after teardown")
			}
		default:
			return
		}
	}
}
