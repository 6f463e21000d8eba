// Package stream implements the line-oriented TCP transport: a connect/
// listen-loop state machine over a byte-stream socket carrying
// newline-delimited JSON detection payloads.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
	"github.com/Tpanda03/Pulse-RadarProject/internal/monitoring"
	"github.com/Tpanda03/Pulse-RadarProject/internal/transport"
)

const (
	// DialTimeout bounds the TCP connect attempt.
	DialTimeout = 5 * time.Second
	// ReadTimeout bounds each read while connected; an idle producer past
	// this is treated as a dead stream.
	ReadTimeout = 30 * time.Second
)

// DialFunc opens the byte-stream socket. Swappable for tests.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Transport owns one TCP connection to the sensor bridge and at most one
// background read loop. All state transitions happen on this object; the
// coordinator observes them through the Events channel.
type Transport struct {
	mu      sync.Mutex
	state   transport.State
	lastErr string
	conn    net.Conn
	cancel  context.CancelFunc
	done    chan struct{}

	events      chan transport.Event
	dial        DialFunc
	readTimeout time.Duration
}

// NewTransport returns a disconnected transport dialing real TCP sockets.
func NewTransport() *Transport {
	return NewTransportWithDialer(func(ctx context.Context, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: DialTimeout}
		return d.DialContext(ctx, "tcp", address)
	})
}

// NewTransportWithDialer returns a transport using the given dialer. Used
// by tests and dev tooling that feed the transport from an in-memory
// producer.
func NewTransportWithDialer(dial DialFunc) *Transport {
	return &Transport{
		state:       transport.StateDisconnected,
		events:      make(chan transport.Event, transport.EventBufferSize),
		dial:        dial,
		readTimeout: ReadTimeout,
	}
}

// Events returns the transport's outbound event channel. It is subscribed
// once, at coordinator construction, and lives for the transport's lifetime.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// State returns the current connection state.
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the most recent error message, if any.
func (t *Transport) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// IsConnected reports whether the transport is usable: the state machine
// says Connected and the handle is still held. This defends against
// state/handle divergence after an unreported failure.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == transport.StateConnected && t.conn != nil
}

// Connect tears down any prior connection, dials the address, and on
// success starts the read loop. Failure leaves the transport in the error
// state; a fresh Connect recovers from it.
func (t *Transport) Connect(address string) error {
	t.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.setState(transport.StateConnecting, "")

	conn, err := t.dial(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			// Torn down mid-connect; Disconnect already reset the state.
			return ctx.Err()
		}
		t.setState(transport.StateError, fmt.Sprintf("connect %s: %v", address, err))
		return err
	}

	// Install the conn and enter Connected in one critical section with the
	// teardown check: a Disconnect that landed while the dial was in flight
	// has nilled t.cancel (and cancelled ctx), and must not be overwritten
	// by the late-arriving conn.
	done := make(chan struct{})
	t.mu.Lock()
	if t.cancel == nil || ctx.Err() != nil {
		t.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	t.conn = conn
	t.done = done
	t.state = transport.StateConnected
	t.lastErr = ""
	t.mu.Unlock()

	t.emit(transport.Event{Kind: transport.EventStateChange, State: transport.StateConnected})
	go t.readLoop(ctx, conn, done)
	return nil
}

// readLoop reads newline-delimited frames until teardown or a connection
// level failure. Payload errors are logged and the frame dropped; only a
// closed stream or read failure exits the loop.
func (t *Transport) readLoop(ctx context.Context, conn net.Conn, done chan struct{}) {
	defer close(done)

	scan := bufio.NewScanner(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		if !scan.Scan() {
			if ctx.Err() != nil {
				return
			}
			msg := "stream closed"
			if err := scan.Err(); err != nil {
				msg = fmt.Sprintf("stream read: %v", err)
			}
			conn.Close()
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			t.setState(transport.StateError, msg)
			return
		}

		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, err := detection.ParseLine(line)
		if err != nil {
			monitoring.Logf("stream: dropping frame: %v", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		switch msg.Type {
		case detection.PayloadTypeDetection:
			t.emit(transport.Event{Kind: transport.EventDetection, Detection: msg.Detection})
		case detection.PayloadTypeConnection:
			monitoring.Logf("stream: connection notice: %s", msg.Note)
		default:
			monitoring.Logf("stream: ignoring payload type %q", msg.Type)
		}
	}
}

// SendCommand wraps the command string in the stream envelope and writes it.
// A failed write surfaces an error message but does not change connection
// state.
func (t *Transport) SendCommand(command string) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == transport.StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	if _, err := conn.Write(detection.EncodeCommand(command)); err != nil {
		msg := fmt.Sprintf("send command %q: %v", command, err)
		t.mu.Lock()
		t.lastErr = msg
		t.mu.Unlock()
		t.emit(transport.Event{Kind: transport.EventError, Message: msg})
		return err
	}
	return nil
}

// Disconnect cancels the read loop, closes the handle, and returns to the
// disconnected state. It is idempotent and safe from any state, including
// mid-connect or mid-read. Close errors are swallowed.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	cancel := t.cancel
	conn := t.conn
	done := t.done
	t.cancel = nil
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		// The loop cannot deliver a detection after this returns.
		<-done
	}
	t.setState(transport.StateDisconnected, "")
}

// setState records a state transition and emits it. Entering Connected
// clears the error message; no event is emitted for a no-op transition.
func (t *Transport) setState(s transport.State, msg string) {
	t.mu.Lock()
	if t.state == s && msg == "" {
		t.mu.Unlock()
		return
	}
	t.state = s
	if msg != "" {
		t.lastErr = msg
	} else if s == transport.StateConnected {
		t.lastErr = ""
	}
	t.mu.Unlock()

	t.emit(transport.Event{Kind: transport.EventStateChange, State: s, Message: msg})
}

// emit is a non-blocking send; a stalled consumer drops events rather than
// wedging the read loop.
func (t *Transport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
		monitoring.Logf("stream: dropping event, subscriber not keeping up")
	}
}
