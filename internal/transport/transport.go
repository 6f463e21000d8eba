// Package transport defines the connection states and the outbound event
// stream shared by the ingestion transports. Each transport owns one event
// channel that the coordinator subscribes to once at construction; detection
// delivery, state changes, and errors all arrive there, which keeps ordering
// and cancellation explicit.
package transport

import "github.com/Tpanda03/Pulse-RadarProject/internal/detection"

// State is the connection state of a single transport. The stream transport
// never enters StateScanning.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// EventKind discriminates transport events.
type EventKind int

const (
	// EventDetection carries one decoded detection.
	EventDetection EventKind = iota
	// EventStateChange carries the transport's new state; Message holds the
	// error text when the new state is StateError.
	EventStateChange
	// EventError carries an error message that did not change the
	// connection state, such as a failed command write.
	EventError
)

// Event is one message on a transport's outbound channel.
type Event struct {
	Kind      EventKind
	Detection detection.Detection
	State     State
	Message   string
}

// EventBufferSize is the depth of each transport's outbound channel. Sends
// are non-blocking; a stalled consumer drops events rather than wedging the
// receive loop.
const EventBufferSize = 128
