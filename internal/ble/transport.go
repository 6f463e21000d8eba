package ble

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
	"github.com/Tpanda03/Pulse-RadarProject/internal/monitoring"
	"github.com/Tpanda03/Pulse-RadarProject/internal/transport"
)

// Device is a scan candidate, deduplicated by address.
type Device struct {
	Address  string
	Name     string
	RSSI     int16
	LastSeen time.Time
}

// Transport owns the notification-channel state machine. The candidate
// device list is owned here and read-only to the coordinator.
type Transport struct {
	mu       sync.Mutex
	radio    Radio
	state    transport.State
	lastErr  string
	devices  map[string]Device
	peer     Peer
	watchdog *time.Timer
	scanning bool
	// gen guards async radio callbacks: teardown bumps it, and a callback
	// from a stale scan or connection is ignored.
	gen int

	events      chan transport.Event
	scanTimeout time.Duration
}

// NewTransport returns a disconnected transport on the given radio and
// registers for unsolicited disconnects.
func NewTransport(radio Radio) *Transport {
	t := &Transport{
		radio:       radio,
		state:       transport.StateDisconnected,
		devices:     make(map[string]Device),
		events:      make(chan transport.Event, transport.EventBufferSize),
		scanTimeout: ScanTimeout,
	}
	radio.SetDisconnectHandler(t.onPeerLost)
	return t
}

// Events returns the transport's outbound event channel.
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

// Devices returns a snapshot of the candidate list, strongest signal first.
func (t *Transport) Devices() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	return out
}

// StartScan begins discovery. If the radio is off the transport enters the
// error state without scanning; the error is not terminal and a later
// StartScan re-attempts from scratch. A 10s watchdog ends an unanswered
// scan.
func (t *Transport) StartScan() error {
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.radio.Enable(); err != nil {
		t.setState(transport.StateError, "adapter disabled")
		return err
	}

	t.mu.Lock()
	t.scanning = true
	gen := t.gen
	t.watchdog = time.AfterFunc(t.scanTimeout, func() { t.scanExpired(gen) })
	t.mu.Unlock()

	t.setState(transport.StateScanning, "")

	go func() {
		err := t.radio.Scan(func(info DeviceInfo) { t.onDiscover(gen, info) })
		if err == nil {
			return
		}
		t.mu.Lock()
		stale := gen != t.gen || !t.scanning
		t.scanning = false
		t.mu.Unlock()
		if !stale {
			t.setState(transport.StateError, fmt.Sprintf("scan failed: %v", err))
		}
	}()
	return nil
}

// StopScan ends discovery and returns to the disconnected state.
func (t *Transport) StopScan() {
	t.mu.Lock()
	if !t.scanning {
		t.mu.Unlock()
		return
	}
	t.scanning = false
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	t.mu.Unlock()

	if err := t.radio.StopScan(); err != nil {
		monitoring.Logf("ble: stop scan: %v", err)
	}
	if t.State() == transport.StateScanning {
		t.setState(transport.StateDisconnected, "")
	}
}

func (t *Transport) scanExpired(gen int) {
	t.mu.Lock()
	stale := gen != t.gen || !t.scanning
	t.mu.Unlock()
	if stale {
		return
	}
	monitoring.Logf("ble: scan timed out after %s", t.scanTimeout)
	t.StopScan()
}

// onDiscover appends or refreshes a scan candidate. Only devices whose
// advertised name contains a recognized product substring are kept. No
// state change.
func (t *Transport) onDiscover(gen int, info DeviceInfo) {
	if !recognizedName(info.Name) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.scanning {
		return
	}

	d, ok := t.devices[info.Address]
	if !ok {
		d = Device{Address: info.Address}
	}
	if info.Name != "" {
		d.Name = info.Name
	}
	d.RSSI = info.RSSI
	d.LastSeen = time.Now()
	t.devices[info.Address] = d
}

func recognizedName(name string) bool {
	upper := strings.ToUpper(name)
	for _, p := range productNames {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}

// Connect establishes a connection to a discovered device, stopping any
// scan first. On lower-layer success the transport is Connected; the
// service/characteristic discovery step follows, and a missing service
// moves the transport to the error state with the connection released.
// A Disconnect landing while the radio connect is in flight wins: the
// late-arriving peer is released and no state is touched.
func (t *Transport) Connect(address string) error {
	t.StopScan()
	t.setState(transport.StateConnecting, "")

	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	peer, err := t.radio.Connect(address)
	if err != nil {
		t.mu.Lock()
		stale := gen != t.gen
		t.mu.Unlock()
		if stale {
			// Torn down mid-connect; Disconnect already reset the state.
			return err
		}
		t.setState(transport.StateError, fmt.Sprintf("connect %s: %v", address, err))
		return err
	}

	// Install the peer and enter Connected in one critical section with the
	// staleness check, so a concurrent Disconnect either precedes it (and
	// the peer is released here) or follows it (and cleans the peer up).
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if derr := peer.Disconnect(); derr != nil {
			monitoring.Logf("ble: release after teardown: %v", derr)
		}
		return fmt.Errorf("connect %s: torn down mid-connect", address)
	}
	t.peer = peer
	t.state = transport.StateConnected
	t.lastErr = ""
	t.mu.Unlock()

	t.emit(transport.Event{Kind: transport.EventStateChange, State: transport.StateConnected})

	if err := peer.Subscribe(func(buf []byte) { t.onNotify(gen, buf) }); err != nil {
		if derr := peer.Disconnect(); derr != nil {
			monitoring.Logf("ble: release after failed subscribe: %v", derr)
		}
		t.mu.Lock()
		if t.peer == peer {
			t.peer = nil
		}
		stale := gen != t.gen
		t.mu.Unlock()
		if !stale {
			t.setState(transport.StateError, "service not found")
		}
		return err
	}
	return nil
}

// onNotify decodes one inbound notification. A short frame is logged and
// dropped with no state change.
func (t *Transport) onNotify(gen int, buf []byte) {
	t.mu.Lock()
	stale := gen != t.gen || t.state != transport.StateConnected
	t.mu.Unlock()
	if stale {
		return
	}

	d, err := detection.DecodeFrame(buf)
	if err != nil {
		monitoring.Logf("ble: dropping notification: %v", err)
		return
	}
	t.emit(transport.Event{Kind: transport.EventDetection, Detection: d})
}

// SendCommand writes to the command characteristic. It is a silent no-op
// when not connected or the characteristic is unavailable.
func (t *Transport) SendCommand(data []byte) {
	t.mu.Lock()
	peer := t.peer
	connected := t.state == transport.StateConnected
	t.mu.Unlock()

	if !connected || peer == nil {
		return
	}
	if err := peer.WriteCommand(data); err != nil {
		msg := fmt.Sprintf("write command: %v", err)
		t.mu.Lock()
		t.lastErr = msg
		t.mu.Unlock()
		t.emit(transport.Event{Kind: transport.EventError, Message: msg})
	}
}

// Disconnect tears down the connection handle, clears the candidate list,
// and returns to the disconnected state. Valid and idempotent from any
// state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.gen++
	scanning := t.scanning
	t.scanning = false
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	peer := t.peer
	t.peer = nil
	t.devices = make(map[string]Device)
	t.mu.Unlock()

	if scanning {
		if err := t.radio.StopScan(); err != nil {
			monitoring.Logf("ble: stop scan: %v", err)
		}
	}
	if peer != nil {
		if err := peer.Disconnect(); err != nil {
			monitoring.Logf("ble: disconnect: %v", err)
		}
	}
	t.setState(transport.StateDisconnected, "")
}

// onPeerLost handles an unsolicited lower-layer disconnect: release the
// handle and return to Disconnected.
func (t *Transport) onPeerLost(address string) {
	t.mu.Lock()
	peer := t.peer
	if peer == nil || peer.Address() != address {
		t.mu.Unlock()
		return
	}
	t.gen++
	t.peer = nil
	t.mu.Unlock()

	monitoring.Logf("ble: connection to %s lost", address)
	t.setState(transport.StateDisconnected, "")
}

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

func (t *Transport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
		monitoring.Logf("ble: dropping event, subscriber not keeping up")
	}
}
