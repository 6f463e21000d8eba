// Package ingest contains the ingestion coordinator: it selects the active
// transport (or the simulator), subscribes to its event stream, applies the
// merge/dedup/bounding policy, and exposes the canonical detection list and
// aggregate connection status to the UI layer.
package ingest

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tpanda03/Pulse-RadarProject/internal/ble"
	"github.com/Tpanda03/Pulse-RadarProject/internal/config"
	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
	"github.com/Tpanda03/Pulse-RadarProject/internal/monitoring"
	"github.com/Tpanda03/Pulse-RadarProject/internal/sim"
	"github.com/Tpanda03/Pulse-RadarProject/internal/stream"
	"github.com/Tpanda03/Pulse-RadarProject/internal/transport"
)

// Mode selects which detection source is active.
type Mode int

const (
	ModeBLE Mode = iota
	ModeStream
	ModeSimulation
)

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeSimulation:
		return "simulation"
	default:
		return "ble"
	}
}

// ParseMode parses a mode name as used by the CLI and the HTTP API.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ble", "bluetooth":
		return ModeBLE, nil
	case "stream", "tcp", "wifi":
		return ModeStream, nil
	case "simulation", "sim":
		return ModeSimulation, nil
	}
	return ModeBLE, fmt.Errorf("unknown mode %q", s)
}

// Status is the aggregate connection status projected from the active
// source.
type Status int

const (
	StatusDisconnected Status = iota
	StatusScanning
	StatusConnecting
	StatusConnected
	StatusSimulated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusSimulated:
		return "simulated"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// Well-known command strings. They are opaque to this layer and simply
// forwarded to the active transport.
const (
	CommandStart = "START"
	CommandStop  = "STOP"
	CommandClear = "CLEAR"
)

// Synthetic signal strengths reported while connected; the wire protocols
// carry no real RSSI for the link.
const (
	bleSignalStrength    = 85
	streamSignalStrength = 90
)

// EmulatorAddress is the loopback-host default used when running inside a
// virtual machine, where the configured LAN address cannot be reached.
const EmulatorAddress = "10.0.2.2:9000"

// Coordinator owns both transports, the generator, and the detection
// ledger. All ledger mutation happens under its mutex; transports never
// touch shared state directly.
type Coordinator struct {
	mu sync.Mutex

	mode       Mode
	status     Status
	signal     int
	lastErr    string
	lastUpdate time.Time
	ledger     []detection.Detection

	updateInterval time.Duration
	maxDetections  int
	visualization  bool
	targetAddress  string

	simCancel context.CancelFunc
	simDone   chan struct{}

	ble       *ble.Transport
	stream    *stream.Transport
	generator *sim.Generator

	subscriberMu sync.Mutex
	subscribers  map[string]chan []detection.Detection

	rng      *rand.Rand
	emulated func() bool
	done     chan struct{}
}

// NewCoordinator wires the coordinator to its owned transports and
// generator and starts one event pump per transport. The pumps live until
// Close.
func NewCoordinator(settings *config.Settings, bleT *ble.Transport, streamT *stream.Transport, generator *sim.Generator) *Coordinator {
	c := &Coordinator{
		mode:           ModeBLE,
		status:         StatusDisconnected,
		updateInterval: settings.GetUpdateInterval(),
		maxDetections:  settings.GetMaxDetections(),
		visualization:  settings.GetVisualizationEnabled(),
		targetAddress:  settings.GetTargetAddress(),
		ble:            bleT,
		stream:         streamT,
		generator:      generator,
		subscribers:    make(map[string]chan []detection.Detection),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		emulated:       runningEmulated,
		done:           make(chan struct{}),
	}

	go c.pump(bleT.Events(), ModeBLE)
	go c.pump(streamT.Events(), ModeStream)
	return c
}

// pump forwards one transport's events into the coordinator. Events from a
// transport that is no longer the active mode are discarded, so a stale
// source can never mutate the ledger.
func (c *Coordinator) pump(events <-chan transport.Event, source Mode) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(source, ev)
		}
	}
}

func (c *Coordinator) handleEvent(source Mode, ev transport.Event) {
	c.mu.Lock()
	if c.mode != source {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch ev.Kind {
	case transport.EventDetection:
		c.merge(ev.Detection)
	case transport.EventStateChange:
		c.projectState(source, ev)
	case transport.EventError:
		c.mu.Lock()
		c.lastErr = ev.Message
		c.mu.Unlock()
	}
}

// projectState maps the active transport's connection state onto the
// aggregate status, with the fixed synthetic signal strength on entering
// Connected and zero otherwise.
func (c *Coordinator) projectState(source Mode, ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.State {
	case transport.StateScanning:
		c.status = StatusScanning
	case transport.StateConnecting:
		c.status = StatusConnecting
	case transport.StateConnected:
		c.status = StatusConnected
		c.lastErr = ""
		if source == ModeBLE {
			c.signal = bleSignalStrength
		} else {
			c.signal = streamSignalStrength
		}
		return
	case transport.StateError:
		c.status = StatusError
		if ev.Message != "" {
			c.lastErr = ev.Message
		}
	default:
		c.status = StatusDisconnected
	}
	c.signal = 0
}

// merge applies the live-transport merge policy: append, dedup by object id
// keeping the last-appended instance, order by timestamp descending, bound
// to the configured capacity, and stamp the update time.
func (c *Coordinator) merge(d detection.Detection) {
	c.mu.Lock()

	merged := make([]detection.Detection, 0, len(c.ledger)+1)
	merged = append(merged, c.ledger...)
	merged = append(merged, d)

	seen := make(map[string]bool, len(merged))
	deduped := make([]detection.Detection, 0, len(merged))
	for i := len(merged) - 1; i >= 0; i-- {
		if seen[merged[i].ObjectID] {
			continue
		}
		seen[merged[i].ObjectID] = true
		deduped = append(deduped, merged[i])
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Timestamp > deduped[j].Timestamp
	})
	if len(deduped) > c.maxDetections {
		deduped = deduped[:c.maxDetections]
	}

	c.ledger = append([]detection.Detection(nil), deduped...)
	c.lastUpdate = time.Now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// SetMode disconnects the active source, switches modes, and clears any
// stale error message.
func (c *Coordinator) SetMode(m Mode) {
	c.disconnectActive()

	monitoring.Logf("ingest: switching mode to %s", m)

	c.mu.Lock()
	c.mode = m
	c.lastErr = ""
	c.status = StatusDisconnected
	c.signal = 0
	c.mu.Unlock()
}

// Connect dispatches to the active mode. In BLE mode this begins scanning;
// connecting to a specific device is a separate explicit step
// (ConnectDevice). In stream mode it dials the configured address, or the
// loopback-host default inside an emulated environment. In simulation mode
// it starts the poll loop.
func (c *Coordinator) Connect() error {
	c.mu.Lock()
	mode := c.mode
	addr := c.targetAddress
	c.mu.Unlock()

	switch mode {
	case ModeBLE:
		return c.ble.StartScan()
	case ModeStream:
		if c.emulated() {
			addr = EmulatorAddress
		}
		return c.stream.Connect(addr)
	default:
		c.startSimulation()
		return nil
	}
}

// ConnectDevice connects the BLE transport to a discovered device. Only
// meaningful in BLE mode.
func (c *Coordinator) ConnectDevice(address string) error {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != ModeBLE {
		return fmt.Errorf("device connect requires ble mode, active mode is %s", mode)
	}
	return c.ble.Connect(address)
}

// Disconnect tears down the active source. Idempotent from any state.
func (c *Coordinator) Disconnect() {
	c.disconnectActive()

	c.mu.Lock()
	c.status = StatusDisconnected
	c.signal = 0
	c.mu.Unlock()
}

func (c *Coordinator) disconnectActive() {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	switch mode {
	case ModeBLE:
		c.ble.Disconnect()
	case ModeStream:
		c.stream.Disconnect()
	default:
		c.stopSimulation()
	}
}

// SendCommand forwards a command string to the active transport. In
// simulation mode commands are dropped.
func (c *Coordinator) SendCommand(command string) error {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	switch mode {
	case ModeBLE:
		c.ble.SendCommand([]byte(command))
		return nil
	case ModeStream:
		return c.stream.SendCommand(command)
	default:
		return nil
	}
}

// ClearDetections empties the ledger and the simulator's internal list,
// regardless of the active mode.
func (c *Coordinator) ClearDetections() {
	c.generator.Clear()

	c.mu.Lock()
	c.ledger = nil
	c.lastUpdate = time.Now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// ToggleSimulation flips the simulation loop. Toggling on switches to
// simulation mode first; toggling off stops the loop without clearing the
// ledger. It reports whether simulation is now running.
func (c *Coordinator) ToggleSimulation() bool {
	c.mu.Lock()
	running := c.simCancel != nil
	mode := c.mode
	c.mu.Unlock()

	if running {
		c.stopSimulation()
		c.mu.Lock()
		c.status = StatusDisconnected
		c.signal = 0
		c.mu.Unlock()
		return false
	}

	if mode != ModeSimulation {
		c.SetMode(ModeSimulation)
	}
	c.startSimulation()
	return true
}

func (c *Coordinator) startSimulation() {
	c.mu.Lock()
	if c.simCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.simCancel = cancel
	c.simDone = done
	interval := c.updateInterval
	c.status = StatusSimulated
	c.mu.Unlock()

	monitoring.Logf("ingest: simulation loop started, interval %s", interval)
	go c.simLoop(ctx, done, interval)
}

func (c *Coordinator) stopSimulation() {
	c.mu.Lock()
	cancel := c.simCancel
	done := c.simDone
	c.simCancel = nil
	c.simDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// simLoop polls the generator on the configured update interval and
// replaces the ledger wholesale when the returned list differs by value.
// Stopping the loop leaves the ledger intact.
func (c *Coordinator) simLoop(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			list := c.generator.Poll()

			c.mu.Lock()
			if c.simCancel == nil {
				c.mu.Unlock()
				return
			}
			c.signal = 65 + c.rng.Intn(31)
			changed := !detectionsEqual(list, c.ledger)
			var snapshot []detection.Detection
			if changed {
				c.ledger = list
				c.lastUpdate = time.Now()
				snapshot = c.snapshotLocked()
			}
			c.mu.Unlock()

			if changed {
				c.notify(snapshot)
			}
		}
	}
}

// UpdateSettings applies new settings values; nil fields are left
// unchanged. Shrinking the capacity re-bounds the ledger immediately, and a
// changed interval restarts a running simulation loop.
func (c *Coordinator) UpdateSettings(intervalMs *int, maxDetections *int, visualizationEnabled *bool) {
	s := config.Settings{
		UpdateIntervalMs:     intervalMs,
		MaxDetections:        maxDetections,
		VisualizationEnabled: visualizationEnabled,
	}

	c.mu.Lock()
	restartSim := false
	if intervalMs != nil {
		next := s.GetUpdateInterval()
		restartSim = next != c.updateInterval && c.simCancel != nil
		c.updateInterval = next
	}
	if maxDetections != nil {
		c.maxDetections = s.GetMaxDetections()
		if len(c.ledger) > c.maxDetections {
			c.ledger = append([]detection.Detection(nil), c.ledger[:c.maxDetections]...)
		}
	}
	if visualizationEnabled != nil {
		c.visualization = *visualizationEnabled
	}
	c.mu.Unlock()

	if restartSim {
		c.stopSimulation()
		c.startSimulation()
	}
}

// Detections returns a snapshot of the ledger, most recent first.
func (c *Coordinator) Detections() []detection.Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() []detection.Detection {
	out := make([]detection.Detection, len(c.ledger))
	copy(out, c.ledger)
	return out
}

// Devices returns the BLE transport's candidate device list (read-only).
func (c *Coordinator) Devices() []ble.Device {
	return c.ble.Devices()
}

// Mode returns the active mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Status returns the aggregate connection status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SignalStrength returns the synthetic link signal strength.
func (c *Coordinator) SignalStrength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal
}

// LastError returns the visible error message for the active mode, empty
// when none.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdate returns the wall-clock time of the last ledger change.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

// VisualizationEnabled returns the visualization toggle for the UI layer.
func (c *Coordinator) VisualizationEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visualization
}

// Subscribe registers a channel receiving a ledger snapshot on every
// change. The returned id identifies the channel for Unsubscribe.
func (c *Coordinator) Subscribe() (string, chan []detection.Detection) {
	id := randomID()
	ch := make(chan []detection.Detection, 8)
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Coordinator) Unsubscribe(id string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Coordinator) notify(snapshot []detection.Detection) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
			// a slow subscriber misses an update rather than blocking the
			// merge path
		}
	}
}

// Close stops the simulation loop, disconnects both transports, ends the
// event pumps, and closes all subscriber channels.
func (c *Coordinator) Close() {
	c.stopSimulation()
	c.ble.Disconnect()
	c.stream.Disconnect()
	close(c.done)

	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}

func detectionsEqual(a, b []detection.Detection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// randomID generates a random subscriber ID (8 byte random hex value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// runningEmulated reports whether the process appears to be inside a
// virtual machine, in which case the stream transport prefers the
// loopback-host default over the configured LAN address.
func runningEmulated() bool {
	if os.Getenv("PULSE_EMULATOR") != "" {
		return true
	}
	b, err := os.ReadFile("/sys/devices/virtual/dmi/id/product_name")
	if err != nil {
		return false
	}
	product := strings.TrimSpace(string(b))
	for _, name := range []string{"QEMU", "VirtualBox", "KVM"} {
		if strings.Contains(product, name) {
			return true
		}
	}
	return false
}
