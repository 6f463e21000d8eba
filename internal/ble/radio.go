// Package ble implements the notification-channel transport: a discovery/
// connect/notify state machine over a BLE radio. The radar advertises a
// single service with a data-notification characteristic carrying 20-byte
// binary frames and a command-write characteristic.
package ble

import "time"

// Endpoint identifiers for the radar's GATT service. These must match the
// sensor-side producer; they carry no meaning beyond that.
const (
	ServiceUUID           = "00001101-0000-1000-8000-00805f9b34fb"
	DataCharacteristic    = "00002a01-0000-1000-8000-00805f9b34fb"
	CommandCharacteristic = "00002a02-0000-1000-8000-00805f9b34fb"
)

// productNames are the advertised-name substrings that identify a radar
// unit during scanning. Matching is case-insensitive.
var productNames = []string{"PULSE", "RD-03"}

// ScanTimeout is the watchdog on a scan; an unanswered scan returns the
// transport to the disconnected state.
const ScanTimeout = 10 * time.Second

// DeviceInfo describes an advertising peripheral seen during a scan.
type DeviceInfo struct {
	Address string
	Name    string
	RSSI    int16
}

// Radio abstracts the BLE adapter so the transport state machine can be
// exercised without radio hardware.
type Radio interface {
	// Enable powers on the adapter. Failure means the radio is off or
	// unavailable.
	Enable() error
	// Scan blocks, invoking found for each advertisement, until StopScan is
	// called or the scan fails.
	Scan(found func(DeviceInfo)) error
	// StopScan cancels an in-progress Scan.
	StopScan() error
	// Connect establishes a connection to a previously discovered device.
	Connect(address string) (Peer, error)
	// SetDisconnectHandler registers a callback for unsolicited lower-layer
	// disconnects.
	SetDisconnectHandler(f func(address string))
}

// Peer is a connected radar peripheral.
type Peer interface {
	Address() string
	// Subscribe discovers the radar service and enables notifications on
	// the data characteristic. It fails if the expected service or
	// characteristic is absent.
	Subscribe(notify func(buf []byte)) error
	// WriteCommand writes to the command characteristic.
	WriteCommand(p []byte) error
	Disconnect() error
}
