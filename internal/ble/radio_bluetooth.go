package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

var (
	serviceUUID     = mustUUID(ServiceUUID)
	dataCharUUID    = mustUUID(DataCharacteristic)
	commandCharUUID = mustUUID(CommandCharacteristic)
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// adapterRadio is the Radio backed by the platform BLE stack via
// tinygo.org/x/bluetooth. Addresses are remembered from scan results, so
// Connect only accepts devices discovered in this process.
type adapterRadio struct {
	adapter *bluetooth.Adapter

	mu           sync.Mutex
	seen         map[string]bluetooth.Address
	onDisconnect func(address string)
}

// NewRadio returns a Radio using the default platform adapter.
func NewRadio() Radio {
	return &adapterRadio{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (r *adapterRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *adapterRadio) Scan(found func(DeviceInfo)) error {
	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		r.mu.Lock()
		r.seen[addr] = result.Address
		r.mu.Unlock()
		found(DeviceInfo{
			Address: addr,
			Name:    result.LocalName(),
			RSSI:    result.RSSI,
		})
	})
}

func (r *adapterRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *adapterRadio) Connect(address string) (Peer, error) {
	r.mu.Lock()
	addr, ok := r.seen[address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %s not discovered", address)
	}

	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &adapterPeer{device: dev, address: address}, nil
}

func (r *adapterRadio) SetDisconnectHandler(f func(address string)) {
	r.mu.Lock()
	r.onDisconnect = f
	r.mu.Unlock()

	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		r.mu.Lock()
		handler := r.onDisconnect
		r.mu.Unlock()
		if handler != nil {
			handler(device.Address.String())
		}
	})
}

type adapterPeer struct {
	device  bluetooth.Device
	address string

	cmdChar bluetooth.DeviceCharacteristic
	hasCmd  bool
}

func (p *adapterPeer) Address() string {
	return p.address
}

func (p *adapterPeer) Subscribe(notify func(buf []byte)) error {
	svcs, err := p.device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(svcs) == 0 {
		return fmt.Errorf("service not found")
	}

	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return fmt.Errorf("characteristic discovery: %w", err)
	}

	var dataChar bluetooth.DeviceCharacteristic
	var hasData bool
	for _, c := range chars {
		switch c.UUID() {
		case dataCharUUID:
			dataChar = c
			hasData = true
		case commandCharUUID:
			p.cmdChar = c
			p.hasCmd = true
		}
	}
	if !hasData {
		return fmt.Errorf("data characteristic not found")
	}

	return dataChar.EnableNotifications(notify)
}

func (p *adapterPeer) WriteCommand(b []byte) error {
	if !p.hasCmd {
		return fmt.Errorf("command characteristic unavailable")
	}
	_, err := p.cmdChar.WriteWithoutResponse(b)
	return err
}

func (p *adapterPeer) Disconnect() error {
	return p.device.Disconnect()
}
