package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
)

// rawFrame builds one single-target radar frame for the serial side.
func rawFrame(x, y, speed int, gate uint16) []byte {
	encode := func(v int) uint16 {
		if v == 0 {
			return 0
		}
		if v > 0 {
			return 0x8000 | uint16(v)
		}
		return uint16(-v)
	}

	frame := []byte{0xAA, 0xFF, 0x03, 0x00}
	seg := make([]byte, 8)
	binary.LittleEndian.PutUint16(seg[0:2], encode(x))
	binary.LittleEndian.PutUint16(seg[2:4], encode(y))
	binary.LittleEndian.PutUint16(seg[4:6], encode(speed))
	binary.LittleEndian.PutUint16(seg[6:8], gate)
	frame = append(frame, seg...)
	frame = append(frame, make([]byte, 16)...)
	return append(frame, 0x55, 0xCC)
}

func startBridge(t *testing.T) (*bridge, net.Addr) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	b := newBridge()
	go b.serve(ln)
	return b, ln.Addr()
}

func dialBridge(t *testing.T, addr net.Addr) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn, bufio.NewScanner(conn)
}

func TestClientReceivesGreeting(t *testing.T) {
	_, addr := startBridge(t)
	_, scanner := dialBridge(t, addr)

	if !scanner.Scan() {
		t.Fatalf("no greeting line: %v", scanner.Err())
	}
	msg, err := detection.ParseLine(scanner.Bytes())
	if err != nil {
		t.Fatalf("parse greeting: %v", err)
	}
	if msg.Type != detection.PayloadTypeConnection {
		t.Errorf("greeting type = %q, want connection", msg.Type)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	b, addr := startBridge(t)
	_, scanner := dialBridge(t, addr)

	if !scanner.Scan() {
		t.Fatalf("no greeting: %v", scanner.Err())
	}

	// The client registers asynchronously after the greeting write, so
	// retry until the broadcast lands.
	got := make(chan detection.Message, 1)
	go func() {
		for scanner.Scan() {
			msg, err := detection.ParseLine(scanner.Bytes())
			if err == nil && msg.Type == detection.PayloadTypeDetection {
				got <- msg
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	sample := detection.Detection{
		ObjectID:   "t1",
		XPosition:  1.5,
		Depth:      2.0,
		SNR:        30,
		Timestamp:  time.Now().UnixMilli(),
		Confidence: 0.8,
		ObjectType: detection.ObjectTypeHuman,
	}
	for {
		b.broadcast(sample)
		select {
		case msg := <-got:
			if msg.Detection.ObjectID != "t1" {
				t.Errorf("object id = %q, want t1", msg.Detection.ObjectID)
			}
			if msg.Detection.Depth != 2.0 {
				t.Errorf("depth = %v, want 2.0", msg.Detection.Depth)
			}
			return
		case <-time.After(20 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("broadcast never reached the client")
			}
		}
	}
}

func TestStopAndStartCommands(t *testing.T) {
	b, _ := startBridge(t)

	b.handleCommand("STOP")
	b.mu.Lock()
	paused := b.paused
	b.mu.Unlock()
	if !paused {
		t.Fatal("STOP did not pause emission")
	}

	b.handleCommand("START")
	b.mu.Lock()
	paused = b.paused
	b.mu.Unlock()
	if paused {
		t.Fatal("START did not resume emission")
	}

	// Unknown commands and CLEAR leave the pause state alone.
	b.handleCommand("STOP")
	b.handleCommand("CLEAR")
	b.handleCommand("REBOOT")
	b.mu.Lock()
	paused = b.paused
	b.mu.Unlock()
	if !paused {
		t.Fatal("CLEAR or unknown command changed the pause state")
	}
}

func TestClientCommandEnvelope(t *testing.T) {
	b, addr := startBridge(t)
	conn, scanner := dialBridge(t, addr)

	if !scanner.Scan() {
		t.Fatalf("no greeting: %v", scanner.Err())
	}

	if _, err := conn.Write(detection.EncodeCommand("STOP")); err != nil {
		t.Fatalf("write command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		paused := b.paused
		b.mu.Unlock()
		if paused {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("command envelope was not applied")
}

func TestReadSerialEmitsDetections(t *testing.T) {
	b, addr := startBridge(t)
	_, scanner := dialBridge(t, addr)

	if !scanner.Scan() {
		t.Fatalf("no greeting: %v", scanner.Err())
	}

	serverSide, serialSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); serialSide.Close() })
	go b.readSerial(serverSide)

	// Wait for the client registration, then feed frames until one is
	// bridged through.
	lines := make(chan []byte, 4)
	go func() {
		for scanner.Scan() {
			lines <- append([]byte(nil), scanner.Bytes()...)
		}
	}()

	frame := rawFrame(-1000, 1000, 100, 1400)
	deadline := time.Now().Add(2 * time.Second)
	for {
		serialSide.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		serialSide.Write(frame)

		select {
		case line := <-lines:
			var envelope struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(line, &envelope); err != nil {
				t.Fatalf("decode line: %v", err)
			}
			if envelope.Type != detection.PayloadTypeDetection {
				continue
			}
			msg, err := detection.ParseLine(line)
			if err != nil {
				t.Fatalf("parse line: %v", err)
			}
			// hypot(-1000, 1000) mm is about 1.414 m
			if msg.Detection.Depth < 1.3 || msg.Detection.Depth > 1.5 {
				t.Errorf("depth = %v, want about 1.414", msg.Detection.Depth)
			}
			return
		case <-time.After(50 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no detection bridged from serial input")
			}
		}
	}
}
