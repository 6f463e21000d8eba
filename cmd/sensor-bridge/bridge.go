package main

import (
	"bufio"
	"io"
	"log"
	"net"
	"sync"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
	"github.com/Tpanda03/Pulse-RadarProject/internal/ingest"
	"github.com/Tpanda03/Pulse-RadarProject/internal/rd03"
)

const serialChunkSize = 64

// bridge fans detections from one serial reader out to every connected TCP
// client. Clients may send command envelopes: START resumes emission, STOP
// pauses it, CLEAR is acknowledged and dropped (the sensor keeps no state
// to clear).
type bridge struct {
	mu     sync.Mutex
	conns  map[net.Conn]bool
	paused bool
}

func newBridge() *bridge {
	return &bridge{conns: make(map[net.Conn]bool)}
}

// readSerial consumes raw serial chunks until the reader fails, converting
// each frame's closest target into one detection line. Callers own closing
// the reader.
func (b *bridge) readSerial(r io.Reader) error {
	var assembler rd03.Assembler
	chunk := make([]byte, serialChunkSize)

	for {
		n, err := r.Read(chunk)
		if err != nil {
			return err
		}
		for _, frame := range assembler.Feed(chunk[:n]) {
			targets, err := rd03.ParseFrame(frame)
			if err != nil {
				log.Printf("bridge: dropping frame: %v", err)
				continue
			}
			target, ok := rd03.Closest(targets)
			if !ok {
				continue
			}
			b.broadcast(rd03.ToDetection(target))
		}
	}
}

func (b *bridge) broadcast(d detection.Detection) {
	line := detection.EncodeDetection(d)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	for conn := range b.conns {
		if _, err := conn.Write(line); err != nil {
			conn.Close()
			delete(b.conns, conn)
		}
	}
}

func (b *bridge) setPaused(paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = paused
}

// serve accepts TCP clients until the listener closes.
func (b *bridge) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go b.handleClient(conn)
	}
}

// handleClient greets the client, registers it for broadcasts, and consumes
// its command lines until it disconnects.
func (b *bridge) handleClient(conn net.Conn) {
	if _, err := conn.Write(detection.EncodeConnection("connected to pulse sensor bridge")); err != nil {
		conn.Close()
		return
	}

	b.mu.Lock()
	b.conns[conn] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := detection.ParseLine(line)
		if err != nil {
			log.Printf("bridge: ignoring bad line from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if msg.Type != detection.PayloadTypeCommand {
			continue
		}
		b.handleCommand(msg.Command)
	}
}

func (b *bridge) handleCommand(command string) {
	switch command {
	case ingest.CommandStart:
		b.setPaused(false)
	case ingest.CommandStop:
		b.setPaused(true)
	case ingest.CommandClear:
		// acknowledged; nothing to reset on the sensor side
	default:
		log.Printf("bridge: ignoring unknown command %q", command)
	}
}
