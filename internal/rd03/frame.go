// Package rd03 parses the native serial protocol of the RD-03D radar
// module: 30-byte frames carrying up to three tracked targets, emitted
// continuously at 256000 baud. The package converts raw targets into
// detection records for the stream producer.
package rd03

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Frame framing constants. A frame is header + 3 target slots of 8 bytes +
// tail.
var (
	frameHeader = []byte{0xAA, 0xFF, 0x03, 0x00}
	frameTail   = []byte{0x55, 0xCC}
)

const (
	// FrameLen is the fixed length of one radar frame on the wire.
	FrameLen = 30

	targetsPerFrame = 3
	targetSlotLen   = 8
)

// Target is one raw tracked target from a frame. Positions are millimeters
// in the sensor's coordinate system, speed is cm/s, positive away from the
// sensor.
type Target struct {
	Slot     int // 1-based slot index within the frame
	XMM      int
	YMM      int
	SpeedCmS int
	GateMM   int // distance gate reported by the sensor
	RangeMM  int // radial distance derived from x/y
}

// decodeSignMagnitude decodes the RD-03D's sign-magnitude 16-bit fields:
// bit 15 set means positive, clear means negative.
func decodeSignMagnitude(u uint16) int {
	if u == 0 {
		return 0
	}
	mag := int(u & 0x7FFF)
	if u&0x8000 != 0 {
		return mag
	}
	return -mag
}

// ParseFrame decodes the target slots of one complete frame. All-zero slots
// are empty and skipped; a frame with no occupied slots returns an empty
// slice. The caller is expected to hand in a frame already validated by the
// Assembler; length and tail are still checked.
func ParseFrame(frame []byte) ([]Target, error) {
	if len(frame) != FrameLen {
		return nil, fmt.Errorf("frame length %d, want %d", len(frame), FrameLen)
	}
	if !bytes.Equal(frame[:len(frameHeader)], frameHeader) {
		return nil, fmt.Errorf("bad frame header % X", frame[:len(frameHeader)])
	}
	if !bytes.Equal(frame[FrameLen-len(frameTail):], frameTail) {
		return nil, fmt.Errorf("bad frame tail % X", frame[FrameLen-len(frameTail):])
	}

	var targets []Target
	offset := len(frameHeader)
	for slot := 0; slot < targetsPerFrame; slot++ {
		segment := frame[offset : offset+targetSlotLen]
		offset += targetSlotLen

		if isZero(segment) {
			continue
		}

		x := decodeSignMagnitude(binary.LittleEndian.Uint16(segment[0:2]))
		y := decodeSignMagnitude(binary.LittleEndian.Uint16(segment[2:4]))
		speed := decodeSignMagnitude(binary.LittleEndian.Uint16(segment[4:6]))
		gate := int(binary.LittleEndian.Uint16(segment[6:8]))

		targets = append(targets, Target{
			Slot:     slot + 1,
			XMM:      x,
			YMM:      y,
			SpeedCmS: speed,
			GateMM:   gate,
			RangeMM:  int(math.Hypot(float64(x), float64(y))),
		})
	}
	return targets, nil
}

func isZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// Assembler recovers frame boundaries from an unsynchronized byte stream.
// Feed it raw serial chunks; it retains partial data between calls and
// resynchronizes on the header after corruption.
type Assembler struct {
	buf []byte
}

// Feed appends a chunk and returns every complete, tail-valid frame now
// available. Frames failing the tail check are discarded silently; the
// scan resumes at the next header.
func (a *Assembler) Feed(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)

	var frames [][]byte
	for {
		idx := bytes.Index(a.buf, frameHeader)
		if idx < 0 {
			// Keep a header-sized suffix so a header split across chunks
			// still assembles.
			if len(a.buf) > len(frameHeader)-1 {
				a.buf = append(a.buf[:0], a.buf[len(a.buf)-(len(frameHeader)-1):]...)
			}
			return frames
		}
		if len(a.buf)-idx < FrameLen {
			a.buf = append(a.buf[:0], a.buf[idx:]...)
			return frames
		}

		frame := make([]byte, FrameLen)
		copy(frame, a.buf[idx:idx+FrameLen])
		a.buf = append(a.buf[:0], a.buf[idx+FrameLen:]...)

		if !bytes.Equal(frame[FrameLen-len(frameTail):], frameTail) {
			continue
		}
		frames = append(frames, frame)
	}
}
