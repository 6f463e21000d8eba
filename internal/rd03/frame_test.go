package rd03

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
)

// encodeSignMagnitude is the inverse of the wire decoding: bit 15 set for
// positive values.
func encodeSignMagnitude(v int) uint16 {
	if v == 0 {
		return 0
	}
	if v > 0 {
		return 0x8000 | uint16(v)
	}
	return uint16(-v)
}

func slot(x, y, speed int, gate uint16) []byte {
	seg := make([]byte, 8)
	binary.LittleEndian.PutUint16(seg[0:2], encodeSignMagnitude(x))
	binary.LittleEndian.PutUint16(seg[2:4], encodeSignMagnitude(y))
	binary.LittleEndian.PutUint16(seg[4:6], encodeSignMagnitude(speed))
	binary.LittleEndian.PutUint16(seg[6:8], gate)
	return seg
}

func buildFrame(slots ...[]byte) []byte {
	frame := append([]byte(nil), frameHeader...)
	for i := 0; i < targetsPerFrame; i++ {
		if i < len(slots) && slots[i] != nil {
			frame = append(frame, slots[i]...)
		} else {
			frame = append(frame, make([]byte, targetSlotLen)...)
		}
	}
	return append(frame, frameTail...)
}

func TestParseFrameSingleTarget(t *testing.T) {
	frame := buildFrame(slot(-300, 400, 50, 500))

	targets, err := ParseFrame(frame)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	got := targets[0]
	assert.Equal(t, 1, got.Slot)
	assert.Equal(t, -300, got.XMM)
	assert.Equal(t, 400, got.YMM)
	assert.Equal(t, 50, got.SpeedCmS)
	assert.Equal(t, 500, got.GateMM)
	assert.Equal(t, 500, got.RangeMM) // hypot(-300, 400)
}

func TestParseFrameSkipsEmptySlots(t *testing.T) {
	frame := buildFrame(nil, slot(1000, 1000, -20, 1400))

	targets, err := ParseFrame(frame)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, 2, targets[0].Slot)
	assert.Equal(t, -20, targets[0].SpeedCmS)
}

func TestParseFrameAllEmpty(t *testing.T) {
	targets, err := ParseFrame(buildFrame())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestParseFrameRejectsBadFraming(t *testing.T) {
	good := buildFrame(slot(100, 100, 0, 150))

	short := good[:FrameLen-1]
	_, err := ParseFrame(short)
	assert.Error(t, err)

	badHeader := append([]byte(nil), good...)
	badHeader[0] = 0xAB
	_, err = ParseFrame(badHeader)
	assert.Error(t, err)

	badTail := append([]byte(nil), good...)
	badTail[FrameLen-1] = 0x00
	_, err = ParseFrame(badTail)
	assert.Error(t, err)
}

func TestDecodeSignMagnitude(t *testing.T) {
	tests := []struct {
		in   uint16
		want int
	}{
		{0x0000, 0},
		{0x8001, 1},
		{0x0001, -1},
		{0xFFFF, 32767},
		{0x7FFF, -32767},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, decodeSignMagnitude(tc.in), "input %#04x", tc.in)
	}
}

func TestAssemblerSplitChunks(t *testing.T) {
	frame := buildFrame(slot(200, 0, 0, 200))

	var a Assembler
	assert.Empty(t, a.Feed(frame[:7]))
	assert.Empty(t, a.Feed(frame[7:20]))

	frames := a.Feed(frame[20:])
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestAssemblerResyncsAfterGarbage(t *testing.T) {
	frame := buildFrame(slot(0, 2000, 10, 2000))

	var a Assembler
	input := append([]byte{0x01, 0x02, 0xAA, 0x03}, frame...)
	input = append(input, frame...)

	frames := a.Feed(input)
	require.Len(t, frames, 2)
	assert.Equal(t, frame, frames[0])
	assert.Equal(t, frame, frames[1])
}

func TestAssemblerDropsBadTail(t *testing.T) {
	good := buildFrame(slot(100, 100, 0, 150))
	bad := append([]byte(nil), good...)
	bad[FrameLen-1] = 0x00

	var a Assembler
	frames := a.Feed(append(append([]byte(nil), bad...), good...))
	require.Len(t, frames, 1)
	assert.Equal(t, good, frames[0])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   detection.ObjectType
	}{
		{"too close", Target{RangeMM: 300}, detection.ObjectTypeUnknown},
		{"too far", Target{RangeMM: 9000}, detection.ObjectTypeUnknown},
		{"too fast", Target{RangeMM: 2000, SpeedCmS: 450}, detection.ObjectTypeUnknown},
		{"stationary", Target{RangeMM: 2000, SpeedCmS: 2}, detection.ObjectTypeMetallic},
		{"walking", Target{RangeMM: 2000, SpeedCmS: 120}, detection.ObjectTypeHuman},
		{"walking away", Target{RangeMM: 2000, SpeedCmS: -120}, detection.ObjectTypeHuman},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Classify(tc.target)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToDetection(t *testing.T) {
	d := ToDetection(Target{XMM: -1000, YMM: 0, SpeedCmS: 100, RangeMM: 1000})

	assert.Equal(t, -3.0, d.XPosition) // scaled by 3
	assert.Equal(t, 0.0, d.YPosition)
	assert.Equal(t, 1.0, d.Depth)
	assert.Equal(t, 35.0, d.SNR) // 40 - 5*1, at the clamp ceiling
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, detection.ObjectTypeHuman, d.ObjectType)
	assert.NotEmpty(t, d.ObjectID)
	assert.NotZero(t, d.Timestamp)
}

func TestToDetectionClampsPosition(t *testing.T) {
	d := ToDetection(Target{XMM: 5000, YMM: -5000, RangeMM: 7071})

	assert.Equal(t, maxPositionM, d.XPosition)
	assert.Equal(t, -maxPositionM, d.YPosition)
}

func TestClosest(t *testing.T) {
	_, ok := Closest(nil)
	assert.False(t, ok)

	got, ok := Closest([]Target{
		{Slot: 1, RangeMM: 3000},
		{Slot: 2, RangeMM: 1200},
		{Slot: 3, RangeMM: 5000},
	})
	require.True(t, ok)
	assert.Equal(t, 2, got.Slot)
}
