package detection

import (
	"encoding/binary"
	"math"
	"time"
)

// FrameLen is the fixed size of a binary notification frame. The layout is
// wire-compatible with the sensor-side producer and must not change without
// bumping the data characteristic endpoint:
//
//	[0:4)   xPosition  float32 LE
//	[4:8)   yPosition  float32 LE
//	[8:12)  depth      float32 LE
//	[12:16) snr        float32 LE
//	[16:18) timestamp offset, uint16 LE (informational only)
//	[18]    object type code
//	[19]    confidence byte (value/255)
const FrameLen = 20

// DecodeFrame decodes one binary notification frame into a Detection. The
// only failure mode is a short buffer; any 20 bytes decode to valid floats.
// The detection is stamped with the wall-clock receipt time and a freshly
// generated object id (this format carries no stable id).
func DecodeFrame(buf []byte) (Detection, error) {
	if len(buf) < FrameLen {
		return Detection{}, ErrIncompleteFrame
	}

	d := Detection{
		ObjectID:   newObjectID(),
		XPosition:  float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))),
		YPosition:  float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))),
		Depth:      float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))),
		SNR:        float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16]))),
		Timestamp:  time.Now().UnixMilli(),
		ObjectType: ObjectTypeFromCode(int(buf[18])),
		Confidence: float64(buf[19]) / 255.0,
	}
	return d.sanitize(), nil
}

// FrameTimestampOffset extracts the informational 16-bit timestamp offset
// from a frame. The coordinator does not trust it for ordering; it is only
// useful for display deltas.
func FrameTimestampOffset(buf []byte) uint16 {
	if len(buf) < FrameLen {
		return 0
	}
	return binary.LittleEndian.Uint16(buf[16:18])
}

// EncodeFrame packs a Detection into the binary frame layout. This is the
// producer-side counterpart of DecodeFrame, used by the sensor bridge and by
// round-trip tests. Confidence is quantized to a byte; the f32 fields
// round-trip bit-identically.
func EncodeFrame(d Detection, tsOffset uint16) []byte {
	buf := make([]byte, FrameLen)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(float32(d.XPosition)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(d.YPosition)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(d.Depth)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(d.SNR)))
	binary.LittleEndian.PutUint16(buf[16:18], tsOffset)
	buf[18] = byte(d.ObjectType)
	buf[19] = byte(math.Round(clamp01(d.Confidence) * 255.0))
	return buf
}
