// Package detection defines the detection record produced by the radar
// sensor along with the codecs for the two wire formats it arrives in: the
// 20-byte binary notification frame and the newline-delimited JSON stream
// payload.
package detection

import (
	"time"

	"github.com/google/uuid"
)

// ObjectType classifies a sensed target.
type ObjectType int

const (
	ObjectTypeHuman ObjectType = iota
	ObjectTypeVehicle
	ObjectTypeMetallic
	ObjectTypeOrganic
	ObjectTypeUnknown
)

// ObjectTypeFromCode maps a wire code to an ObjectType. Out-of-range codes
// map to ObjectTypeUnknown; there is no error path.
func ObjectTypeFromCode(code int) ObjectType {
	if code < 0 || code >= int(ObjectTypeUnknown) {
		return ObjectTypeUnknown
	}
	return ObjectType(code)
}

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeHuman:
		return "human"
	case ObjectTypeVehicle:
		return "vehicle"
	case ObjectTypeMetallic:
		return "metallic"
	case ObjectTypeOrganic:
		return "organic"
	default:
		return "unknown"
	}
}

// Detection is one sensed target at one moment. Values are immutable once
// constructed; the coordinator replaces rather than mutates entries.
type Detection struct {
	ObjectID   string     `json:"object_id"`
	XPosition  float64    `json:"x_position"`
	YPosition  float64    `json:"y_position"`
	Depth      float64    `json:"depth"`
	SNR        float64    `json:"snr"`
	Timestamp  int64      `json:"timestamp"` // epoch milliseconds, stamped at decode
	Confidence float64    `json:"confidence"`
	ObjectType ObjectType `json:"object_type"`
}

// Time returns the capture instant as a time.Time.
func (d Detection) Time() time.Time {
	return time.UnixMilli(d.Timestamp)
}

// newObjectID generates a fresh detection identifier. Two decodes of the
// same physical packet get distinct ids; dedup operates on id equality as
// assigned, not content equality.
func newObjectID() string {
	return uuid.NewString()
}

// clamp01 constrains confidence values to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sanitize enforces the construction invariants: non-negative depth and
// confidence within [0,1].
func (d Detection) sanitize() Detection {
	if d.Depth < 0 {
		d.Depth = 0
	}
	d.Confidence = clamp01(d.Confidence)
	return d
}
