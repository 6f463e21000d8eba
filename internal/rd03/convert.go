package rd03

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
)

// Lateral positions are exaggerated for presentation and clamped to the
// consumer's grid range.
const (
	positionScale = 3.0
	maxPositionM  = 10.0
	mmPerMeter    = 1000.0
	cmPerMeterSec = 100.0
)

// Classification thresholds. Returns below half a meter or beyond eight
// meters are reflections, as are implausibly fast tracks; near-stationary
// returns read as inanimate objects.
const (
	minCredibleRangeM = 0.5
	maxCredibleRangeM = 8.0
	maxCredibleSpeed  = 4.0  // m/s
	stationarySpeed   = 0.05 // m/s
)

// Classify maps a raw target onto an object type with a classification
// confidence. Ghost returns keep the unknown type.
func Classify(t Target) (detection.ObjectType, float64) {
	speed := math.Abs(float64(t.SpeedCmS)) / cmPerMeterSec
	rangeM := float64(t.RangeMM) / mmPerMeter

	switch {
	case rangeM < minCredibleRangeM || rangeM > maxCredibleRangeM:
		return detection.ObjectTypeUnknown, 0.2
	case speed > maxCredibleSpeed:
		return detection.ObjectTypeUnknown, 0.3
	case speed < stationarySpeed:
		return detection.ObjectTypeMetallic, 0.8
	default:
		return detection.ObjectTypeHuman, 0.85
	}
}

// ToDetection converts a raw target into a detection record. Lateral
// positions are scaled and clamped, depth is the true radial distance, SNR
// is approximated from range (40 - 5*depth, clamped to 5..35 dB) and
// confidence derives from SNR.
func ToDetection(t Target) detection.Detection {
	xm := float64(t.XMM) / mmPerMeter
	ym := float64(t.YMM) / mmPerMeter
	depth := float64(t.RangeMM) / mmPerMeter

	snr := 40.0 - depth*5.0
	if snr < 5.0 {
		snr = 5.0
	} else if snr > 35.0 {
		snr = 35.0
	}
	confidence := (snr - 5.0) / 30.0

	objectType, _ := Classify(t)

	return detection.Detection{
		ObjectID:   uuid.NewString(),
		XPosition:  clampPosition(xm * positionScale),
		YPosition:  clampPosition(ym * positionScale),
		Depth:      depth,
		SNR:        snr,
		Timestamp:  time.Now().UnixMilli(),
		Confidence: confidence,
		ObjectType: objectType,
	}
}

// Closest returns the target with the smallest radial distance, matching
// the sensor deployment's single-target reporting. ok is false for an
// empty slice.
func Closest(targets []Target) (Target, bool) {
	if len(targets) == 0 {
		return Target{}, false
	}
	sorted := append([]Target(nil), targets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RangeMM < sorted[j].RangeMM
	})
	return sorted[0], true
}

func clampPosition(v float64) float64 {
	if v > maxPositionM {
		return maxPositionM
	}
	if v < -maxPositionM {
		return -maxPositionM
	}
	return v
}
