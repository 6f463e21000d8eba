// Package sim provides a synthetic detection generator used as a third
// transport for testing and demo runs. It produces randomized detections at
// a bounded rate without touching the network.
package sim

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
)

const (
	// maxSynthetic bounds the generator's internal list; the oldest entry is
	// evicted when a new detection would exceed it.
	maxSynthetic = 30

	// emitInterval is the minimum spacing between synthetic detections.
	emitInterval = 8 * time.Second

	// emitProbability gates emission once the interval has elapsed, so runs
	// of polls past the interval do not emit on every tick.
	emitProbability = 0.4
)

// Generator synthesizes radar detections. It is not a state machine: each
// poll returns the full current list, and past entries are never mutated or
// removed except for oldest-eviction at capacity.
type Generator struct {
	mu         sync.Mutex
	detections []detection.Detection
	lastEmit   time.Time

	rng *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator seeded from the wall clock.
func NewGenerator() *Generator {
	return newGenerator(rand.New(rand.NewSource(time.Now().UnixNano())), time.Now)
}

func newGenerator(rng *rand.Rand, now func() time.Time) *Generator {
	return &Generator{rng: rng, now: now}
}

// Poll advances the generator and returns a snapshot of the current list.
// A new detection is added only when the emit interval has elapsed and the
// probability draw succeeds; exact emission timing is unspecified.
func (g *Generator) Poll() []detection.Detection {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastEmit) > emitInterval && g.rng.Float64() < emitProbability {
		g.append(g.synthesize(now))
		g.lastEmit = now
	}

	out := make([]detection.Detection, len(g.detections))
	copy(out, g.detections)
	return out
}

// Clear empties the list and resets the rate-limit clock.
func (g *Generator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detections = nil
	g.lastEmit = time.Time{}
}

func (g *Generator) append(d detection.Detection) {
	if len(g.detections) >= maxSynthetic {
		g.detections = g.detections[1:]
	}
	g.detections = append(g.detections, d)
}

func (g *Generator) synthesize(now time.Time) detection.Detection {
	snr := 5 + g.rng.Float64()*30 // 5..35 dB

	confidence := (snr - 5) / 30
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return detection.Detection{
		ObjectID:   uuid.NewString(),
		XPosition:  g.rng.Float64()*20 - 10, // ±10m
		YPosition:  g.rng.Float64()*20 - 10,
		Depth:      g.rng.Float64() * 10,
		SNR:        snr,
		Timestamp:  now.UnixMilli(),
		Confidence: confidence,
		ObjectType: detection.ObjectTypeFromCode(g.rng.Intn(int(detection.ObjectTypeUnknown) + 1)),
	}
}
