// Package metrics tracks the cache's counters and origin latency. Latency
// quantiles are estimated with DDSketch so the stats endpoint can report
// accurate percentiles without retaining raw samples.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Action classifies how a cache request was resolved.
type Action uint8

const (
	// ActionHit is a direct durable-store hit.
	ActionHit Action = iota
	// ActionReboundHit is a leader finding a fresh entry on its re-check,
	// avoiding an origin call.
	ActionReboundHit
	// ActionCoalesced is a follower served by another caller's fetch.
	ActionCoalesced
	// ActionMiss is a leader that had to go to the origin.
	ActionMiss
)

// OriginOutcome classifies the result of one origin attempt.
type OriginOutcome uint8

const (
	OriginSuccess OriginOutcome = iota
	OriginNotFound
	OriginTimeout
	OriginInternalError
)

// Metrics aggregates the engine's counters, the origin inflight gauge and
// the origin latency histogram. All methods are safe for concurrent use.
type Metrics struct {
	hits        atomic.Int64
	reboundHits atomic.Int64
	coalesced   atomic.Int64
	misses      atomic.Int64

	originSuccess  atomic.Int64
	originNotFound atomic.Int64
	originTimeout  atomic.Int64
	originError    atomic.Int64

	originInflight atomic.Int64

	latency *Histogram
}

// New creates a Metrics with a 1% relative-accuracy latency sketch.
func New() *Metrics {
	return &Metrics{latency: NewHistogram(0.01)}
}

// RecordAction increments the counter for one request resolution.
func (m *Metrics) RecordAction(a Action) {
	switch a {
	case ActionHit:
		m.hits.Add(1)
	case ActionReboundHit:
		m.reboundHits.Add(1)
	case ActionCoalesced:
		m.coalesced.Add(1)
	case ActionMiss:
		m.misses.Add(1)
	}
}

// RecordOriginOutcome increments the counter for one origin classification.
func (m *Metrics) RecordOriginOutcome(o OriginOutcome) {
	switch o {
	case OriginSuccess:
		m.originSuccess.Add(1)
	case OriginNotFound:
		m.originNotFound.Add(1)
	case OriginTimeout:
		m.originTimeout.Add(1)
	case OriginInternalError:
		m.originError.Add(1)
	}
}

// OriginAttempt marks the start of one origin call: the inflight gauge goes
// up immediately and the returned func, which must be called on every exit
// path, brings it back down and records the attempt's duration.
func (m *Metrics) OriginAttempt() func() {
	m.originInflight.Add(1)
	start := time.Now()
	return func() {
		m.originInflight.Add(-1)
		m.latency.Record(time.Since(start))
	}
}

// OriginLatency exposes the origin latency histogram.
func (m *Metrics) OriginLatency() *Histogram {
	return m.latency
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Hits        int64 `json:"hits"`
	ReboundHits int64 `json:"rebound_hits"`
	Coalesced   int64 `json:"coalesced"`
	Misses      int64 `json:"misses"`

	OriginSuccess       int64 `json:"origin_success"`
	OriginNotFound      int64 `json:"origin_not_found"`
	OriginTimeout       int64 `json:"origin_timeout"`
	OriginInternalError int64 `json:"origin_internal_error"`

	OriginInflight int64 `json:"origin_inflight"`
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:                m.hits.Load(),
		ReboundHits:         m.reboundHits.Load(),
		Coalesced:           m.coalesced.Load(),
		Misses:              m.misses.Load(),
		OriginSuccess:       m.originSuccess.Load(),
		OriginNotFound:      m.originNotFound.Load(),
		OriginTimeout:       m.originTimeout.Load(),
		OriginInternalError: m.originError.Load(),
		OriginInflight:      m.originInflight.Load(),
	}
}

// Histogram tracks duration quantiles using DDSketch.
type Histogram struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
}

// NewHistogram creates a histogram with the given relative accuracy
// (e.g. 0.01 for 1% accurate quantile estimates).
func NewHistogram(relativeAccuracy float64) *Histogram {
	sketch, err := ddsketch.LogUnboundedDenseDDSketch(relativeAccuracy)
	if err != nil {
		sketch, _ = ddsketch.NewDefaultDDSketch(relativeAccuracy)
	}
	return &Histogram{sketch: sketch}
}

// Record adds one duration observation, stored in milliseconds.
func (h *Histogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sketch.Add(float64(d.Microseconds()) / 1000.0)
}

// Quantile returns the value in milliseconds at the given quantile
// (0.5 for median, 0.99 for p99).
func (h *Histogram) Quantile(q float64) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sketch.GetCount() == 0 {
		return 0, fmt.Errorf("no observations recorded")
	}
	return h.sketch.GetValueAtQuantile(q)
}

// Stats summarizes a histogram. All values are milliseconds.
type Stats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// Stats returns summary statistics for the histogram. A histogram with no
// observations yields a zero Stats.
func (h *Histogram) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.sketch.GetCount()
	if count == 0 {
		return Stats{}
	}

	min, _ := h.sketch.GetMinValue()
	p50, _ := h.sketch.GetValueAtQuantile(0.50)
	p90, _ := h.sketch.GetValueAtQuantile(0.90)
	p99, _ := h.sketch.GetValueAtQuantile(0.99)
	max, _ := h.sketch.GetMaxValue()

	return Stats{
		Count: int64(count),
		Min:   min,
		P50:   p50,
		P90:   p90,
		P99:   p99,
		Max:   max,
	}
}

// String renders the stats in a human-readable one-liner.
func (s Stats) String() string {
	if s.Count == 0 {
		return "no data"
	}
	return fmt.Sprintf("n=%d min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}
