package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.RecordAction(ActionHit)
	m.RecordAction(ActionHit)
	m.RecordAction(ActionReboundHit)
	m.RecordAction(ActionCoalesced)
	m.RecordAction(ActionMiss)

	m.RecordOriginOutcome(OriginSuccess)
	m.RecordOriginOutcome(OriginNotFound)
	m.RecordOriginOutcome(OriginTimeout)
	m.RecordOriginOutcome(OriginInternalError)
	m.RecordOriginOutcome(OriginInternalError)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Hits)
	assert.Equal(t, int64(1), snap.ReboundHits)
	assert.Equal(t, int64(1), snap.Coalesced)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(1), snap.OriginSuccess)
	assert.Equal(t, int64(1), snap.OriginNotFound)
	assert.Equal(t, int64(1), snap.OriginTimeout)
	assert.Equal(t, int64(2), snap.OriginInternalError)
	assert.Zero(t, snap.OriginInflight)
}

func TestOriginAttemptGaugeAndLatency(t *testing.T) {
	m := New()

	done := m.OriginAttempt()
	assert.Equal(t, int64(1), m.Snapshot().OriginInflight)

	time.Sleep(5 * time.Millisecond)
	done()

	assert.Zero(t, m.Snapshot().OriginInflight)
	stats := m.OriginLatency().Stats()
	require.Equal(t, int64(1), stats.Count)
	assert.GreaterOrEqual(t, stats.Max, 4.0, "duration should be recorded in milliseconds")
}

func TestHistogramStats(t *testing.T) {
	h := NewHistogram(0.01)
	for _, d := range []time.Duration{
		1 * time.Millisecond,
		5 * time.Millisecond,
		10 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
	} {
		h.Record(d)
	}

	stats := h.Stats()
	assert.Equal(t, int64(5), stats.Count)
	assert.InDelta(t, 1.0, stats.Min, 0.1)
	assert.InDelta(t, 100.0, stats.Max, 1.0)
	assert.InDelta(t, 10.0, stats.P50, 5.0)

	p99, err := h.Quantile(0.99)
	require.NoError(t, err)
	assert.Greater(t, p99, 40.0)
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram(0.01)

	assert.Equal(t, Stats{}, h.Stats())
	assert.Equal(t, "no data", h.Stats().String())

	_, err := h.Quantile(0.5)
	assert.Error(t, err)
}

func TestStatsString(t *testing.T) {
	s := Stats{Count: 100, Min: 1.5, P50: 10.2, P90: 50.7, P99: 99.1, Max: 120.5}
	assert.Equal(t,
		"n=100 min=1.50ms p50=10.20ms p90=50.70ms p99=99.10ms max=120.50ms",
		s.String())
}
