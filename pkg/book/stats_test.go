package book

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsRangeVol(t *testing.T) {
	s := NewStats(4)
	assert.True(t, math.IsNaN(s.RangeVol(Bid)), "No samples yet")

	for _, px := range []float64{100.00, 100.05, 99.98, 100.02} {
		s.OnBestPx(Bid, px)
	}
	assert.InDelta(t, 0.07, s.RangeVol(Bid), 1e-9)

	// window rolls: 100.00 is overwritten
	s.OnBestPx(Bid, 100.04)
	assert.InDelta(t, 0.07, s.RangeVol(Bid), 1e-9)
}

func TestStatsTrendPressure(t *testing.T) {
	s := NewStats(8)
	assert.Zero(t, s.TrendPressure())

	s.OnBestPx(Bid, 100.00)
	assert.Zero(t, s.TrendPressure(), "First sample sets the baseline only")

	s.OnBestPx(Bid, 100.01)
	s.OnBestPx(Bid, 100.02)
	assert.Equal(t, 2, s.TrendPressure())

	s.OnBestPx(Bid, 100.01)
	assert.Equal(t, 1, s.TrendPressure())

	// the counter saturates instead of growing without bound
	for i := 0; i < 100; i++ {
		s.OnBestPx(Bid, 100.02+float64(i)*0.01)
	}
	assert.Equal(t, maxTrendPressure, s.TrendPressure())
}

func TestStatsReset(t *testing.T) {
	s := NewStats(4)
	s.OnBestPx(Bid, 100.00)
	s.OnBestPx(Bid, 100.10)
	s.Reset()
	assert.True(t, math.IsNaN(s.RangeVol(Bid)))
	assert.Zero(t, s.TrendPressure())
}
