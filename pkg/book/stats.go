package book

import "math"

// DefaultStatsWindow is the sample window for the range volatility
// estimators.
const DefaultStatsWindow = 64

// maxTrendPressure bounds the trend-pressure counter
const maxTrendPressure = 16

// Stats holds optional per-book estimators: a best-bid/best-ask
// range-based volatility proxy over a bounded sample window, and a
// bounded trend-pressure counter incremented on upticks and decremented
// on downticks of the best bid.
type Stats struct {
	window int

	samples [2][]float64 // ring per side, indexed by Side
	pos     [2]int

	lastBid  float64
	pressure int
}

// NewStats creates estimators over the given sample window
func NewStats(window int) Stats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	s := Stats{window: window, lastBid: math.NaN()}
	s.samples[Bid] = make([]float64, 0, window)
	s.samples[Ask] = make([]float64, 0, window)
	return s
}

// OnBestPx records a new best price sample for one side. The book only
// calls this once any bid/ask crossing has been resolved.
func (s *Stats) OnBestPx(side Side, px float64) {
	if math.IsNaN(px) {
		return
	}
	ring := s.samples[side]
	if len(ring) < s.window {
		s.samples[side] = append(ring, px)
	} else {
		ring[s.pos[side]] = px
		s.pos[side] = (s.pos[side] + 1) % s.window
	}

	if side == Bid {
		switch {
		case math.IsNaN(s.lastBid):
		case px > s.lastBid && s.pressure < maxTrendPressure:
			s.pressure++
		case px < s.lastBid && s.pressure > -maxTrendPressure:
			s.pressure--
		}
		s.lastBid = px
	}
}

// RangeVol returns the high-low range of best prices on one side over
// the window, NaN before any sample arrived.
func (s *Stats) RangeVol(side Side) float64 {
	ring := s.samples[side]
	if len(ring) == 0 {
		return math.NaN()
	}
	lo, hi := ring[0], ring[0]
	for _, px := range ring[1:] {
		if px < lo {
			lo = px
		}
		if px > hi {
			hi = px
		}
	}
	return hi - lo
}

// TrendPressure returns the bounded uptick-minus-downtick counter
func (s *Stats) TrendPressure() int { return s.pressure }

// Reset drops all samples, used when the owning book is invalidated
func (s *Stats) Reset() {
	s.samples[Bid] = s.samples[Bid][:0]
	s.samples[Ask] = s.samples[Ask][:0]
	s.pos = [2]int{}
	s.lastBid = math.NaN()
	s.pressure = 0
}
