package book

import "math"

// VWAP walks the given side best-to-worst accumulating quantity until
// the target band is filled and returns the volume-weighted price. When
// visible liquidity is insufficient the result is NaN and callers must
// treat the instrument as unquotable.
func (b *Book) VWAP(side Side, qty float64) float64 {
	if qty <= 0 || math.IsNaN(qty) {
		return math.NaN()
	}
	var notional, filled float64
	b.Traverse(side, 0, func(e Entry) bool {
		take := math.Min(qty-filled, e.Qty)
		notional += take * e.Px
		filled += take
		return filled < qty
	})
	if filled < qty {
		return math.NaN()
	}
	return notional / qty
}

// QtyAhead returns the resting quantity that would fill before a quote
// placed at px on the given side: all levels strictly better plus the
// level at px itself (time priority puts the joiner last).
func (b *Book) QtyAhead(side Side, px float64) float64 {
	isBid := side == Bid
	var ahead float64
	b.Traverse(side, 0, func(e Entry) bool {
		if better(isBid, px, e.Px) {
			return false
		}
		ahead += e.Qty
		return true
	})
	return ahead
}

// RoundPx rounds px to the instrument price step, away from the best
// price: down for bids, up for asks, so a derived quote can never end up
// crossing through rounding.
func RoundPx(px, step float64, side Side) float64 {
	if step <= 0 || math.IsNaN(px) {
		return px
	}
	steps := px / step
	if side == Bid {
		return math.Floor(steps+1e-9) * step
	}
	return math.Ceil(steps-1e-9) * step
}
