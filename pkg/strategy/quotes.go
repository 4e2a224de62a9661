package strategy

import (
	"context"
	"math"
	"time"

	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/oms"
	"github.com/erain9/pairflow/pkg/otel"
)

// quoteDecision is the per-side outcome of one quoting cycle
type quoteDecision struct {
	px      float64 // NaN = no quote on this side
	qty     float64
	aggrPx  float64 // expected aggressive-leg cover VWAP
	aggrQty float64

	// coverFailed marks a cover band the aggressive book cannot fill.
	// Unlike a size or dead-zone withdrawal this poisons the whole
	// cycle: the spread estimate behind the other side is no longer
	// trustworthy either.
	coverFailed bool
}

// DoQuotes runs one quoting cycle: refresh the spread estimate, derive
// target prices and sizes for both sides from the aggressive-leg depth,
// adjust against the passive book, and reconcile the resting quotes
// with the targets in one buffered batch.
func (p *Pair) DoQuotes(now time.Time) {
	started := time.Now()
	defer func() {
		otel.GetStrategyMetrics().RecordQuoteCycle(context.Background(), p.id, time.Since(started).Seconds())
	}()

	if !p.Enabled(now) {
		p.withdrawAll("trading window closed")
		return
	}
	if !p.pass.Book.IsReady() || !p.aggr.Book.IsReady() {
		p.withdrawAll("book not ready")
		return
	}

	passMid := p.pass.Book.MidPx()
	aggrMid := p.aggr.Book.MidPx()
	if !finite(passMid) || !finite(aggrMid) {
		p.withdrawAll("one-sided book")
		return
	}

	// spread estimate over passive mid vs scaled aggressive mid
	sprd := passMid - aggrMid*p.cfg.AggrQtyFact
	if p.sprdTicks == 0 {
		p.ema = sprd
	} else {
		p.ema += p.cfg.EMACoeff * (sprd - p.ema)
	}
	p.sprdTicks++
	if p.sprdTicks <= p.nSprdPeriods {
		// seed still dominates the estimate
		return
	}

	bid := p.decideSide(book.Bid)
	ask := p.decideSide(book.Ask)
	if bid.coverFailed || ask.coverFailed {
		p.withdrawAll("cover band unpriceable")
		return
	}
	p.avoidSelfCross(&bid, &ask)

	flush := false
	flush = p.reconcileSide(book.Bid, bid, now) || flush
	flush = p.reconcileSide(book.Ask, ask, now) || flush
	if flush {
		p.pass.OMC.FlushOrders()
	}
}

// decideSide computes the target quote for one side of the passive book
func (p *Pair) decideSide(side book.Side) quoteDecision {
	none := quoteDecision{px: math.NaN()}

	qty := p.desiredQty(side)
	if qty < p.pass.LotSize/2 {
		return none
	}

	// quantity the cover order would need on the aggressive leg,
	// padded by the reserve so partial books do not overstate depth
	aggrQty := qty * p.cfg.AggrQtyFact * p.cfg.AggrQtyReserve
	aggrPx := p.coverVWAP(side, aggrQty)
	if !finite(aggrPx) {
		none.coverFailed = true
		return none
	}

	px := aggrPx*p.cfg.AggrQtyFact + p.ema
	skew := p.cfg.PosSkewCoeff * p.passPos
	if side == book.Bid {
		px -= p.cfg.MarkUp + skew
	} else {
		px += p.cfg.MarkUp - skew
	}
	px = book.RoundPx(px, p.pass.PxStep, side)

	px = p.adjustToBook(side, px)
	if !finite(px) {
		return none
	}
	px = p.applyResistance(side, px)

	return quoteDecision{px: px, qty: qty, aggrPx: aggrPx, aggrQty: aggrQty}
}

// desiredQty sizes one side from the position management mode
func (p *Pair) desiredQty(side book.Side) float64 {
	qty := p.cfg.QuotedQty
	halfLot := p.pass.LotSize / 2

	if p.cfg.FlipFlop {
		// quote double to flip the position, nothing once flipped
		switch side {
		case book.Bid:
			if p.passPos < -halfLot {
				return 2 * qty
			}
			if p.passPos > halfLot {
				return 0
			}
		case book.Ask:
			if p.passPos > halfLot {
				return 2 * qty
			}
			if p.passPos < -halfLot {
				return 0
			}
		}
		return qty
	}

	if p.cfg.PassPosSoftLimit > 0 {
		if side == book.Bid {
			qty = math.Min(qty, p.cfg.PassPosSoftLimit-p.passPos)
		} else {
			qty = math.Min(qty, p.cfg.PassPosSoftLimit+p.passPos)
		}
	}
	return math.Max(qty, 0)
}

// coverVWAP prices the aggressive-leg band a fill on side would need to
// cover. A passive buy covers by selling into the aggressive bids and
// vice versa.
func (p *Pair) coverVWAP(side book.Side, aggrQty float64) float64 {
	if aggrQty <= p.aggr.LotSize {
		// single-lot band: L1 price without the traversal
		return p.aggr.Book.BestPx(side)
	}
	return p.aggr.Book.VWAP(side, aggrQty)
}

// adjustToBook clamps the candidate against the passive book's top and
// withdraws it when the competing size ahead falls inside the dead zone
func (p *Pair) adjustToBook(side book.Side, px float64) float64 {
	l1 := p.pass.Book.BestPx(side)
	if !finite(l1) {
		return px
	}
	opp := p.pass.Book.BestPx(side.Opposite())
	step := p.pass.PxStep

	improves := side == book.Bid && px > l1+step/2 ||
		side == book.Ask && px < l1-step/2
	if improves {
		// join the touch; improve one step only when configured to buy
		// queue priority, and never into a cross
		cand := l1
		if p.cfg.ImprFillRates && finite(opp) {
			impr := l1 + step
			if side == book.Ask {
				impr = l1 - step
			}
			if side == book.Bid && impr < opp || side == book.Ask && impr > opp {
				cand = impr
			}
		}
		return cand
	}

	// at or behind the touch: estimate the queue ahead of us, netting
	// out our own resting quote at that price
	competing := p.pass.Book.QtyAhead(side, px)
	if cur := p.Quote(side); cur != nil && math.Abs(cur.Px()-px) < step/2 {
		competing -= cur.LeavesQty()
	}
	if p.deadZone(competing / p.pass.LotSize) {
		return math.NaN()
	}
	return px
}

// applyResistance keeps the old price when both old and new sit behind
// the touch and the move is too small relative to the distance
func (p *Pair) applyResistance(side book.Side, px float64) float64 {
	old := p.lastQuotePx[side]
	if !finite(old) {
		return px
	}
	l1 := p.pass.Book.BestPx(side)
	if !finite(l1) {
		return px
	}
	var behind bool
	var oldDist float64
	if side == book.Bid {
		behind = old < l1 && px < l1
		oldDist = l1 - old
	} else {
		behind = old > l1 && px > l1
		oldDist = old - l1
	}
	if behind && p.resist(old, px, math.Abs(px-old), oldDist) {
		return old
	}
	return px
}

// avoidSelfCross nudges the freshly-moved side until bid < ask,
// preferring to leave an unchanged side where it is
func (p *Pair) avoidSelfCross(bid, ask *quoteDecision) {
	if !finite(bid.px) || !finite(ask.px) {
		return
	}
	step := p.pass.PxStep
	bidMoved := !samePx(bid.px, p.lastQuotePx[book.Bid], step)
	askMoved := !samePx(ask.px, p.lastQuotePx[book.Ask], step)

	for ask.px <= bid.px+step/2 {
		switch {
		case bidMoved && !askMoved:
			bid.px -= step
		case askMoved && !bidMoved:
			ask.px += step
		default:
			bid.px -= step
			if ask.px <= bid.px+step/2 {
				ask.px += step
			}
		}
	}
}

// reconcileSide brings the resting quote on one side in line with the
// decision, returning true when a buffered request was issued
func (p *Pair) reconcileSide(side book.Side, d quoteDecision, now time.Time) bool {
	cur := p.Quote(side)
	step := p.pass.PxStep

	if !finite(d.px) {
		if cur != nil && !cur.IsCxlPending() {
			p.CancelOrderSafe(cur, true)
			return true
		}
		return false
	}

	if cur == nil {
		// fresh quote, but not straight after a fill on this side
		if now.Sub(p.lastFill[side]) < p.reQuoteDelay {
			return false
		}
		aos := p.newQuote(side, d)
		if aos == nil {
			return false
		}
		p.passAOSes[side] = aos
		p.lastQuotePx[side] = d.px
		return true
	}

	if cur.IsCxlPending() {
		return false
	}
	pxMoved := math.Abs(cur.Px()-d.px) >= step/2
	qtyMoved := math.Abs(cur.Qty()-d.qty) >= p.pass.LotSize/2
	if !pxMoved && !qtyMoved {
		return false
	}
	if err := p.ModifyQuoteSafe(cur, d.px, d.qty, true); err != nil {
		return false
	}
	// expectations roll over only once the submission is accepted, so a
	// failed reprice keeps the figures the resting order was placed with
	if info := infoOf(cur); info != nil {
		info.ExpAggrPxLast = info.ExpAggrPxNew
		info.ExpAggrPxNew = d.aggrPx
		info.ExpPassPx = d.px
		info.VWAPLots = d.aggrQty
	}
	p.lastQuotePx[side] = d.px
	return true
}

// newQuote submits one passive quote, buffered
func (p *Pair) newQuote(side book.Side, d quoteDecision) *oms.AOS {
	info := &OrderInfo{
		PairID:        int32(p.id),
		Mode:          p.mode,
		ExpPassPx:     d.px,
		ExpAggrPxLast: d.aggrPx,
		ExpAggrPxNew:  d.aggrPx,
		VWAPLots:      d.aggrQty,
	}
	return p.NewOrderSafe(orderSpec{
		leg:      &p.pass,
		isBuy:    side == book.Bid,
		px:       d.px,
		qty:      d.qty,
		buffered: true,
		info:     info,
	})
}

// withdrawAll cancels both resting quotes in one batch
func (p *Pair) withdrawAll(reason string) {
	sent := false
	for side := book.Bid; side <= book.Ask; side++ {
		if aos := p.Quote(side); aos != nil && !aos.IsCxlPending() {
			p.logger.Debug().Str("side", side.String()).Str("reason", reason).
				Msg("Withdrawing quote")
			p.CancelOrderSafe(aos, true)
			sent = true
		}
	}
	if sent {
		p.pass.OMC.FlushOrders()
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func samePx(a, b, step float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return math.Abs(a-b) < step/2
}
