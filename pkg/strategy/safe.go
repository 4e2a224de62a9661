package strategy

import (
	"context"
	"errors"
	"math"

	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/oms"
	"github.com/erain9/pairflow/pkg/otel"
	"github.com/erain9/pairflow/pkg/risk"
)

// orderSpec gathers the parameters of one guarded submission
type orderSpec struct {
	leg      *Leg
	isBuy    bool
	px       float64
	qty      float64
	buffered bool
	info     *OrderInfo
}

// NewOrderSafe is the single choke point for order creation. It drops
// the request without side effects when the engine is winding down or
// risk has gone safe, validates size and price, and escalates to a
// graceful stop on fatal submission errors. Returns nil when no order
// was placed.
func (p *Pair) NewOrderSafe(spec orderSpec) *oms.AOS {
	isAggr := spec.info != nil && spec.info.IsAggr

	if p.eng.risk.Mode() == risk.ModeSafe {
		// the circuit breaker rejects everything, covers included; a
		// fill that can no longer be hedged forces the wind-down
		if isAggr {
			p.logger.Error().Float64("qty", spec.qty).
				Msg("Covering order blocked by safe mode")
			p.eng.DelayedGracefulStop("unhedged fill in safe mode")
		}
		return nil
	}
	if p.eng.Stopping() && !isAggr {
		// covering orders still go out during wind-down, quotes do not
		return nil
	}
	if spec.qty < spec.leg.LotSize/2 {
		return nil
	}
	if !finite(spec.px) || spec.px <= 0 {
		if isAggr {
			// unable to price a cover means unhedged exposure
			p.logger.Error().Float64("px", spec.px).
				Msg("Cannot price covering order")
			p.eng.DelayedGracefulStop("covering order unpriceable")
		}
		return nil
	}

	tif := oms.GTC
	if isAggr && spec.info.Mode == DeepAggr {
		tif = oms.IOC
	}
	aos, err := spec.leg.OMC.NewOrder(context.Background(), oms.NewOrderReq{
		SecID:    spec.leg.SecID,
		Symbol:   spec.leg.Symbol,
		IsBuy:    spec.isBuy,
		Px:       spec.px,
		Qty:      spec.qty,
		IsAggr:   isAggr,
		Buffered: spec.buffered,
		TIF:      tif,
		UserData: spec.info,
	})
	if err != nil {
		p.handleSendError("new", err, isAggr)
		return nil
	}
	if isAggr {
		otel.GetStrategyMetrics().RecordCoveringOrder(context.Background(), p.id)
	} else {
		otel.GetStrategyMetrics().RecordQuotePlaced(context.Background(), p.id)
	}
	return aos
}

// CancelOrderSafe cancels a live order. Calling it on an inactive or
// already cancel-pending order is a silent no-op, so callers can retry
// freely.
func (p *Pair) CancelOrderSafe(aos *oms.AOS, buffered bool) error {
	if aos == nil || aos.IsInactive() || aos.IsCxlPending() {
		return nil
	}
	if err := aos.OMC().CancelOrder(context.Background(), aos, buffered); err != nil {
		if errors.Is(err, oms.ErrInactive) || errors.Is(err, oms.ErrCxlPending) {
			return nil
		}
		p.handleSendError("cancel", err, false)
		return err
	}
	otel.GetStrategyMetrics().RecordQuoteCancelled(context.Background(), p.id)
	return nil
}

// ModifyQuoteSafe re-prices a live order in place. On a send failure it
// falls back to cancelling the order so no quote is left at a price the
// strategy no longer wants.
func (p *Pair) ModifyQuoteSafe(aos *oms.AOS, newPx, newQty float64, buffered bool) error {
	if aos == nil || aos.IsInactive() || aos.IsCxlPending() {
		return oms.ErrInactive
	}
	if err := aos.OMC().ModifyOrder(context.Background(), aos, newPx, newQty, buffered); err != nil {
		if errors.Is(err, oms.ErrInactive) || errors.Is(err, oms.ErrCxlPending) {
			return err
		}
		p.logger.Warn().Err(err).Uint64("aos", uint64(aos.ID())).
			Msg("Modify failed, falling back to cancel")
		if cerr := p.CancelOrderSafe(aos, buffered); cerr != nil {
			p.eng.DelayedGracefulStop("modify and fallback cancel both failed")
		}
		p.handleSendError("modify", err, false)
		return err
	}
	otel.GetStrategyMetrics().RecordQuoteModified(context.Background(), p.id)
	return nil
}

// handleSendError classifies a submission failure. Recoverable errors
// (throttle, disconnected venue) are logged and absorbed; anything
// fatal winds the engine down.
func (p *Pair) handleSendError(action string, err error, isAggr bool) {
	ev := p.logger.Warn()
	if oms.IsFatal(err) || isAggr {
		ev = p.logger.Error()
	}
	ev.Err(err).Str("action", action).Bool("aggr", isAggr).
		Msg("Order send failed")

	if oms.IsFatal(err) {
		p.eng.DelayedGracefulStop("fatal order error: " + err.Error())
		return
	}
	if isAggr {
		// a dropped cover leaves the pair unhedged
		p.eng.DelayedGracefulStop("covering order rejected: " + err.Error())
	}
}

// aggrPrice derives the limit price of a covering order in the given
// mode. side is the direction of the cover itself.
func (p *Pair) aggrPrice(mode AggrMode, isBuy bool, info *OrderInfo) float64 {
	side := quoteSide(isBuy)
	b := p.aggr.Book
	step := p.aggr.PxStep

	switch mode {
	case Pegged:
		// track the opposite-side touch so the order rests at the front
		return b.BestPx(side.Opposite())

	case FixedPass:
		// recoup the realized passive slippage plus the extra markup,
		// scaled back to aggressive-leg units
		adj := (info.PassSlip + p.cfg.ExtraMarkUp) / p.cfg.AggrQtyFact
		if side == book.Ask {
			return book.RoundPx(info.ExpAggrPxNew+adj, step, book.Ask)
		}
		return book.RoundPx(info.ExpAggrPxNew-adj, step, book.Bid)

	default: // DeepAggr
		// one percent through the opposite touch guarantees the fill
		opp := b.BestPx(side.Opposite())
		if !finite(opp) {
			return math.NaN()
		}
		if isBuy {
			return book.RoundPx(opp*1.01, step, book.Ask)
		}
		return book.RoundPx(opp*0.99, step, book.Bid)
	}
}
