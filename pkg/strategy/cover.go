package strategy

import (
	"context"
	"math"

	"github.com/erain9/pairflow/pkg/oms"
	"github.com/erain9/pairflow/pkg/otel"
)

// DoCoveringOrder hedges one passive fill by sending the opposite-side
// aggressive order sized by the quantity factor. Called exactly once
// per fill event, including each partial fill.
func (p *Pair) DoCoveringOrder(passAOS *oms.AOS, fillPx, fillQty float64) {
	passInfo := infoOf(passAOS)
	if passInfo == nil {
		p.logger.Error().Uint64("aos", uint64(passAOS.ID())).
			Msg("Passive fill without strategy payload")
		p.eng.DelayedGracefulStop("foreign passive fill")
		return
	}

	// realized slippage of the passive fill, positive when adverse
	slip := fillPx - passInfo.ExpPassPx
	if !passAOS.IsBuy() {
		slip = -slip
	}

	coverIsBuy := !passAOS.IsBuy()
	info := &OrderInfo{
		IsAggr:        true,
		Mode:          p.mode,
		PairID:        int32(p.id),
		RefAOSID:      passAOS.ID(),
		ExpAggrPxLast: passInfo.ExpAggrPxLast,
		ExpAggrPxNew:  passInfo.ExpAggrPxNew,
		PassSlip:      slip,
	}
	px := p.aggrPrice(p.mode, coverIsBuy, info)

	aos := p.NewOrderSafe(orderSpec{
		leg:   &p.aggr,
		isBuy: coverIsBuy,
		px:    px,
		qty:   fillQty * p.cfg.AggrQtyFact,
		info:  info,
	})
	if aos == nil {
		return
	}
	p.trackAggr(aos)
	p.logger.Info().
		Uint64("aos", uint64(aos.ID())).
		Uint64("ref", uint64(passAOS.ID())).
		Str("mode", p.mode.String()).
		Float64("px", px).
		Float64("qty", aos.Qty()).
		Float64("slip", slip).
		Msg("Covering order sent")
}

// ModifyPeggedOrders re-prices live pegged covers after the aggressive
// book moved
func (p *Pair) ModifyPeggedOrders() {
	for _, aos := range p.aggrAOSes {
		info := infoOf(aos)
		if info == nil || info.Mode != Pegged {
			continue
		}
		if aos.IsInactive() || aos.IsCxlPending() {
			continue
		}
		px := p.aggrPrice(Pegged, aos.IsBuy(), info)
		if !finite(px) || math.Abs(px-aos.Px()) < p.aggr.PxStep/2 {
			continue
		}
		p.ModifyQuoteSafe(aos, px, aos.LeavesQty(), false)
	}
}

// EvalStopLoss marks every live resting cover against the current
// opposite touch and escalates to deep-aggressive pricing on a breach:
// modify in place when nothing has filled yet, otherwise cancel and
// reissue the remainder.
func (p *Pair) EvalStopLoss() {
	if p.cfg.AggrStopLoss >= 0 {
		return
	}
	for _, aos := range p.aggrAOSes {
		info := infoOf(aos)
		if info == nil || info.Mode == DeepAggr {
			continue
		}
		if aos.IsInactive() || aos.IsCxlPending() {
			continue
		}
		opp := p.aggr.Book.BestPx(quoteSide(aos.IsBuy()).Opposite())
		if !finite(opp) {
			continue
		}
		var vm float64
		if aos.IsBuy() {
			vm = aos.Px() - opp
		} else {
			vm = opp - aos.Px()
		}
		if vm >= p.cfg.AggrStopLoss {
			continue
		}
		p.escalate(aos, info, vm)
	}
	p.pruneAggr()
}

// escalate converts one breached cover to deep-aggressive pricing
func (p *Pair) escalate(aos *oms.AOS, info *OrderInfo, vm float64) {
	otel.GetStrategyMetrics().RecordStopLossEscalation(context.Background(), p.id)
	px := p.aggrPrice(DeepAggr, aos.IsBuy(), info)
	p.logger.Warn().
		Uint64("aos", uint64(aos.ID())).
		Float64("vm", vm).
		Float64("stop", p.cfg.AggrStopLoss).
		Float64("px", px).
		Msg("Cover stop-loss breached, escalating")

	if aos.CumQty() == 0 {
		info.Mode = DeepAggr
		if err := p.ModifyQuoteSafe(aos, px, aos.Qty(), false); err == nil {
			return
		}
		// fall through to reissue; the failed modify already cancelled
	} else if err := p.CancelOrderSafe(aos, false); err != nil {
		return
	}

	leaves := aos.LeavesQty()
	if leaves < p.aggr.LotSize/2 {
		return
	}
	reInfo := *info
	reInfo.Mode = DeepAggr
	if re := p.NewOrderSafe(orderSpec{
		leg:   &p.aggr,
		isBuy: aos.IsBuy(),
		px:    px,
		qty:   leaves,
		info:  &reInfo,
	}); re != nil {
		p.trackAggr(re)
	}
}
