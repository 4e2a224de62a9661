package strategy

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/erain9/pairflow/config"
	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/connector"
	"github.com/erain9/pairflow/pkg/oms"
)

// maxAggrOrders bounds the live aggressive-order list per pair
const maxAggrOrders = 256

// Leg binds one instrument to its market-data and order connectors
type Leg struct {
	MDC     connector.MarketDataConnector
	OMC     oms.OrderConnector
	SecID   int
	Symbol  string
	Book    *book.Book
	PxStep  float64
	LotSize float64
}

// DeadZonePolicy decides whether a passive quote should be withdrawn
// given the competing quantity (in lots) resting ahead of it. The
// default implementation withdraws inside [from, to).
type DeadZonePolicy func(competingLots float64) bool

// ResistancePolicy decides whether a pending quote move is too small to
// be worth the churn. oldDist is the old price's distance to L1, move
// the absolute price change.
type ResistancePolicy func(oldPx, newPx, move, oldDist float64) bool

// Pair runs the quoting state machine for one passive/aggressive
// instrument pair. All methods must be called from the engine's event
// loop; the type holds no locks.
type Pair struct {
	id     int
	cfg    config.PairConfig
	mode   AggrMode
	logger zerolog.Logger

	pass Leg
	aggr Leg

	// spread EMA state
	ema          float64
	sprdTicks    int
	nSprdPeriods int

	// one resting quote per side, indexed by book.Side
	passAOSes   [2]*oms.AOS
	lastQuotePx [2]float64
	lastFill    [2]time.Time

	// live covering orders, oldest first
	aggrAOSes []*oms.AOS

	passPos float64
	aggrPos float64

	reQuoteDelay time.Duration
	enabledUntil time.Time

	deadZone DeadZonePolicy
	resist   ResistancePolicy

	eng *Engine
}

// NewPair wires one configured pair to its legs. The engine owns the
// books and connectors; the pair only trades through them.
func NewPair(id int, cfg config.PairConfig, pass, aggr Leg, eng *Engine) (*Pair, error) {
	var until time.Time
	if cfg.EnabledUntilMSK != "" {
		var err error
		until, err = config.ParseEnabledUntil(cfg.EnabledUntilMSK, time.Now())
		if err != nil {
			return nil, err
		}
	}

	p := &Pair{
		id:           id,
		cfg:          cfg,
		mode:         ParseAggrMode(cfg.AggrMode),
		logger:       eng.logger.With().Int("pair_id", id).Logger(),
		pass:         pass,
		aggr:         aggr,
		aggrAOSes:    make([]*oms.AOS, 0, 16),
		reQuoteDelay: time.Duration(cfg.ReQuoteDelayMSec) * time.Millisecond,
		enabledUntil: until,
		eng:          eng,
	}
	p.lastQuotePx[book.Bid] = math.NaN()
	p.lastQuotePx[book.Ask] = math.NaN()

	// the EMA needs roughly two mean lifetimes of ticks before the
	// seed value stops dominating
	p.nSprdPeriods = int(math.Ceil(2/cfg.EMACoeff)) - 1

	p.deadZone = func(competingLots float64) bool {
		return competingLots >= cfg.DeadZoneLotsFrom && competingLots < cfg.DeadZoneLotsTo
	}
	p.resist = func(_, _, move, oldDist float64) bool {
		return move < cfg.ResistCoeff*oldDist
	}
	return p, nil
}

// ID returns the pair index
func (p *Pair) ID() int { return p.id }

// PassLeg returns the passive leg binding
func (p *Pair) PassLeg() *Leg { return &p.pass }

// AggrLeg returns the aggressive leg binding
func (p *Pair) AggrLeg() *Leg { return &p.aggr }

// PassPos returns the passive-leg position
func (p *Pair) PassPos() float64 { return p.passPos }

// AggrPos returns the aggressive-leg position
func (p *Pair) AggrPos() float64 { return p.aggrPos }

// EMA returns the current spread EMA and whether it is warmed up
func (p *Pair) EMA() (float64, bool) { return p.ema, p.sprdTicks > p.nSprdPeriods }

// SetDeadZonePolicy replaces the competing-size withdrawal rule
func (p *Pair) SetDeadZonePolicy(dz DeadZonePolicy) { p.deadZone = dz }

// SetResistancePolicy replaces the churn-suppression rule
func (p *Pair) SetResistancePolicy(r ResistancePolicy) { p.resist = r }

// Quote returns the resting passive AOS on one side, nil when none
func (p *Pair) Quote(side book.Side) *oms.AOS {
	aos := p.passAOSes[side]
	if aos == nil || aos.IsInactive() {
		return nil
	}
	return aos
}

// AggrOrders returns the live covering orders
func (p *Pair) AggrOrders() []*oms.AOS { return p.aggrAOSes }

// HasInstrument reports whether secID belongs to either leg
func (p *Pair) HasInstrument(secID int) bool {
	return secID == p.pass.SecID || secID == p.aggr.SecID
}

// Enabled reports whether the pair may still open new quotes
func (p *Pair) Enabled(now time.Time) bool {
	return p.enabledUntil.IsZero() || now.Before(p.enabledUntil)
}

// quoteSide maps an order direction to its quote slot
func quoteSide(isBuy bool) book.Side {
	if isBuy {
		return book.Bid
	}
	return book.Ask
}

// trackAggr appends a covering order, evicting terminal ones first when
// at capacity
func (p *Pair) trackAggr(aos *oms.AOS) {
	if len(p.aggrAOSes) >= maxAggrOrders {
		p.pruneAggr()
	}
	if len(p.aggrAOSes) >= maxAggrOrders {
		p.logger.Error().Int("live", len(p.aggrAOSes)).
			Msg("Aggressive order list full")
		p.eng.DelayedGracefulStop("aggressive order list overflow")
		return
	}
	p.aggrAOSes = append(p.aggrAOSes, aos)
}

// pruneAggr drops terminal covering orders from the list
func (p *Pair) pruneAggr() {
	live := p.aggrAOSes[:0]
	for _, a := range p.aggrAOSes {
		if !a.IsInactive() {
			live = append(live, a)
		}
	}
	p.aggrAOSes = live
}

// dropQuote clears the slot holding aos, if any
func (p *Pair) dropQuote(aos *oms.AOS) {
	for side := book.Bid; side <= book.Ask; side++ {
		if p.passAOSes[side] == aos {
			p.passAOSes[side] = nil
			p.lastQuotePx[side] = math.NaN()
		}
	}
}

// onOwnFill updates positions and bookkeeping for one of our fills and
// reports whether the fill was on the passive leg
func (p *Pair) onOwnFill(aos *oms.AOS, qty float64) bool {
	signed := qty
	if !aos.IsBuy() {
		signed = -qty
	}
	info := infoOf(aos)
	if info != nil && info.IsAggr {
		p.aggrPos += signed
		return false
	}
	p.passPos += signed
	p.lastFill[quoteSide(aos.IsBuy())] = time.Now()
	return true
}

// CancelAllQuotes withdraws both passive quotes, unbuffered
func (p *Pair) CancelAllQuotes() {
	for side := book.Bid; side <= book.Ask; side++ {
		if aos := p.Quote(side); aos != nil {
			p.CancelOrderSafe(aos, false)
		}
	}
}
