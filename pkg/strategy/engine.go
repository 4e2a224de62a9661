package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/erain9/pairflow/config"
	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/connector"
	"github.com/erain9/pairflow/pkg/messaging"
	"github.com/erain9/pairflow/pkg/oms"
	"github.com/erain9/pairflow/pkg/otel"
	"github.com/erain9/pairflow/pkg/risk"
	"github.com/erain9/pairflow/pkg/state"
)

// inboxSize bounds the event queue between connector goroutines and the
// strategy thread
const inboxSize = 4096

// Engine owns the pairs and runs the single strategy thread. Connector
// callbacks from any goroutine are enqueued into the inbox and applied
// in arrival order, so pair and book state needs no locking.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger

	risk   *risk.Manager
	store  *state.Store
	sender messaging.MessageSender

	mdcs map[string]connector.MarketDataConnector
	omcs map[string]oms.OrderConnector

	pairs   []*Pair
	bySecID map[int][]*Pair
	books   map[string]*book.Book // keyed by mdc name / secID

	inbox chan func()
	done  chan struct{}

	// ops feeds the background worker that publishes reports and writes
	// persistence, keeping Kafka/Redis latency off the strategy thread
	ops chan func()

	active bool
	rounds int

	stopAt        time.Time
	stopReason    string
	cancelAllDone bool
	semiDone      bool
	sigCount      int
}

// NewEngine builds an engine shell. Connectors and pairs are attached
// before Run.
func NewEngine(cfg *config.Config, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logger.With().Str("component", "engine").Logger(),
		risk:    risk.NewManager(),
		mdcs:    make(map[string]connector.MarketDataConnector),
		omcs:    make(map[string]oms.OrderConnector),
		bySecID: make(map[int][]*Pair),
		books:   make(map[string]*book.Book),
		inbox:   make(chan func(), inboxSize),
		done:    make(chan struct{}),
		ops:     make(chan func(), 256),
	}
	e.risk.SetSafeHook(func() {
		e.post(func() { e.DelayedGracefulStop("risk safe mode") })
	})
	go func() {
		for op := range e.ops {
			op()
		}
	}()
	return e
}

// Risk exposes the risk manager for registration and valuators
func (e *Engine) Risk() *risk.Manager { return e.risk }

// SetStore attaches the status/position persistence backend
func (e *Engine) SetStore(s *state.Store) { e.store = s }

// SetSender attaches the execution-report publisher
func (e *Engine) SetSender(s messaging.MessageSender) { e.sender = s }

// AddMarketDataConnector registers a running market-data source
func (e *Engine) AddMarketDataConnector(c connector.MarketDataConnector) {
	e.mdcs[c.Name()] = c
}

// AddOrderConnector registers an order venue
func (e *Engine) AddOrderConnector(c oms.OrderConnector) {
	e.omcs[c.Name()] = c
}

// Pairs returns the configured pairs
func (e *Engine) Pairs() []*Pair { return e.pairs }

// InitPairs builds one Pair per configuration entry, creating and
// subscribing a book per leg. Connectors must be registered first.
func (e *Engine) InitPairs() error {
	for i, pc := range e.cfg.Pairs {
		pass, err := e.buildLeg(pc.Pass)
		if err != nil {
			return fmt.Errorf("pair %d passive leg: %w", i, err)
		}
		aggr, err := e.buildLeg(pc.Aggr)
		if err != nil {
			return fmt.Errorf("pair %d aggressive leg: %w", i, err)
		}
		p, err := NewPair(i, pc, pass, aggr, e)
		if err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
		e.pairs = append(e.pairs, p)
		e.bySecID[pass.SecID] = append(e.bySecID[pass.SecID], p)
		e.bySecID[aggr.SecID] = append(e.bySecID[aggr.SecID], p)

		e.risk.Register(pass.SecID, pc.PassPosSoftLimit*4)
		e.risk.Register(aggr.SecID, pc.PassPosSoftLimit*4*pc.AggrQtyFact)
	}
	return nil
}

func (e *Engine) buildLeg(lc config.LegConfig) (Leg, error) {
	mdc, ok := e.mdcs[lc.MDC]
	if !ok {
		return Leg{}, fmt.Errorf("unknown market data connector %q", lc.MDC)
	}
	omc, ok := e.omcs[lc.OMC]
	if !ok {
		return Leg{}, fmt.Errorf("unknown order connector %q", lc.OMC)
	}

	key := fmt.Sprintf("%s/%d", lc.MDC, lc.SecID)
	b, ok := e.books[key]
	if !ok {
		b = book.New(lc.SecID, lc.Symbol, lc.Depth, lc.PxStep)
		if err := mdc.Subscribe(lc.SecID, b); err != nil {
			return Leg{}, err
		}
		e.books[key] = b
	}

	return Leg{
		MDC:     mdc,
		OMC:     omc,
		SecID:   lc.SecID,
		Symbol:  lc.Symbol,
		Book:    b,
		PxStep:  lc.PxStep,
		LotSize: lc.LotSize,
	}, nil
}

// post enqueues one event for the strategy thread. A full inbox means
// the strategy cannot keep up with the feed; dropping events would
// corrupt book state, so the engine winds down instead.
func (e *Engine) post(ev func()) {
	select {
	case e.inbox <- ev:
	default:
		e.logger.Error().Int("depth", len(e.inbox)).Msg("Event inbox overflow")
		select {
		case <-e.done:
		default:
			close(e.done)
		}
	}
}

// Drain synchronously applies all queued events on the caller's
// goroutine. Used by tests and the replay harness instead of Run.
func (e *Engine) Drain() {
	for {
		select {
		case ev := <-e.inbox:
			ev()
		default:
			return
		}
	}
}

// Run is the strategy thread: it applies inbox events in order and
// drives time-based stop evaluation until terminated.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Int("pairs", len(e.pairs)).Msg("Engine running")
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.semiGracefulStop()
			return ctx.Err()
		case <-e.done:
			e.logger.Info().Str("reason", e.stopReason).Msg("Engine terminated")
			return nil
		case ev := <-e.inbox:
			ev()
		case <-ticker.C:
			e.EvalStopConds(time.Now())
		}
	}
}

// MDCallbacks implementation: every method hops onto the strategy
// thread.

// OnTradingEvent handles connector and instrument up/down transitions
func (e *Engine) OnTradingEvent(conn connector.MarketDataConnector, isActive bool, secID int, tsExch, tsRecv time.Time) {
	e.post(func() { e.handleTradingEvent(conn, isActive, secID) })
}

// OnOrderBookUpdate triggers a quoting cycle for the affected pairs
func (e *Engine) OnOrderBookUpdate(b *book.Book, isError bool, sides connector.SideFlags, tsExch, tsRecv, tsStrat time.Time) {
	e.post(func() { e.handleOrderBookUpdate(b, isError) })
}

// OnTradeUpdate feeds public prints into the book statistics consumers
func (e *Engine) OnTradeUpdate(tr connector.Trade) {
	e.post(func() {
		e.logger.Debug().Int("sec_id", tr.SecID).Float64("px", tr.Px).
			Float64("qty", tr.Qty).Msg("Public trade")
	})
}

// oms.Callbacks implementation

// OnConfirm acknowledges one outbound request
func (e *Engine) OnConfirm(req *oms.Req, tsExch, tsRecv time.Time) {
	e.post(func() {
		e.logger.Debug().Uint64("req", req.ID).Str("kind", req.Kind.String()).
			Msg("Request confirmed")
	})
}

// OnOurTrade routes one of our fills to its pair
func (e *Engine) OnOurTrade(tr oms.TradeUpdate) {
	e.post(func() { e.handleOurTrade(tr) })
}

// OnCancel finalizes a cancelled order
func (e *Engine) OnCancel(aos *oms.AOS, tsExch, tsRecv time.Time) {
	e.post(func() { e.handleCancel(aos) })
}

// OnOrderError reports an asynchronous venue error on a request
func (e *Engine) OnOrderError(req *oms.Req, errCode int, errText string, probablyFilled bool, tsExch, tsRecv time.Time) {
	e.post(func() { e.handleOrderError(req, errCode, errText, probablyFilled) })
}

// internal handlers, strategy thread only

// pairByID resolves the pair index carried in an order payload. An out
// of range index means the payload was corrupted between the strategy
// and the venue, at which point the engine stops trusting its own
// state.
func (e *Engine) pairByID(id int32) *Pair {
	if id < 0 || int(id) >= len(e.pairs) {
		e.logger.Error().Int32("pair_id", id).Msg("Order payload names an unknown pair")
		e.DelayedGracefulStop("unknown pair id on order callback")
		return nil
	}
	return e.pairs[id]
}

func (e *Engine) handleTradingEvent(conn connector.MarketDataConnector, isActive bool, secID int) {
	e.logger.Info().Str("connector", conn.Name()).Bool("active", isActive).
		Int("sec_id", secID).Msg("Trading event")

	if !isActive {
		wasActive := e.active
		e.active = false
		if !wasActive {
			return
		}
		// withdraw quotes of every pair touched by the outage
		for _, p := range e.pairs {
			if secID != 0 && !p.HasInstrument(secID) {
				continue
			}
			if secID == 0 && p.pass.MDC != conn && p.aggr.MDC != conn {
				continue
			}
			p.CancelAllQuotes()
		}
		return
	}
	e.CheckAllConnectors()
}

func (e *Engine) handleOrderBookUpdate(b *book.Book, isError bool) {
	if isError {
		e.logger.Warn().Int("sec_id", b.SecID()).
			Uint64("seq", uint64(b.LastUpdate())).Msg("Inconsistent book update")
	}
	now := time.Now()
	e.rounds++
	if e.EvalStopConds(now) {
		return
	}
	if !e.active && !e.CheckAllConnectors() {
		return
	}
	for _, p := range e.bySecID[b.SecID()] {
		if b == p.aggr.Book {
			p.ModifyPeggedOrders()
			p.EvalStopLoss()
		}
		p.DoQuotes(now)
	}
}

func (e *Engine) handleOurTrade(tr oms.TradeUpdate) {
	info := infoOf(tr.AOS)
	if info == nil {
		e.logger.Warn().Uint64("aos", uint64(tr.AOS.ID())).
			Msg("Fill on unknown order, ignoring")
		return
	}
	p := e.pairByID(info.PairID)
	if p == nil {
		return
	}
	isPass := p.onOwnFill(tr.AOS, tr.Qty)
	e.risk.OnTrade(tr.AOS.SecID(), tr.AOS.IsBuy(), tr.Px, tr.Qty)

	p.logger.Info().
		Uint64("aos", uint64(tr.AOS.ID())).
		Bool("passive", isPass).
		Float64("px", tr.Px).
		Float64("qty", tr.Qty).
		Float64("pass_pos", p.passPos).
		Float64("aggr_pos", p.aggrPos).
		Msg("Fill")

	if isPass {
		otel.GetStrategyMetrics().RecordPassiveFill(context.Background(), p.id)
		if tr.AOS.IsInactive() {
			p.dropQuote(tr.AOS)
		}
		p.DoCoveringOrder(tr.AOS, tr.Px, tr.Qty)
	}

	e.publishReport(messaging.EventFill, tr.AOS, tr.Px, tr.Qty, int(info.PairID))
	e.persistPositions()
}

func (e *Engine) handleCancel(aos *oms.AOS) {
	info := infoOf(aos)
	if info == nil {
		return
	}
	p := e.pairByID(info.PairID)
	if p == nil {
		return
	}
	p.dropQuote(aos)
	p.pruneAggr()
	e.publishReport(messaging.EventCancel, aos, aos.Px(), 0, int(info.PairID))
}

func (e *Engine) handleOrderError(req *oms.Req, errCode int, errText string, probablyFilled bool) {
	ev := e.logger.Warn()
	if probablyFilled {
		// venue says the request failed but the order may have traded;
		// wait for the fill rather than resubmitting blind
		ev = e.logger.Error()
	}
	ev.Uint64("req", req.ID).Int("code", errCode).Str("text", errText).
		Bool("probably_filled", probablyFilled).Msg("Order error")

	aos := req.AOS
	if aos == nil {
		return
	}
	info := infoOf(aos)
	if info == nil {
		return
	}
	p := e.pairByID(info.PairID)
	if p == nil {
		return
	}
	if aos.IsInactive() {
		p.dropQuote(aos)
		p.pruneAggr()
	}
	if info.IsAggr && req.Kind == oms.ReqNew && !probablyFilled {
		// the hedge never reached the market
		e.DelayedGracefulStop("covering order rejected by venue")
	}
	e.publishReport(messaging.EventReject, aos, req.Px, req.Qty, int(info.PairID))
}

// CheckAllConnectors gates trading on full connectivity: every
// connector up and every leg's book consistent. Returns the gate state
// after the check.
func (e *Engine) CheckAllConnectors() bool {
	for _, c := range e.mdcs {
		if !c.IsActive() {
			return false
		}
	}
	for _, c := range e.omcs {
		if !c.IsActive() {
			return false
		}
	}
	for _, p := range e.pairs {
		if !p.pass.Book.IsReady() || !p.aggr.Book.IsReady() {
			return false
		}
	}
	if !e.active {
		e.active = true
		if err := e.risk.Start(); err != nil {
			e.logger.Error().Err(err).Msg("Risk manager start failed")
		}
		e.logger.Info().Msg("All connectors up, trading enabled")
		e.saveStatus("active")
	}
	return true
}

// Active reports whether the connectivity gate has passed
func (e *Engine) Active() bool { return e.active }

func (e *Engine) publishReport(event string, aos *oms.AOS, px, qty float64, pairID int) {
	if e.sender == nil {
		return
	}
	side := "SELL"
	if aos.IsBuy() {
		side = "BUY"
	}
	rep := &messaging.ExecutionReport{
		AOSID:    uint64(aos.ID()),
		ClientID: aos.ClientID(),
		Symbol:   aos.Symbol(),
		Side:     side,
		Event:    event,
		Px:       messaging.FormatPx(px),
		Qty:      messaging.FormatQty(qty),
		CumQty:   messaging.FormatQty(aos.CumQty()),
		PairID:   pairID,
		TsNanos:  time.Now().UnixNano(),
	}
	e.enqueueOp(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.sender.SendExecutionReport(ctx, rep); err != nil {
			e.logger.Warn().Err(err).Msg("Execution report publish failed")
		}
	})
}

func (e *Engine) persistPositions() {
	if e.store == nil {
		return
	}
	// snapshot on the strategy thread, write off it
	positions := e.risk.Positions()
	e.enqueueOp(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.store.SavePositions(ctx, positions); err != nil {
			e.logger.Warn().Err(err).Msg("Position persistence failed")
		}
	})
}

// enqueueOp hands one piece of background work to the worker without
// ever blocking the strategy thread. Reports and persistence are drop
// copies of state the engine does not depend on, so a full queue drops.
func (e *Engine) enqueueOp(op func()) {
	select {
	case e.ops <- op:
	default:
		e.logger.Warn().Msg("Background queue full, dropping write")
	}
}

// SyncOps blocks until all previously queued background work finished.
// Used on shutdown and by tests that assert on published reports.
func (e *Engine) SyncOps() {
	fence := make(chan struct{})
	e.ops <- func() { close(fence) }
	<-fence
}
