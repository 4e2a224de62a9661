package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/pairflow/config"
	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/connector"
	"github.com/erain9/pairflow/pkg/messaging"
	"github.com/erain9/pairflow/pkg/oms"
)

const (
	passSec = 1001
	aggrSec = 2001
)

type harness struct {
	t      *testing.T
	eng    *Engine
	feed   *connector.SimFeed
	omc    *oms.SimConnector
	pair   *Pair
	sender *messaging.MockSender
}

// defaultPairConfig matches a 10:1 pair with a one-tick spread model:
// EMACoeff 1 makes the spread estimate equal the last sample, so
// expected prices are exact.
func defaultPairConfig() config.PairConfig {
	return config.PairConfig{
		Pass: config.LegConfig{
			MDC: "md", OMC: "om",
			SecID: passSec, Symbol: "PASS", PxStep: 0.0001, LotSize: 1, Depth: 10,
		},
		Aggr: config.LegConfig{
			MDC: "md", OMC: "om",
			SecID: aggrSec, Symbol: "AGGR", PxStep: 0.0001, LotSize: 1, Depth: 10,
		},
		QuotedQty:        10,
		PassPosSoftLimit: 100,
		ReQuoteDelayMSec: 1,
		EMACoeff:         1,
		AggrQtyFact:      10,
		AggrQtyReserve:   1,
		AggrMode:         "DeepAggr",
		MarkUp:           0.0005,
	}
}

func newHarness(t *testing.T, mutate func(*config.PairConfig)) *harness {
	t.Helper()

	pc := defaultPairConfig()
	if mutate != nil {
		mutate(&pc)
	}
	cfg := &config.Config{}
	cfg.Pairs = []config.PairConfig{pc}

	eng := NewEngine(cfg, zerolog.Nop())
	sender := messaging.NewMockSender()
	eng.SetSender(sender)

	feed := connector.NewSimFeed("md", eng)
	omc := oms.NewSimConnector("om", nil)
	omc.SetCallbacks(eng)
	eng.AddMarketDataConnector(feed)
	eng.AddOrderConnector(omc)

	require.NoError(t, eng.InitPairs())
	require.NoError(t, feed.Start())
	require.NoError(t, omc.Start())

	h := &harness{
		t:      t,
		eng:    eng,
		feed:   feed,
		omc:    omc,
		pair:   eng.pairs[0],
		sender: sender,
	}
	h.step()
	return h
}

// step models one reactor turn: apply queued market events, deliver
// order completions, apply the resulting events, then fence the
// background writer so sender and store assertions see everything.
func (h *harness) step() {
	h.eng.Drain()
	h.omc.Deliver()
	h.eng.Drain()
	h.eng.SyncOps()
}

// pushBooks snapshots both legs (aggressive first) and steps
func (h *harness) pushBooks(passBid, passAsk, aggrBid, aggrAsk float64) {
	h.feed.PushSnapshot(aggrSec,
		[]book.Entry{{Px: aggrBid, Qty: 1e6}},
		[]book.Entry{{Px: aggrAsk, Qty: 1e6}})
	h.feed.PushSnapshot(passSec,
		[]book.Entry{{Px: passBid, Qty: 1e6}},
		[]book.Entry{{Px: passAsk, Qty: 1e6}})
	h.step()
}

// warmBooks pushes the reference market twice so the spread estimate is
// trusted and both quotes rest
func (h *harness) warmBooks() {
	h.pushBooks(10.0017, 10.0027, 1.0000, 1.0004)
	h.pushBooks(10.0017, 10.0027, 1.0000, 1.0004)
}

func TestQuotePricingFromCoverVWAP(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	// spread estimate: 10.0022 - 10*1.0002 = 0.0002
	ema, warm := h.pair.EMA()
	require.True(t, warm)
	assert.InDelta(t, 0.0002, ema, 1e-9)

	// bid = coverVWAP*fact + ema - markup = 10.0 + 0.0002 - 0.0005
	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid, "Bid quote must rest after warm-up")
	assert.InDelta(t, 9.9997, bid.Px(), 1e-9)
	assert.Equal(t, 10.0, bid.Qty())
	assert.True(t, bid.IsBuy())

	// ask = 10.004 + 0.0002 + 0.0005
	ask := h.pair.Quote(book.Ask)
	require.NotNil(t, ask)
	assert.InDelta(t, 10.0047, ask.Px(), 1e-9)
	assert.False(t, ask.IsBuy())
}

func TestNoQuotesBeforeSpreadWarmUp(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.EMACoeff = 0.5 // needs ceil(2/0.5)-1 = 3 trusted samples
	})

	// both snapshots land before the drain, so each leg's event runs a
	// full cycle against populated books: one pushBooks is two samples
	h.pushBooks(10.0017, 10.0027, 1.0000, 1.0004)
	assert.Nil(t, h.pair.Quote(book.Bid), "Two samples are not enough")

	refreshPass := func() {
		h.feed.PushSnapshot(passSec,
			[]book.Entry{{Px: 10.0017, Qty: 1e6}},
			[]book.Entry{{Px: 10.0027, Qty: 1e6}})
		h.step()
	}
	refreshPass()
	assert.Nil(t, h.pair.Quote(book.Bid), "Estimate still dominated by the seed")
	refreshPass()
	assert.NotNil(t, h.pair.Quote(book.Bid))
}

func TestSingleRestingOrderPerSide(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	// drifting market: quotes must follow by modify, not by stacking
	for i := 0; i < 5; i++ {
		drift := float64(i) * 0.001
		h.pushBooks(10.0017+drift, 10.0027+drift, 1.0000+drift/10, 1.0004+drift/10)
	}

	live := 0
	for _, aos := range h.omc.Orders() {
		if !aos.IsInactive() {
			live++
		}
	}
	assert.Equal(t, 2, live, "Exactly one live order per side")
	assert.Len(t, h.omc.Orders(), 2, "Repricing reuses the resting orders")
}

func TestQuoteWithdrawalOnOneSidedBook(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()
	require.NotNil(t, h.pair.Quote(book.Bid))

	// aggressive bid side empties: the bid cover becomes unpriceable
	h.feed.PushSnapshot(aggrSec, nil, []book.Entry{{Px: 1.0004, Qty: 1e6}})
	h.step()
	h.step()

	assert.Nil(t, h.pair.Quote(book.Bid), "Unpriceable side must be withdrawn")
}

func TestThinCoverBandWithdrawsBothSides(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()
	require.NotNil(t, h.pair.Quote(book.Bid))
	require.NotNil(t, h.pair.Quote(book.Ask))

	// the aggressive bid thins out below the 100-lot cover band while
	// the touch itself survives: the mid stays finite but the bid
	// cover VWAP does not, and a spread estimate that cannot price one
	// cover is not to be trusted for the other
	h.feed.PushSnapshot(aggrSec,
		[]book.Entry{{Px: 1.0000, Qty: 5}},
		[]book.Entry{{Px: 1.0004, Qty: 1e6}})
	h.step()
	h.step()

	assert.Nil(t, h.pair.Quote(book.Bid))
	assert.Nil(t, h.pair.Quote(book.Ask), "Thin bid cover pulls the ask as well")
}

func TestCoveringOrderPerFillEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)

	h.omc.Fill(bid, bid.Px(), 3)
	h.step()
	require.Len(t, h.pair.AggrOrders(), 1, "One cover per fill event")

	h.omc.Fill(bid, bid.Px(), 7)
	h.step()
	covers := h.pair.AggrOrders()
	require.Len(t, covers, 2, "Partial fills each get their own cover")

	assert.Equal(t, 30.0, covers[0].Qty(), "Cover qty scales by the quantity factor")
	assert.Equal(t, 70.0, covers[1].Qty())
	for _, c := range covers {
		assert.False(t, c.IsBuy(), "Passive buy covers by selling")
		assert.Equal(t, aggrSec, c.SecID())
	}

	assert.Equal(t, 10.0, h.pair.PassPos())
	assert.Nil(t, h.pair.Quote(book.Bid), "Fully filled quote leaves the slot")
}

func TestFillPublishesExecutionReports(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	h.omc.Fill(bid, bid.Px(), 4)
	h.step()

	require.GreaterOrEqual(t, h.sender.Count(), 1)
	rep := h.sender.Reports[0]
	assert.Equal(t, messaging.EventFill, rep.Event)
	assert.Equal(t, "PASS", rep.Symbol)
	assert.Equal(t, "BUY", rep.Side)
	assert.Equal(t, 0, rep.PairID)
}

func TestDeepAggrCoverPricing(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	h.omc.Fill(bid, bid.Px(), 5)
	h.step()

	covers := h.pair.AggrOrders()
	require.Len(t, covers, 1)
	// sell one percent through the best bid, rounded down to the step
	assert.InDelta(t, 0.99, covers[0].Px(), 1e-9)
}

func TestFixedPassCoverPricing(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.AggrMode = "FixedPass"
		pc.AggrQtyFact = 2
		pc.ExtraMarkUp = 0.01
		pc.Aggr.PxStep = 0.01
	})

	info := &OrderInfo{ExpAggrPxNew: 50.00, PassSlip: 0.03}
	px := h.pair.aggrPrice(FixedPass, false, info)
	assert.InDelta(t, 50.02, px, 1e-9,
		"Sell cover recoups slippage plus markup: 50.00 + (0.03+0.01)/2")

	px = h.pair.aggrPrice(FixedPass, true, info)
	assert.InDelta(t, 49.98, px, 1e-9)
}

func TestPeggedCoverTracksTouch(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.AggrMode = "Pegged"
	})
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	h.omc.Fill(bid, bid.Px(), 5)
	h.step()

	covers := h.pair.AggrOrders()
	require.Len(t, covers, 1)
	assert.InDelta(t, 1.0000, covers[0].Px(), 1e-9, "Sell pegs to the best bid")

	// touch moves: the cover must follow
	h.pushBooks(10.0017, 10.0027, 0.9980, 0.9984)
	assert.InDelta(t, 0.9980, covers[0].Px(), 1e-9)
}

func TestStopLossEscalation(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.AggrMode = "FixedPass"
		pc.AggrStopLoss = -0.01
	})
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	h.omc.Fill(bid, bid.Px(), 5)
	h.step()

	covers := h.pair.AggrOrders()
	require.Len(t, covers, 1)
	cover := covers[0]
	pxBefore := cover.Px()

	// best bid collapses far below the sell cover: crossing now would
	// cost more than the stop threshold
	h.pushBooks(10.0017, 10.0027, 0.9000, 0.9004)
	h.step()

	info := infoOf(cover)
	require.NotNil(t, info)
	assert.Equal(t, DeepAggr, info.Mode, "Breached cover escalates")
	assert.Less(t, cover.Px(), pxBefore, "Escalated price chases the market")
	assert.InDelta(t, 0.9000*0.99, cover.Px(), 0.0001)
}

func TestCancelOrderSafeIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)

	require.NoError(t, h.pair.CancelOrderSafe(bid, false))
	assert.True(t, bid.IsCxlPending())
	require.NoError(t, h.pair.CancelOrderSafe(bid, false), "Pending cancel is a no-op")

	h.step()
	assert.True(t, bid.IsInactive())
	require.NoError(t, h.pair.CancelOrderSafe(bid, false), "Terminal cancel is a no-op")
}

func TestNoSelfCross(t *testing.T) {
	h := newHarness(t, nil)
	step := h.pair.pass.PxStep

	bid := quoteDecision{px: 10.0005, qty: 10}
	ask := quoteDecision{px: 10.0002, qty: 10}
	h.pair.avoidSelfCross(&bid, &ask)
	assert.Greater(t, ask.px, bid.px, "Quotes must never cross each other")

	// unchanged ask holds its level, only the moved bid gives way
	h.pair.lastQuotePx[book.Ask] = 10.0002
	bid = quoteDecision{px: 10.0005, qty: 10}
	ask = quoteDecision{px: 10.0002, qty: 10}
	h.pair.avoidSelfCross(&bid, &ask)
	assert.InDelta(t, 10.0002, ask.px, 1e-9)
	assert.LessOrEqual(t, bid.px, ask.px-step/2)
}

func TestDeadZoneWithdrawal(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.DeadZoneLotsFrom = 1
		pc.DeadZoneLotsTo = 1e9
	})

	// thin passive book: only half a lot rests ahead, below the zone
	thin := func() {
		h.feed.PushSnapshot(aggrSec,
			[]book.Entry{{Px: 1.0000, Qty: 1e6}},
			[]book.Entry{{Px: 1.0004, Qty: 1e6}})
		h.feed.PushSnapshot(passSec,
			[]book.Entry{{Px: 10.0017, Qty: 0.5}},
			[]book.Entry{{Px: 10.0027, Qty: 0.5}})
		h.step()
	}
	thin()
	thin()
	require.NotNil(t, h.pair.Quote(book.Bid), "Thin queue ahead is quotable")

	// a deep queue ahead of the candidate lands inside the dead zone
	h.pushBooks(10.0017, 10.0027, 1.0000, 1.0004)
	h.step()
	assert.Nil(t, h.pair.Quote(book.Bid), "Deep queue ahead withdraws the bid")
	assert.Nil(t, h.pair.Quote(book.Ask))
}

func TestResistanceSuppressesSmallMoves(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.ResistCoeff = 0.5
	})
	h.warmBooks()

	// old quote 9.9997, touch 10.0017: distance 0.0020, threshold 0.0010
	h.pair.lastQuotePx[book.Bid] = 9.9997
	assert.Equal(t, 9.9997, h.pair.applyResistance(book.Bid, 9.9999),
		"Move of 0.0002 is absorbed")
	assert.Equal(t, 10.0012, h.pair.applyResistance(book.Bid, 10.0012),
		"Move of 0.0015 goes through")
}

func TestFlipFlopSizing(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.FlipFlop = true
		pc.PassPosSoftLimit = 0
	})

	h.pair.passPos = 0
	assert.Equal(t, 10.0, h.pair.desiredQty(book.Bid))
	assert.Equal(t, 10.0, h.pair.desiredQty(book.Ask))

	h.pair.passPos = 10
	assert.Equal(t, 0.0, h.pair.desiredQty(book.Bid), "Already long: no bid")
	assert.Equal(t, 20.0, h.pair.desiredQty(book.Ask), "Double to flip short")

	h.pair.passPos = -10
	assert.Equal(t, 20.0, h.pair.desiredQty(book.Bid))
	assert.Equal(t, 0.0, h.pair.desiredQty(book.Ask))
}

func TestSoftLimitSizing(t *testing.T) {
	h := newHarness(t, nil)

	h.pair.passPos = 95
	assert.Equal(t, 5.0, h.pair.desiredQty(book.Bid), "Capped at the soft limit")
	assert.Equal(t, 10.0, h.pair.desiredQty(book.Ask))

	h.pair.passPos = 105
	assert.Equal(t, 0.0, h.pair.desiredQty(book.Bid))
}

func TestConnectorOutageWithdrawsQuotes(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()
	require.NotNil(t, h.pair.Quote(book.Bid))

	require.NoError(t, h.feed.Stop())
	h.step()
	h.step()

	assert.False(t, h.eng.Active())
	assert.Nil(t, h.pair.Quote(book.Bid), "Outage must pull the quotes")
	assert.Nil(t, h.pair.Quote(book.Ask))
}

func TestGracefulStopSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()
	require.NotNil(t, h.pair.Quote(book.Bid))

	h.eng.DelayedGracefulStop("operator request")
	assert.True(t, h.eng.Stopping())
	assert.NotNil(t, h.pair.Quote(book.Bid), "Quotes survive the first second")

	// a second request must not restart the clock or change the reason
	h.eng.DelayedGracefulStop("later request")
	assert.Equal(t, "operator request", h.eng.StopReason())

	h.eng.EvalStopConds(time.Now().Add(2 * time.Second))
	h.step()
	assert.Nil(t, h.pair.Quote(book.Bid), "Cancel-all fires after one second")

	h.eng.EvalStopConds(time.Now().Add(6 * time.Second))
	assert.False(t, h.feed.IsActive(), "Semi-graceful stop shuts connectors down")
	assert.False(t, h.omc.IsActive())

	select {
	case <-h.eng.done:
	default:
		t.Fatal("Engine must terminate after the semi-graceful step")
	}
}

func TestDoubleSignalEscalates(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	h.eng.OnSignal()
	h.eng.Drain()
	assert.True(t, h.eng.Stopping())
	select {
	case <-h.eng.done:
		t.Fatal("First signal must stay graceful")
	default:
	}

	h.eng.OnSignal()
	select {
	case <-h.eng.done:
	default:
		t.Fatal("Second signal must force termination")
	}
}

func TestStoppingBlocksNewQuotesButNotCovers(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)

	h.eng.DelayedGracefulStop("wind down")

	// a fill during wind-down still gets hedged
	h.omc.Fill(bid, bid.Px(), 2)
	h.step()
	assert.Len(t, h.pair.AggrOrders(), 1, "Cover goes out while stopping")

	// but no fresh quotes appear
	h.pair.passAOSes[book.Bid] = nil
	spec := orderSpec{leg: &h.pair.pass, isBuy: true, px: 9.99, qty: 10, info: &OrderInfo{}}
	assert.Nil(t, h.pair.NewOrderSafe(spec))
}

func TestSafeModeBlocksCovers(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)

	h.eng.Risk().EnterSafeMode("manual halt")
	h.eng.Drain()

	// unlike the graceful wind-down, the circuit breaker rejects the
	// hedge too: an unhedgeable fill leaves only the exit
	h.omc.Fill(bid, bid.Px(), 2)
	h.step()
	assert.Empty(t, h.pair.AggrOrders(), "Safe mode must not let covers out")
	assert.True(t, h.eng.Stopping())
}

func TestRiskBreachStopsEngine(t *testing.T) {
	h := newHarness(t, func(pc *config.PairConfig) {
		pc.PassPosSoftLimit = 1 // engine registers limit 4x
	})
	h.warmBooks()

	// the first fill blows straight through the hard limit
	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	h.omc.Fill(bid, bid.Px(), 1)
	h.step()
	h.step()

	assert.True(t, h.eng.Stopping(), "Risk breach must wind the engine down")
}

func TestUnknownPairIDWindsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	// an order whose payload names a pair the engine never built, as a
	// corrupted venue echo would
	stray, err := h.omc.NewOrder(context.Background(), oms.NewOrderReq{
		SecID: passSec, Symbol: "PASS", IsBuy: true, Px: 9.99, Qty: 1,
		UserData: &OrderInfo{PairID: 42},
	})
	require.NoError(t, err)
	h.step()

	require.NotPanics(t, func() {
		h.omc.Fill(stray, 9.99, 1)
		h.step()
	})
	assert.True(t, h.eng.Stopping(), "Corrupted payload must stop the engine")
}

func TestOrderInfoRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	info := infoOf(bid)
	require.NotNil(t, info)
	assert.False(t, info.IsAggr)
	assert.InDelta(t, bid.Px(), info.ExpPassPx, 1e-9)
	assert.InDelta(t, 10.0, info.ExpAggrPxNew*h.pair.cfg.AggrQtyFact, 1e-3)
}

func TestTradingWindowClosesQuoting(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()
	require.NotNil(t, h.pair.Quote(book.Bid))

	h.pair.enabledUntil = time.Now().Add(-time.Minute)
	assert.False(t, h.pair.Enabled(time.Now()))

	// the per-pair gate withdraws the quotes on the next cycle
	h.pair.DoQuotes(time.Now())
	h.step()
	assert.Nil(t, h.pair.Quote(book.Bid), "Past the cutoff the quotes come down")
	assert.Nil(t, h.pair.Quote(book.Ask))

	// and with every pair past its window the engine winds down
	assert.True(t, h.eng.EvalStopConds(time.Now()))
	assert.True(t, h.eng.Stopping())
}

func TestModifyFailureFallsBackToCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)

	h.omc.FailNext(oms.Recoverable(77, "modify window closed"))
	err := h.pair.ModifyQuoteSafe(bid, bid.Px()+0.001, bid.Qty(), false)
	require.Error(t, err)
	assert.True(t, bid.IsCxlPending(), "Failed modify falls back to cancel")

	h.step()
	assert.True(t, bid.IsInactive())
}

func TestFailedRepriceKeepsQuotePayload(t *testing.T) {
	h := newHarness(t, nil)
	h.warmBooks()

	bid := h.pair.Quote(book.Bid)
	require.NotNil(t, bid)
	info := infoOf(bid)
	require.NotNil(t, info)
	expPass := info.ExpPassPx
	expAggr := info.ExpAggrPxNew

	// the market moves but the reprice bounces: the payload must keep
	// describing the order that is actually resting, since the cover
	// for any fill on it prices off these figures
	h.omc.FailNext(oms.Recoverable(77, "modify window closed"))
	h.pushBooks(10.0067, 10.0077, 1.0005, 1.0009)

	assert.Equal(t, expPass, info.ExpPassPx, "Rejected reprice must not roll expectations")
	assert.Equal(t, expAggr, info.ExpAggrPxNew)
	assert.True(t, bid.IsInactive(), "Failed modify falls back to cancel")
}

func TestSelfCrossNudgeSanity(t *testing.T) {
	h := newHarness(t, nil)

	bid := quoteDecision{px: math.NaN()}
	ask := quoteDecision{px: 10.0, qty: 1}
	h.pair.avoidSelfCross(&bid, &ask)
	assert.Equal(t, 10.0, ask.px, "One-sided decision is untouched")
}
