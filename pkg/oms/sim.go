package oms

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erain9/pairflow/pkg/book"
)

// SimConnector is an in-memory order connector used by package tests and
// the replay tool. Requests complete synchronously into an event queue;
// Deliver drains the queue through the Callbacks interface, modelling
// the asynchronous completions of a real venue without any network.
type SimConnector struct {
	name     string
	cb       Callbacks
	throttle *Throttle

	active  bool
	nextAOS AOSID
	nextReq uint64
	orders  map[AOSID]*AOS

	books map[int]*book.Book // optional, for crossing fills

	queue   []func()
	pending int // buffered requests awaiting flush

	failNext error
}

// NewSimConnector creates a simulated connector with the given outbound
// rate guard (nil for unlimited).
func NewSimConnector(name string, throttle *Throttle) *SimConnector {
	if throttle == nil {
		throttle = NewThrottle(0, 0)
	}
	return &SimConnector{
		name:     name,
		throttle: throttle,
		nextAOS:  1,
		nextReq:  1,
		orders:   make(map[AOSID]*AOS),
		books:    make(map[int]*book.Book),
	}
}

// SetCallbacks wires the strategy engine sink
func (c *SimConnector) SetCallbacks(cb Callbacks) { c.cb = cb }

// SetBook attaches a reference book: aggressive orders crossing it fill
// immediately at book prices.
func (c *SimConnector) SetBook(secID int, b *book.Book) { c.books[secID] = b }

// FailNext makes the next order action fail with err, for error-path
// tests.
func (c *SimConnector) FailNext(err error) { c.failNext = err }

// Name implements OrderConnector
func (c *SimConnector) Name() string { return c.name }

// IsActive implements OrderConnector
func (c *SimConnector) IsActive() bool { return c.active }

// Start implements OrderConnector
func (c *SimConnector) Start() error {
	c.active = true
	return nil
}

// Stop implements OrderConnector
func (c *SimConnector) Stop() error {
	c.active = false
	return nil
}

// Orders returns all AOSes ever created, for test inspection
func (c *SimConnector) Orders() map[AOSID]*AOS { return c.orders }

func (c *SimConnector) takeFailure() error {
	err := c.failNext
	c.failNext = nil
	return err
}

// NewOrder implements OrderConnector
func (c *SimConnector) NewOrder(_ context.Context, req NewOrderReq) (*AOS, error) {
	if err := c.takeFailure(); err != nil {
		return nil, err
	}
	if !c.active {
		return nil, Recoverable(101, ErrNotConnected.Error())
	}
	if !c.throttle.Allow() {
		return nil, Recoverable(102, ErrRateLimited.Error())
	}
	if req.Qty <= 0 || math.IsNaN(req.Px) {
		return nil, Recoverable(103, "invalid price or quantity")
	}

	aos := &AOS{
		id:       c.nextAOS,
		secID:    req.SecID,
		symbol:   req.Symbol,
		isBuy:    req.IsBuy,
		omc:      c,
		clientID: NewClientOrderID(c.name),
		px:       req.Px,
		qty:      req.Qty,
		state:    StateNew,
		created:  time.Now(),
		UserData: req.UserData,
	}
	c.nextAOS++
	c.orders[aos.ID()] = aos

	r := c.newReq(ReqNew, aos, req.Px, req.Qty, req.Buffered)
	c.enqueue(func() {
		now := time.Now()
		aos.Confirm(r.Px, r.Qty)
		c.cb.OnConfirm(r, now, now)
		c.maybeCross(aos)
	})
	if !req.Buffered {
		c.FlushOrders()
	} else {
		c.pending++
	}
	return aos, nil
}

// CancelOrder implements OrderConnector
func (c *SimConnector) CancelOrder(_ context.Context, aos *AOS, buffered bool) error {
	if err := c.takeFailure(); err != nil {
		return err
	}
	if aos.IsInactive() {
		return ErrInactive
	}
	if aos.IsCxlPending() {
		return ErrCxlPending
	}
	aos.SetCxlPending()
	c.enqueue(func() {
		if aos.IsInactive() {
			return
		}
		now := time.Now()
		aos.ConfirmCancel()
		c.cb.OnCancel(aos, now, now)
	})
	if !buffered {
		c.FlushOrders()
	} else {
		c.pending++
	}
	return nil
}

// ModifyOrder implements OrderConnector
func (c *SimConnector) ModifyOrder(_ context.Context, aos *AOS, newPx, newQty float64, buffered bool) error {
	if err := c.takeFailure(); err != nil {
		return err
	}
	if aos.IsInactive() {
		return ErrInactive
	}
	if aos.IsCxlPending() {
		return ErrCxlPending
	}
	if math.IsNaN(newPx) || newQty <= 0 {
		return Recoverable(103, "invalid price or quantity")
	}
	aos.SetCxlPending()
	r := c.newReq(ReqModify, aos, newPx, newQty, buffered)
	c.enqueue(func() {
		if aos.IsInactive() {
			return
		}
		now := time.Now()
		aos.Confirm(r.Px, r.Qty)
		c.cb.OnConfirm(r, now, now)
		c.maybeCross(aos)
	})
	if !buffered {
		c.FlushOrders()
	} else {
		c.pending++
	}
	return nil
}

// FlushOrders implements OrderConnector. The simulated transport has no
// real send buffer, so flushing only stamps the round trip.
func (c *SimConnector) FlushOrders() time.Time {
	c.pending = 0
	return time.Now()
}

// Deliver drains queued completions through the callbacks, in order.
// Tests and the replay loop call this to model the next reactor turn.
func (c *SimConnector) Deliver() {
	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue = c.queue[1:]
		ev()
	}
}

// Fill force-fills qty of a live order at px, a test hook standing in
// for a passive execution on the venue.
func (c *SimConnector) Fill(aos *AOS, px, qty float64) {
	c.enqueue(func() {
		if aos.IsInactive() {
			return
		}
		now := time.Now()
		aos.ApplyFill(qty)
		c.cb.OnOurTrade(TradeUpdate{AOS: aos, Px: px, Qty: qty, TsExch: now, TsRecv: now})
	})
}

// RejectNext queues a terminal rejection for the given order
func (c *SimConnector) RejectOrder(aos *AOS, code int, text string) {
	c.enqueue(func() {
		if aos.IsInactive() {
			return
		}
		now := time.Now()
		aos.Reject()
		c.cb.OnOrderError(aos.LastReq(), code, text, false, now, now)
	})
}

func (c *SimConnector) newReq(kind ReqKind, aos *AOS, px, qty float64, buffered bool) *Req {
	r := &Req{
		ID:       c.nextReq,
		Kind:     kind,
		AOS:      aos,
		Px:       px,
		Qty:      qty,
		Buffered: buffered,
		Created:  time.Now(),
	}
	c.nextReq++
	aos.lastReq = r
	return r
}

func (c *SimConnector) enqueue(ev func()) {
	if c.cb == nil {
		log.Panic().Str("connector", c.name).Msg("SimConnector used before SetCallbacks")
	}
	c.queue = append(c.queue, ev)
}

// maybeCross fills the order against the attached reference book when
// its limit price crosses the opposite side.
func (c *SimConnector) maybeCross(aos *AOS) {
	b, ok := c.books[aos.SecID()]
	if !ok || aos.IsInactive() {
		return
	}
	opp := book.Ask
	crosses := func(level float64) bool { return aos.Px() >= level }
	if !aos.IsBuy() {
		opp = book.Bid
		crosses = func(level float64) bool { return aos.Px() <= level }
	}

	leaves := aos.LeavesQty()
	var fills []book.Entry
	b.Traverse(opp, 0, func(e book.Entry) bool {
		if !crosses(e.Px) || leaves <= 0 {
			return false
		}
		take := math.Min(leaves, e.Qty)
		fills = append(fills, book.Entry{Px: e.Px, Qty: take})
		leaves -= take
		return leaves > 0
	})
	for _, f := range fills {
		now := time.Now()
		aos.ApplyFill(f.Qty)
		c.cb.OnOurTrade(TradeUpdate{AOS: aos, Px: f.Px, Qty: f.Qty, TsExch: now, TsRecv: now})
	}
}
