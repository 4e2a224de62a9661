package connector

import (
	"fmt"
	"time"

	"github.com/erain9/pairflow/pkg/book"
)

func init() {
	Register("sim", func(name string, params map[string]string, cb MDCallbacks) (MarketDataConnector, error) {
		return NewSimFeed(name, cb), nil
	})
}

// SimFeed is an in-process market-data source driven by the caller.
// The replay harness and tests push levels through it; callbacks fire
// synchronously on the pushing goroutine.
type SimFeed struct {
	name   string
	cb     MDCallbacks
	books  map[int]*book.Book
	seqs   map[int]book.SeqNum
	active bool
}

// NewSimFeed builds a feed with no subscriptions
func NewSimFeed(name string, cb MDCallbacks) *SimFeed {
	return &SimFeed{
		name:  name,
		cb:    cb,
		books: make(map[int]*book.Book),
		seqs:  make(map[int]book.SeqNum),
	}
}

// Name returns the configured connector name
func (f *SimFeed) Name() string { return f.name }

// IsActive reports feed liveness
func (f *SimFeed) IsActive() bool { return f.active }

// Subscribe attaches a book for secID
func (f *SimFeed) Subscribe(secID int, b *book.Book) error {
	if _, dup := f.books[secID]; dup {
		return fmt.Errorf("duplicate subscription for sec %d", secID)
	}
	f.books[secID] = b
	return nil
}

// Start marks the feed active and announces it
func (f *SimFeed) Start() error {
	f.active = true
	if f.cb != nil {
		now := time.Now()
		f.cb.OnTradingEvent(f, true, 0, now, now)
	}
	return nil
}

// Stop marks the feed inactive
func (f *SimFeed) Stop() error {
	if !f.active {
		return nil
	}
	f.active = false
	if f.cb != nil {
		now := time.Now()
		f.cb.OnTradingEvent(f, false, 0, now, now)
	}
	return nil
}

// PushLevel applies one level change and fires the book callback
func (f *SimFeed) PushLevel(secID int, isBid bool, px, qty float64) {
	b, ok := f.books[secID]
	if !ok {
		return
	}
	now := time.Now()
	seq := f.nextSeq(secID)
	res := b.Update(isBid, px, qty, seq, now, now)
	if f.cb != nil {
		side := SideAsk
		if isBid {
			side = SideBid
		}
		f.cb.OnOrderBookUpdate(b, res < 0, side, now, now, time.Now())
	}
}

// PushSnapshot clears the book and loads both sides in one sequenced
// batch
func (f *SimFeed) PushSnapshot(secID int, bids, asks []book.Entry) {
	b, ok := f.books[secID]
	if !ok {
		return
	}
	now := time.Now()
	b.Clear(f.nextSeq(secID))
	for _, e := range bids {
		b.Update(true, e.Px, e.Qty, f.nextSeq(secID), now, now)
	}
	for _, e := range asks {
		b.Update(false, e.Px, e.Qty, f.nextSeq(secID), now, now)
	}
	b.SetUpToDateAs(f.seqs[secID])
	if f.cb != nil {
		f.cb.OnOrderBookUpdate(b, false, SideBid|SideAsk, now, now, time.Now())
	}
}

// PushTrade emits one public print
func (f *SimFeed) PushTrade(secID int, px, qty float64, isBuy bool) {
	if f.cb == nil {
		return
	}
	now := time.Now()
	f.cb.OnTradeUpdate(Trade{
		SecID: secID, Px: px, Qty: qty, IsBuy: isBuy,
		TsExch: now, TsRecv: now,
	})
}

// SetInstrumentActive fires a per-instrument trading event
func (f *SimFeed) SetInstrumentActive(secID int, active bool) {
	if f.cb == nil {
		return
	}
	now := time.Now()
	f.cb.OnTradingEvent(f, active, secID, now, now)
}

func (f *SimFeed) nextSeq(secID int) book.SeqNum {
	f.seqs[secID]++
	return f.seqs[secID]
}
