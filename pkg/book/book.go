package book

import (
	"math"
	"time"
)

// Side represents the bid or ask side of a book
type Side int

// Book sides
const (
	Bid Side = iota
	Ask
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// SeqNum is a per-channel monotonic update sequence number
type SeqNum uint64

// Entry is one aggregated price level
type Entry struct {
	Px  float64
	Qty float64
}

// OrderRef records one resting order for order-level (non-aggregated) feeds
type OrderRef struct {
	Side Side
	Px   float64
	Qty  float64
}

// Action selects the explicit-level update variant used for snapshot replay
type Action int

// Explicit level actions
const (
	ActionNew Action = iota
	ActionChange
	ActionDelete
)

// Book maintains a locally-consistent view of one instrument's resting
// liquidity. Bids are kept in descending, asks in ascending price order,
// truncated to MaxDepth levels.
//
// The book is up to date iff 0 < lastUpdate <= upToDateAs. Every update
// attempt advances lastUpdate; only a successful update (or an external
// SetUpToDateAs) advances upToDateAs, so the two diverging signals a
// needed re-sync.
type Book struct {
	secID    int
	symbol   string
	maxDepth int
	pxStep   float64

	bids []Entry
	asks []Entry

	orders map[uint64]OrderRef

	lastUpdate SeqNum
	upToDateAs SeqNum
	lastTsExch time.Time
	lastTsRecv time.Time

	stats Stats
}

// New creates an empty book for one instrument.
func New(secID int, symbol string, maxDepth int, pxStep float64) *Book {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &Book{
		secID:    secID,
		symbol:   symbol,
		maxDepth: maxDepth,
		pxStep:   pxStep,
		bids:     make([]Entry, 0, maxDepth),
		asks:     make([]Entry, 0, maxDepth),
		orders:   make(map[uint64]OrderRef),
		stats:    NewStats(DefaultStatsWindow),
	}
}

// SecID returns the instrument ID
func (b *Book) SecID() int { return b.secID }

// Symbol returns the instrument symbol
func (b *Book) Symbol() string { return b.symbol }

// MaxDepth returns the configured depth cap
func (b *Book) MaxDepth() int { return b.maxDepth }

// PxStep returns the instrument price step
func (b *Book) PxStep() float64 { return b.pxStep }

// LastUpdate returns the sequence number of the last update attempt
func (b *Book) LastUpdate() SeqNum { return b.lastUpdate }

// UpToDateAs returns the sequence number through which the book is
// known-consistent
func (b *Book) UpToDateAs() SeqNum { return b.upToDateAs }

// LastTimes returns the exchange and receive timestamps of the last update
func (b *Book) LastTimes() (tsExch, tsRecv time.Time) {
	return b.lastTsExch, b.lastTsRecv
}

// IsUpToDate reports whether the book can be trusted for quoting.
func (b *Book) IsUpToDate() bool {
	return 0 < b.lastUpdate && b.lastUpdate <= b.upToDateAs
}

// SetUpToDateAs records an externally-confirmed consistency point, e.g.
// after the reconciliation layer has replayed a snapshot.
func (b *Book) SetUpToDateAs(seq SeqNum) {
	if seq > b.upToDateAs {
		b.upToDateAs = seq
	}
}

// IsReady reports whether both sides are populated and consistent, the
// gate used before any quoting acts on this instrument.
func (b *Book) IsReady() bool {
	return len(b.bids) != 0 && len(b.asks) != 0 && b.IsUpToDate()
}

// Bids returns the bid levels, best first. The slice aliases internal
// state and must not be retained across updates.
func (b *Book) Bids() []Entry { return b.bids }

// Asks returns the ask levels, best first.
func (b *Book) Asks() []Entry { return b.asks }

// Depth returns the current number of levels on the given side
func (b *Book) Depth(side Side) int {
	if side == Bid {
		return len(b.bids)
	}
	return len(b.asks)
}

// BestBid returns the top bid level, false if the side is empty
func (b *Book) BestBid() (Entry, bool) {
	if len(b.bids) == 0 {
		return Entry{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the top ask level, false if the side is empty
func (b *Book) BestAsk() (Entry, bool) {
	if len(b.asks) == 0 {
		return Entry{}, false
	}
	return b.asks[0], true
}

// BidPx returns the best bid price, NaN when the side is empty.
func (b *Book) BidPx() float64 {
	if len(b.bids) == 0 {
		return math.NaN()
	}
	return b.bids[0].Px
}

// AskPx returns the best ask price, NaN when the side is empty.
func (b *Book) AskPx() float64 {
	if len(b.asks) == 0 {
		return math.NaN()
	}
	return b.asks[0].Px
}

// MidPx returns the mid price, NaN when either side is empty.
func (b *Book) MidPx() float64 {
	return (b.BidPx() + b.AskPx()) / 2
}

// BestPx returns the best price on the given side, NaN when empty.
func (b *Book) BestPx(side Side) float64 {
	if side == Bid {
		return b.BidPx()
	}
	return b.AskPx()
}

// Stats returns the per-book volatility/pressure estimators
func (b *Book) Stats() *Stats { return &b.stats }

// side returns the level slice for one side
func (b *Book) side(isBid bool) []Entry {
	if isBid {
		return b.bids
	}
	return b.asks
}

func (b *Book) setSide(isBid bool, levels []Entry) {
	if isBid {
		b.bids = levels
	} else {
		b.asks = levels
	}
}

// better reports whether px a is strictly better than b on this side
func better(isBid bool, a, b float64) bool {
	if isBid {
		return a > b
	}
	return a < b
}

// findLevel locates the exact price on one side, or the insertion index
// with found=false.
func (b *Book) findLevel(isBid bool, px float64) (idx int, found bool) {
	levels := b.side(isBid)
	for i, e := range levels {
		if pxEqual(e.Px, px, b.pxStep) {
			return i, true
		}
		if better(isBid, px, e.Px) {
			return i, false
		}
	}
	return len(levels), false
}

// pxEqual compares prices with half-step tolerance
func pxEqual(a, b, step float64) bool {
	if step <= 0 {
		return a == b
	}
	return math.Abs(a-b) < step/2
}

// stamp records an update attempt; success additionally confirms
// consistency through seq.
func (b *Book) stamp(seq SeqNum, success bool, tsExch, tsRecv time.Time) {
	if seq > b.lastUpdate {
		b.lastUpdate = seq
	}
	if success && seq > b.upToDateAs {
		b.upToDateAs = seq
	}
	if !tsExch.IsZero() {
		b.lastTsExch = tsExch
	}
	if !tsRecv.IsZero() {
		b.lastTsRecv = tsRecv
	}
}

// Update applies one dynamic-level update: New, Change or Delete is
// derived from whether qty is zero and whether the exact price already
// exists. Returns the affected level index, or -1 when the update could
// not be applied (price out of configured depth, delete of an unknown
// level). A failed update advances lastUpdate only, so IsUpToDate turns
// false until a corrective re-sync.
func (b *Book) Update(isBid bool, px, qty float64, seq SeqNum, tsExch, tsRecv time.Time) int {
	if px <= 0 || math.IsNaN(px) || qty < 0 || math.IsNaN(qty) {
		b.stamp(seq, false, tsExch, tsRecv)
		return -1
	}
	idx, found := b.findLevel(isBid, px)
	levels := b.side(isBid)

	switch {
	case qty == 0:
		// Delete
		if !found {
			b.stamp(seq, false, tsExch, tsRecv)
			return -1
		}
		levels = append(levels[:idx], levels[idx+1:]...)
		b.setSide(isBid, levels)

	case found:
		// Change
		levels[idx].Qty = qty

	default:
		// New
		if idx >= b.maxDepth {
			b.stamp(seq, false, tsExch, tsRecv)
			return -1
		}
		levels = append(levels, Entry{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = Entry{Px: px, Qty: qty}
		if len(levels) > b.maxDepth {
			levels = levels[:b.maxDepth]
		}
		b.setSide(isBid, levels)
	}

	b.stamp(seq, true, tsExch, tsRecv)
	b.updateStats()
	return idx
}

// UpdateLevel applies one explicit-level update, the variant used for
// snapshot replay where the feed names the level index directly. Same
// success/failure contract as Update.
func (b *Book) UpdateLevel(isBid bool, level int, action Action, px, qty float64, seq SeqNum, tsExch, tsRecv time.Time) int {
	levels := b.side(isBid)

	switch action {
	case ActionNew:
		if level < 0 || level > len(levels) || level >= b.maxDepth || px <= 0 {
			b.stamp(seq, false, tsExch, tsRecv)
			return -1
		}
		levels = append(levels, Entry{})
		copy(levels[level+1:], levels[level:])
		levels[level] = Entry{Px: px, Qty: qty}
		if len(levels) > b.maxDepth {
			levels = levels[:b.maxDepth]
		}
		b.setSide(isBid, levels)

	case ActionChange:
		if level < 0 || level >= len(levels) || !pxEqual(levels[level].Px, px, b.pxStep) {
			b.stamp(seq, false, tsExch, tsRecv)
			return -1
		}
		levels[level].Qty = qty

	case ActionDelete:
		if level < 0 || level >= len(levels) {
			b.stamp(seq, false, tsExch, tsRecv)
			return -1
		}
		levels = append(levels[:level], levels[level+1:]...)
		b.setSide(isBid, levels)

	default:
		b.stamp(seq, false, tsExch, tsRecv)
		return -1
	}

	b.stamp(seq, true, tsExch, tsRecv)
	b.updateStats()
	return level
}

// Clear resets the book at a normal boundary, e.g. a trading-session
// break. Always succeeds.
func (b *Book) Clear(seq SeqNum) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for id := range b.orders {
		delete(b.orders, id)
	}
	b.stamp(seq, true, time.Time{}, time.Time{})
}

// Invalidate clears the book and marks it explicitly stale, used on
// connector restart or detected inconsistency. The book stays not up to
// date until a snapshot replay confirms a new consistency point.
func (b *Book) Invalidate(seq SeqNum) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for id := range b.orders {
		delete(b.orders, id)
	}
	if seq > b.lastUpdate {
		b.lastUpdate = seq
	}
	b.upToDateAs = 0
	b.stats.Reset()
}

// Traverse visits up to depth levels of one side in best-to-worst order.
// The visitor returns false to stop early.
func (b *Book) Traverse(side Side, depth int, visit func(Entry) bool) {
	levels := b.side(side == Bid)
	if depth <= 0 || depth > len(levels) {
		depth = len(levels)
	}
	for i := 0; i < depth; i++ {
		if !visit(levels[i]) {
			return
		}
	}
}

// updateStats feeds the estimators, but only from an uncrossed book so a
// transient bid/ask crossing cannot corrupt the volatility estimate.
func (b *Book) updateStats() {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if okB && okA && bid.Px >= ask.Px {
		return
	}
	if okB {
		b.stats.OnBestPx(Bid, bid.Px)
	}
	if okA {
		b.stats.OnBestPx(Ask, ask.Px)
	}
}
