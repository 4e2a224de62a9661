package book

import (
	"math"
	"time"
)

// Order-ID API for order-level (non-aggregated) feeds. The per-order map
// is maintained in parallel with the aggregated level arrays: every
// order mutation is folded into its price level so the level view stays
// usable for VWAP and traversal.

// NewOrder inserts one resting order and adds its quantity to the level.
// Returns the affected level index, -1 on failure (duplicate ID, price
// out of depth).
func (b *Book) NewOrder(orderID uint64, isBid bool, px, qty float64, seq SeqNum, tsExch, tsRecv time.Time) int {
	if _, exists := b.orders[orderID]; exists {
		b.stamp(seq, false, tsExch, tsRecv)
		return -1
	}
	idx := b.addToLevel(isBid, px, qty, seq, tsExch, tsRecv)
	if idx < 0 {
		return -1
	}
	side := Ask
	if isBid {
		side = Bid
	}
	b.orders[orderID] = OrderRef{Side: side, Px: px, Qty: qty}
	return idx
}

// ModifyOrder moves or resizes one resting order. Returns the affected
// level index of the new position, -1 when the order is unknown.
func (b *Book) ModifyOrder(orderID uint64, newPx, newQty float64, seq SeqNum, tsExch, tsRecv time.Time) int {
	ref, exists := b.orders[orderID]
	if !exists {
		b.stamp(seq, false, tsExch, tsRecv)
		return -1
	}
	isBid := ref.Side == Bid
	b.removeFromLevel(isBid, ref.Px, ref.Qty)
	idx := b.addToLevel(isBid, newPx, newQty, seq, tsExch, tsRecv)
	if idx < 0 {
		// Level insertion rejected the new price; the order is gone from
		// the aggregated view, drop it from the map too.
		delete(b.orders, orderID)
		return -1
	}
	ref.Px, ref.Qty = newPx, newQty
	b.orders[orderID] = ref
	return idx
}

// DeleteOrder removes one resting order, reporting what was deleted for
// diagnostics. ok is false when the order is unknown.
func (b *Book) DeleteOrder(orderID uint64, seq SeqNum, tsExch, tsRecv time.Time) (OrderRef, bool) {
	ref, exists := b.orders[orderID]
	if !exists {
		b.stamp(seq, false, tsExch, tsRecv)
		return OrderRef{}, false
	}
	delete(b.orders, orderID)
	b.removeFromLevel(ref.Side == Bid, ref.Px, ref.Qty)
	b.stamp(seq, true, tsExch, tsRecv)
	b.updateStats()
	return ref, true
}

// UpsertOrder inserts the order if unknown, otherwise modifies it in
// place. Used by feeds that do not distinguish add from replace.
func (b *Book) UpsertOrder(orderID uint64, isBid bool, px, qty float64, seq SeqNum, tsExch, tsRecv time.Time) int {
	if _, exists := b.orders[orderID]; exists {
		return b.ModifyOrder(orderID, px, qty, seq, tsExch, tsRecv)
	}
	return b.NewOrder(orderID, isBid, px, qty, seq, tsExch, tsRecv)
}

// GetOrderRef returns the tracked state of one resting order
func (b *Book) GetOrderRef(orderID uint64) (OrderRef, bool) {
	ref, ok := b.orders[orderID]
	return ref, ok
}

// NumOrders returns the number of tracked resting orders
func (b *Book) NumOrders() int { return len(b.orders) }

// addToLevel folds qty into the level at px, creating it when absent.
func (b *Book) addToLevel(isBid bool, px, qty float64, seq SeqNum, tsExch, tsRecv time.Time) int {
	if px <= 0 || math.IsNaN(px) || qty <= 0 || math.IsNaN(qty) {
		b.stamp(seq, false, tsExch, tsRecv)
		return -1
	}
	idx, found := b.findLevel(isBid, px)
	if found {
		levels := b.side(isBid)
		levels[idx].Qty += qty
		b.stamp(seq, true, tsExch, tsRecv)
		b.updateStats()
		return idx
	}
	return b.Update(isBid, px, qty, seq, tsExch, tsRecv)
}

// removeFromLevel subtracts qty from the level at px, deleting the level
// when it empties. Unknown prices are tolerated: the order map is
// authoritative for order-level feeds and a truncated level may already
// have fallen off the configured depth.
func (b *Book) removeFromLevel(isBid bool, px, qty float64) {
	idx, found := b.findLevel(isBid, px)
	if !found {
		return
	}
	levels := b.side(isBid)
	levels[idx].Qty -= qty
	if levels[idx].Qty <= 0 {
		levels = append(levels[:idx], levels[idx+1:]...)
		b.setSide(isBid, levels)
	}
}
