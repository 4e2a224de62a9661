package book

import (
	"time"

	"github.com/rs/zerolog/log"
)

// UpdateKind selects which book entry point a buffered update targets
type UpdateKind int

// Buffered update kinds
const (
	KindLevel UpdateKind = iota
	KindOrderNew
	KindOrderModify
	KindOrderDelete
	KindClear
)

// BufferedUpdate is one incremental market-data update keyed by its
// channel sequence number.
type BufferedUpdate struct {
	Seq      SeqNum
	Kind     UpdateKind
	IsBid    bool
	Px       float64
	Qty      float64
	OrderID  uint64
	InitMode bool // snapshot replay rather than live update
	TsExch   time.Time
	TsRecv   time.Time
}

// ApplyFunc is invoked exactly once per sequence number, in increasing
// order.
type ApplyFunc func(upd BufferedUpdate)

// SeqNumBuffer orders gap-prone incremental updates before they reach
// the book: updates arriving ahead of the expected sequence number are
// held back and replayed once the gap fills, exact-sequence duplicates
// are suppressed, and overflow of the holding buffer is reported as a
// hard resync requirement.
type SeqNumBuffer struct {
	next     SeqNum
	capacity int
	pending  map[SeqNum]BufferedUpdate
	apply    ApplyFunc

	dups     uint64
	buffered uint64
	resyncs  uint64
}

// NewSeqNumBuffer creates a buffer expecting the given first sequence
// number.
func NewSeqNumBuffer(next SeqNum, capacity int, apply ApplyFunc) *SeqNumBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &SeqNumBuffer{
		next:     next,
		capacity: capacity,
		pending:  make(map[SeqNum]BufferedUpdate),
		apply:    apply,
	}
}

// Next returns the next expected sequence number
func (sb *SeqNumBuffer) Next() SeqNum { return sb.next }

// Pending returns the number of held-back updates
func (sb *SeqNumBuffer) Pending() int { return len(sb.pending) }

// Stats returns duplicate, buffered and resync counters
func (sb *SeqNumBuffer) Stats() (dups, buffered, resyncs uint64) {
	return sb.dups, sb.buffered, sb.resyncs
}

// Push hands one update to the buffer. In-order updates are applied
// immediately, followed by any directly-following held updates. Returns
// ErrResyncRequired when the holding buffer overflowed, after which the
// caller must re-request a snapshot and Reset.
func (sb *SeqNumBuffer) Push(upd BufferedUpdate) error {
	switch {
	case upd.Seq < sb.next:
		// Already applied, duplicate delivery from the transport.
		sb.dups++
		return nil

	case upd.Seq > sb.next:
		if _, held := sb.pending[upd.Seq]; held {
			sb.dups++
			return nil
		}
		if len(sb.pending) >= sb.capacity {
			sb.resyncs++
			log.Warn().
				Uint64("expected", uint64(sb.next)).
				Uint64("got", uint64(upd.Seq)).
				Int("pending", len(sb.pending)).
				Msg("Sequence buffer overflow, resync required")
			return ErrResyncRequired
		}
		sb.pending[upd.Seq] = upd
		sb.buffered++
		return nil
	}

	sb.apply(upd)
	sb.next++

	// Drain any directly-following held updates.
	for {
		held, ok := sb.pending[sb.next]
		if !ok {
			return nil
		}
		delete(sb.pending, sb.next)
		sb.apply(held)
		sb.next++
	}
}

// Reset drops all held updates and re-arms the buffer at the given
// sequence number, used after a snapshot re-request.
func (sb *SeqNumBuffer) Reset(next SeqNum) {
	sb.next = next
	for seq := range sb.pending {
		delete(sb.pending, seq)
	}
}
