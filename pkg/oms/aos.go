package oms

import (
	"fmt"
	"time"
)

// AOSID identifies one active order state for the life of the process
type AOSID uint64

// State is the order lifecycle state reported by the owning connector
type State int

// Order lifecycle states
const (
	StateNew State = iota
	StateConfirmed
	StatePartFilled
	StateFilled
	StateCancelled
	StateRejected
)

// String returns state as string
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConfirmed:
		return "CONFIRMED"
	case StatePartFilled:
		return "PART_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state ends the order lifecycle
func (s State) IsTerminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// AOS is the order-management layer's persistent handle for one logical
// order from New through to an inactive state. The owning connector
// holds the only ownership; strategies keep non-owning pointers whose
// validity is guaranteed until IsInactive reports true.
type AOS struct {
	id       AOSID
	secID    int
	symbol   string
	isBuy    bool
	omc      OrderConnector
	clientID string

	px  float64
	qty float64

	cumQty float64
	state  State

	inactive   bool
	cxlPending bool

	lastReq *Req
	created time.Time

	// UserData is the strategy-attached opaque payload, set once at
	// order creation and mutated in place by later modifies. The order
	// layer never inspects it.
	UserData any
}

// ID returns the AOS identifier
func (a *AOS) ID() AOSID { return a.id }

// SecID returns the instrument ID the order rests on
func (a *AOS) SecID() int { return a.secID }

// Symbol returns the instrument symbol
func (a *AOS) Symbol() string { return a.symbol }

// IsBuy reports the order side
func (a *AOS) IsBuy() bool { return a.isBuy }

// OMC returns the owning order connector
func (a *AOS) OMC() OrderConnector { return a.omc }

// ClientID returns the client order ID sent on the wire
func (a *AOS) ClientID() string { return a.clientID }

// Px returns the current limit price
func (a *AOS) Px() float64 { return a.px }

// Qty returns the current order quantity
func (a *AOS) Qty() float64 { return a.qty }

// CumQty returns the cumulative filled quantity
func (a *AOS) CumQty() float64 { return a.cumQty }

// LeavesQty returns the remaining open quantity
func (a *AOS) LeavesQty() float64 {
	if a.inactive {
		return 0
	}
	return a.qty - a.cumQty
}

// State returns the lifecycle state
func (a *AOS) State() State { return a.state }

// IsInactive reports whether the order reached a terminal state
func (a *AOS) IsInactive() bool { return a.inactive }

// IsCxlPending reports whether a cancel or modify is in flight. While
// set, no further cancel/modify may be issued for this order.
func (a *AOS) IsCxlPending() bool { return a.cxlPending }

// LastReq returns the most recent outbound request for this order
func (a *AOS) LastReq() *Req { return a.lastReq }

// Created returns the AOS creation time
func (a *AOS) Created() time.Time { return a.created }

// String implements fmt.Stringer
func (a *AOS) String() string {
	side := "SELL"
	if a.isBuy {
		side = "BUY"
	}
	return fmt.Sprintf("AOS{id=%d %s %s px=%.5f qty=%.2f cum=%.2f state=%s}",
		a.id, a.symbol, side, a.px, a.qty, a.cumQty, a.state)
}

// The mutators below are invoked by the owning connector only, from the
// single strategy thread.

// Confirm marks the order (or an in-flight modify) accepted by the venue
func (a *AOS) Confirm(px, qty float64) {
	if a.inactive {
		return
	}
	a.px = px
	a.qty = qty
	if a.state == StateNew {
		a.state = StateConfirmed
	}
	a.cxlPending = false
}

// ApplyFill credits a (partial) fill. A fill bringing cumQty to the
// order quantity terminates the order.
func (a *AOS) ApplyFill(qty float64) {
	if a.inactive {
		return
	}
	a.cumQty += qty
	if a.cumQty >= a.qty {
		a.state = StateFilled
		a.inactive = true
		a.cxlPending = false
	} else {
		a.state = StatePartFilled
	}
}

// ConfirmCancel terminates the order on a cancel confirmation
func (a *AOS) ConfirmCancel() {
	if a.inactive {
		return
	}
	a.state = StateCancelled
	a.inactive = true
	a.cxlPending = false
}

// Reject terminates the order on a terminal rejection
func (a *AOS) Reject() {
	if a.inactive {
		return
	}
	a.state = StateRejected
	a.inactive = true
	a.cxlPending = false
}

// SetCxlPending arms the cancel/replace race guard
func (a *AOS) SetCxlPending() { a.cxlPending = true }

// ClearCxlPending releases the guard after a failed request, so the
// strategy may retry.
func (a *AOS) ClearCxlPending() { a.cxlPending = false }
