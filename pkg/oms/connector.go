package oms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// OrderConnector is the outbound order-management API implemented by
// venue connectors and consumed by strategies. Every action is fallible:
// an error return means the order was not placed/cancelled/modified and
// no AOS-side state changed. Asynchronous completions (fills, confirms,
// cancel acks, errors) arrive later through the Callbacks interface.
type OrderConnector interface {
	Name() string
	IsActive() bool

	// NewOrder validates and enqueues one order. With buffered=true the
	// request stays in the send buffer until FlushOrders.
	NewOrder(ctx context.Context, req NewOrderReq) (*AOS, error)

	// CancelOrder requests cancellation of a live order
	CancelOrder(ctx context.Context, aos *AOS, buffered bool) error

	// ModifyOrder replaces price/quantity of a live order in place
	ModifyOrder(ctx context.Context, aos *AOS, newPx, newQty float64, buffered bool) error

	// FlushOrders sends all buffered requests in one network round trip
	// and returns the send timestamp.
	FlushOrders() time.Time

	Start() error
	Stop() error
}

// Callbacks is the order-management callback interface implemented by
// the strategy engine. All invocations happen on the single strategy
// thread.
type Callbacks interface {
	OnConfirm(req *Req, tsExch, tsRecv time.Time)
	OnOurTrade(tr TradeUpdate)
	OnCancel(aos *AOS, tsExch, tsRecv time.Time)
	OnOrderError(req *Req, errCode int, errText string, probablyFilled bool, tsExch, tsRecv time.Time)
}

// TradeUpdate reports one fill on one of our orders
type TradeUpdate struct {
	AOS    *AOS
	Px     float64
	Qty    float64
	TsExch time.Time
	TsRecv time.Time
}

// NewClientOrderID builds a wire client order ID unique across restarts
func NewClientOrderID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Throttle is a non-blocking token-bucket guard on outbound message
// rate. The reactor must never block, so an exhausted bucket fails the
// submission instead of waiting.
type Throttle struct {
	lim *rate.Limiter
}

// NewThrottle allows msgsPerSec sustained with the given burst.
// msgsPerSec <= 0 disables the guard.
func NewThrottle(msgsPerSec float64, burst int) *Throttle {
	if msgsPerSec <= 0 {
		return &Throttle{}
	}
	return &Throttle{lim: rate.NewLimiter(rate.Limit(msgsPerSec), burst)}
}

// Allow consumes one token, false when the rate is exceeded
func (t *Throttle) Allow() bool {
	if t.lim == nil {
		return true
	}
	return t.lim.Allow()
}
