package oms

import "time"

// ReqKind distinguishes the outbound request types
type ReqKind int

// Request kinds
const (
	ReqNew ReqKind = iota
	ReqCancel
	ReqModify
)

// String returns kind as string
func (k ReqKind) String() string {
	switch k {
	case ReqNew:
		return "NEW"
	case ReqCancel:
		return "CANCEL"
	case ReqModify:
		return "MODIFY"
	default:
		return "UNKNOWN"
	}
}

// Req records one outbound order action. Confirmations and errors from
// the venue reference the request that caused them, so the strategy can
// correlate asynchronous outcomes with what it actually sent.
type Req struct {
	ID       uint64
	Kind     ReqKind
	AOS      *AOS
	Px       float64
	Qty      float64
	Buffered bool
	Created  time.Time
}

// NewOrderReq carries all parameters of one order submission
type NewOrderReq struct {
	SecID    int
	Symbol   string
	IsBuy    bool
	Px       float64
	Qty      float64
	IsAggr   bool
	Buffered bool
	TIF      TIF
	UserData any
}

// TIF represents the time-in-force parameter
type TIF string

// Order time-in-force values
const (
	GTC TIF = "GTC"
	IOC TIF = "IOC"
)
