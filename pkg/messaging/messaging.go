package messaging

import (
	"context"

	"github.com/nikolaydubina/fpdecimal"
)

// MessageSender defines an interface for publishing execution reports.
// This decouples the strategy core from the concrete transport (Kafka
// in production, a mock in tests).
type MessageSender interface {
	SendExecutionReport(ctx context.Context, report *ExecutionReport) error
	Close() error
}

// ExecutionReport is the drop-copy record of one order event: a fill,
// a cancel or a terminal rejection.
type ExecutionReport struct {
	AOSID    uint64 `json:"aosId"`
	ClientID string `json:"clientId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Event    string `json:"event"` // FILL, CANCEL, REJECT
	Px       string `json:"px"`
	Qty      string `json:"qty"`
	CumQty   string `json:"cumQty"`
	PairID   int    `json:"pairId"`
	TsNanos  int64  `json:"tsNanos"`
}

// Execution report event kinds
const (
	EventFill   = "FILL"
	EventCancel = "CANCEL"
	EventReject = "REJECT"
)

// FormatPx renders a price for the report with fixed 3-decimal precision
func FormatPx(px float64) string {
	return fpdecimal.FromFloat(px).String()
}

// FormatQty renders a quantity for the report with fixed 3-decimal
// precision
func FormatQty(qty float64) string {
	return fpdecimal.FromFloat(qty).String()
}
