package strategy

import (
	"unsafe"

	"github.com/erain9/pairflow/pkg/oms"
)

// AggrMode selects how aggressive (covering) orders are priced
type AggrMode uint8

// Aggressive order pricing modes
const (
	// DeepAggr prices far enough through the book to guarantee a fill
	DeepAggr AggrMode = iota
	// Pegged tracks the opposite side's best price
	Pegged
	// FixedPass holds the expected price adjusted by observed passive
	// slippage plus an extra markup
	FixedPass
)

// String returns mode as string
func (m AggrMode) String() string {
	switch m {
	case DeepAggr:
		return "DeepAggr"
	case Pegged:
		return "Pegged"
	case FixedPass:
		return "FixedPass"
	default:
		return "UNKNOWN"
	}
}

// ParseAggrMode converts the configuration string
func ParseAggrMode(s string) AggrMode {
	switch s {
	case "Pegged":
		return Pegged
	case "FixedPass":
		return FixedPass
	default:
		return DeepAggr
	}
}

// OrderInfo is the strategy payload attached to every AOS at creation
// and mutated in place on modifies. It carries the correlation data the
// callbacks need without the order layer knowing about pairs: which
// pair and leg the order belongs to, which passive order an aggressive
// order covers, and the expected-price bookkeeping for cover pricing.
type OrderInfo struct {
	IsAggr bool
	Mode   AggrMode
	PairID int32

	// RefAOSID is the passive AOS an aggressive order covers
	RefAOSID oms.AOSID

	// ExpPassPx is the passive price the quote was expected to fill at
	ExpPassPx float64
	// ExpAggrPxLast/New track the aggressive-leg VWAP expected at the
	// previous and the pending quote price
	ExpAggrPxLast float64
	ExpAggrPxNew  float64
	// PassSlip is the realized passive slippage carried into cover
	// pricing
	PassSlip float64
	// VWAPLots is the aggressive quantity band used for the VWAP
	VWAPLots float64
}

// The payload must fit the fixed inline user-data slot of the order
// layer.
const maxOrderInfoSize = 64

var _ [maxOrderInfoSize - unsafe.Sizeof(OrderInfo{})]byte

// infoOf extracts the payload from an AOS, nil when foreign or absent
func infoOf(aos *oms.AOS) *OrderInfo {
	if aos == nil {
		return nil
	}
	info, _ := aos.UserData.(*OrderInfo)
	return info
}
