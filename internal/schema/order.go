package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the FIX wire code for order direction.
type Side string

const (
	SideBuy  Side = "1"
	SideSell Side = "2"
)

func (s Side) IsAvailable() bool {
	return s == SideBuy || s == SideSell
}

// OrdType is the FIX wire code for order type.
type OrdType string

const (
	OrdTypeMarket OrdType = "1"
	OrdTypeLimit  OrdType = "2"
)

func (t OrdType) IsAvailable() bool {
	return t == OrdTypeMarket || t == OrdTypeLimit
}

// RequiresPrice reports whether the order type carries a limit price.
func (t OrdType) RequiresPrice() bool {
	return t == OrdTypeLimit
}

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusSent
	OrderStatusNew
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusPendingCancel
	OrderStatusPendingReplace
	OrderStatusReplaced
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSent:
		return "Sent"
	case OrderStatusNew:
		return "New"
	case OrderStatusPartialFill:
		return "PartialFill"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCanceled:
		return "Canceled"
	case OrderStatusRejected:
		return "Rejected"
	case OrderStatusPendingCancel:
		return "PendingCancel"
	case OrderStatusPendingReplace:
		return "PendingReplace"
	case OrderStatusReplaced:
		return "Replaced"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status accepts no further transitions.
// Replaced is terminal for the originating id; the chain continues under the
// replacement's client order id.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusReplaced:
		return true
	default:
		return false
	}
}

// Replaceable reports whether a cancel or replace may be requested.
func (s OrderStatus) Replaceable() bool {
	return s == OrderStatusNew || s == OrderStatusPartialFill
}

// Order is the registry's view of one order. Values handed to callers are
// copies; the registry owns the originals.
type Order struct {
	Session     string
	ClOrdID     string
	OrigClOrdID string
	OrderID     string

	Symbol string
	Side   Side
	Type   OrdType
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Tags   map[int]string

	Status    OrderStatus
	CumQty    decimal.Decimal
	AvgPx     decimal.Decimal
	LastExecID string
	Text      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Leaves is the quantity still working.
func (o *Order) Leaves() decimal.Decimal {
	return o.Qty.Sub(o.CumQty)
}
