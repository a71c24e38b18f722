package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Order sides and statuses as reported by the exchange.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"

	OrderStatusNew             = "New"
	OrderStatusPartiallyFilled = "PartiallyFilled"
	OrderStatusFilled          = "Filled"
	OrderStatusCanceled        = "Canceled"
	OrderStatusRejected        = "Rejected"

	// ExecInstPostOnly instructs the exchange to reject the order instead of
	// letting it take liquidity.
	ExecInstPostOnly = "ParticipateDoNotInitiate"
)

// Order represents a resting limit order on the exchange.
// Identity is the exchange-assigned OrderID; ClOrdID carries this agent's
// prefix so foreign orders on the same account are never touched.
type Order struct {
	OrderID   string          `json:"orderID"`
	ClOrdID   string          `json:"clOrdID"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	OrderQty  int64           `json:"orderQty"`
	LeavesQty int64           `json:"leavesQty"`
	OrdStatus string          `json:"ordStatus"`
	Text      string          `json:"text"`
}

// IsOpen checks if the order still has unfilled quantity.
func (o *Order) IsOpen() bool {
	return o.LeavesQty > 0 && !o.IsTerminal()
}

// IsTerminal checks if the order can no longer change.
func (o *Order) IsTerminal() bool {
	switch o.OrdStatus {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// IsOurs checks whether the order was placed by an agent using the given
// client order ID prefix.
func (o *Order) IsOurs(prefix string) bool {
	return prefix != "" && strings.HasPrefix(o.ClOrdID, prefix)
}
