package domain

import (
	"github.com/shopspring/decimal"
)

// Instrument state as reported by the exchange.
const (
	InstrumentStateOpen   = "Open"
	InstrumentStateClosed = "Closed"
)

// Instrument represents a tradeable contract's details.
// It is replaced wholesale on every streaming instrument update.
type Instrument struct {
	Symbol     string          `json:"symbol"`
	State      string          `json:"state"`
	TickSize   decimal.Decimal `json:"tickSize"`
	Multiplier int64           `json:"multiplier"`
	InitMargin decimal.Decimal `json:"initMargin"`

	BidPrice  decimal.Decimal `json:"bidPrice"`
	AskPrice  decimal.Decimal `json:"askPrice"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	MidPrice  decimal.Decimal `json:"midPrice"`
	MarkPrice decimal.Decimal `json:"markPrice"`

	IsQuanto  bool `json:"isQuanto"`
	IsInverse bool `json:"isInverse"`

	// TickLog is the decimal precision derived from TickSize
	// (0.5 -> 1, 0.01 -> 2, 1 -> 0). Derived locally, not sent by the exchange.
	TickLog int32 `json:"-"`
}

// DeriveTickLog computes the rounding precision from the tick size.
func (i *Instrument) DeriveTickLog() {
	i.TickLog = -i.TickSize.Exponent()
	if i.TickLog < 0 {
		i.TickLog = 0
	}
}

// Round rounds a raw price to the instrument's tick precision.
func (i *Instrument) Round(price decimal.Decimal) decimal.Decimal {
	return price.Round(i.TickLog)
}

// IsOpen reports whether the instrument is accepting orders.
func (i *Instrument) IsOpen() bool {
	return i.State == InstrumentStateOpen
}

// Cost returns the notional cost of qty contracts at the given price.
// Quanto contracts scale linearly with price, inverse contracts inversely.
func (i *Instrument) Cost(qty int64, price decimal.Decimal) decimal.Decimal {
	mult := decimal.NewFromInt(i.Multiplier)
	var per decimal.Decimal
	if i.Multiplier >= 0 {
		per = mult.Mul(price)
	} else {
		per = mult.Div(price)
	}
	return per.Mul(decimal.NewFromInt(qty)).Abs()
}

// Margin returns the initial margin required for qty contracts at price.
func (i *Instrument) Margin(qty int64, price decimal.Decimal) decimal.Decimal {
	return i.Cost(qty, price).Mul(i.InitMargin)
}
