package domain

import "github.com/shopspring/decimal"

// Ticker is the best-price view derived from the instrument mirror.
// All values are rounded to the instrument's tick precision.
type Ticker struct {
	Symbol string          `json:"symbol"`
	Last   decimal.Decimal `json:"last"`
	Buy    decimal.Decimal `json:"buy"`
	Sell   decimal.Decimal `json:"sell"`
	Mid    decimal.Decimal `json:"mid"`
}

// Position represents the account's exposure in a single symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	CurrentQty    int64           `json:"currentQty"`
	AvgCostPrice  decimal.Decimal `json:"avgCostPrice"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
}

// Margin represents account funds in the settlement unit (satoshis for XBT).
type Margin struct {
	Currency       string `json:"currency"`
	MarginBalance  int64  `json:"marginBalance"`
	AvailableFunds int64  `json:"availableMargin"`
	WalletBalance  int64  `json:"walletBalance"`
}

// satoshisPerXBT converts the exchange's base settlement unit.
var satoshisPerXBT = decimal.NewFromInt(100_000_000)

// XBT returns a satoshi amount as whole bitcoin.
func XBT(satoshis int64) decimal.Decimal {
	return decimal.NewFromInt(satoshis).Div(satoshisPerXBT)
}
