package strategy

import (
	"log/slog"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra"

	"github.com/shopspring/decimal"
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// Rung is one desired ladder position for the current tick. Ephemeral:
// recomputed every tick, never stored.
type Rung struct {
	// Index is the signed distance from the near side: negative = buy,
	// positive = sell, magnitude = rungs away from the inside.
	Index int
	Side  string
	Price decimal.Decimal
	Qty   int64
}

// StartPrices are the per-tick reference prices the ladder grows from.
type StartPrices struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
	Mid  decimal.Decimal
}

// Ladder computes the desired symmetric quote ladder around the reference
// price.
type Ladder struct {
	cfg    *infra.Config
	logger *slog.Logger
}

// NewLadder creates a ladder calculator from the immutable configuration.
func NewLadder(cfg *infra.Config) *Ladder {
	return &Ladder{cfg: cfg, logger: slog.Default().With("module", "ladder")}
}

// StartPrices derives the reference buy/sell starting prices: one tick
// inside the current spread, pinned to the inside price when that price is
// already our own resting order, and pulled apart when the resulting spread
// is under the configured minimum.
//
// highestBuy/lowestSell are our own best resting prices (zero decimals when
// we have none on that side).
func (l *Ladder) StartPrices(ticker *domain.Ticker, inst *domain.Instrument, highestBuy, lowestSell decimal.Decimal) StartPrices {
	t := l.cfg.Trading

	start := StartPrices{
		Buy:  ticker.Buy.Add(inst.TickSize),
		Sell: ticker.Sell.Sub(inst.TickSize),
		Mid:  ticker.Mid,
	}

	// If the inside price is already ours, rest there instead of stepping
	// over our own order; otherwise we would walk the book inward until the
	// sides collide.
	if t.MaintainSpreads {
		if ticker.Buy.Equal(highestBuy) {
			start.Buy = ticker.Buy
		}
		if ticker.Sell.Equal(lowestSell) {
			start.Sell = ticker.Sell
		}
	}

	// Back off if our spread is too small.
	if start.Buy.Mul(one.Add(t.MinSpread)).GreaterThan(start.Sell) {
		half := t.MinSpread.Div(two)
		start.Buy = start.Buy.Mul(one.Sub(half))
		start.Sell = start.Sell.Mul(one.Add(half))
	}

	return start
}

// PriceAt returns the rounded price for a signed rung index.
func (l *Ladder) PriceAt(start StartPrices, index int, inst *domain.Instrument) decimal.Decimal {
	t := l.cfg.Trading

	var base decimal.Decimal
	if index < 0 {
		base = start.Buy
	} else {
		base = start.Sell
	}

	if t.MaintainSpreads {
		// The innermost rungs rest exactly at the start prices; outer rungs
		// branch from there.
		if index < 0 {
			index++
		} else {
			index--
		}
	} else {
		// Offset mode: a buy start above the sell start means the sides
		// crossed; grow the buy ladder down from the sell start instead.
		if index < 0 && base.GreaterThan(start.Sell) {
			base = start.Sell
		}
	}

	steps := int64(index)
	if steps < 0 {
		steps = -steps
	}
	factor := one.Add(t.Interval).Pow(decimal.NewFromInt(steps))
	var price decimal.Decimal
	if index < 0 {
		price = base.Div(factor)
	} else {
		price = base.Mul(factor)
	}
	return inst.Round(price)
}

// QtyAt returns the contract quantity for a rung: the start size plus a step
// per rung of distance from the inside.
func (l *Ladder) QtyAt(index int) int64 {
	abs := int64(index)
	if abs < 0 {
		abs = -abs
	}
	return l.cfg.Trading.OrderStartSize + (abs-1)*l.cfg.Trading.OrderStepSize
}

// Desired computes both sides of the ladder, outward rungs first. Outward-
// first ordering means a filled inner order costs one create at the vacated
// inner slot while outer orders keep their exchange identity.
//
// A side at or beyond its position limit is omitted entirely for this tick.
func (l *Ladder) Desired(start StartPrices, inst *domain.Instrument, position int64) (buys, sells []Rung) {
	pairs := l.cfg.Trading.OrderPairs
	longBlocked := l.LongLimitExceeded(position)
	shortBlocked := l.ShortLimitExceeded(position)

	for i := pairs; i >= 1; i-- {
		if !longBlocked {
			buys = append(buys, Rung{
				Index: -i,
				Side:  domain.SideBuy,
				Price: l.PriceAt(start, -i, inst),
				Qty:   l.QtyAt(-i),
			})
		}
		if !shortBlocked {
			sells = append(sells, Rung{
				Index: i,
				Side:  domain.SideSell,
				Price: l.PriceAt(start, i, inst),
				Qty:   l.QtyAt(i),
			})
		}
	}
	return buys, sells
}

// LongLimitExceeded checks whether buying more would breach the limit.
func (l *Ladder) LongLimitExceeded(position int64) bool {
	t := l.cfg.Trading
	return t.CheckPositionLimits && position >= t.MaxPosition
}

// ShortLimitExceeded checks whether selling more would breach the limit.
func (l *Ladder) ShortLimitExceeded(position int64) bool {
	t := l.cfg.Trading
	return t.CheckPositionLimits && position <= t.MinPosition
}
