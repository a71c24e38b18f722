package engine

import (
	"log/slog"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra"
	"liquidbot/internal/infra/bitmex"
	"liquidbot/internal/strategy"

	"github.com/shopspring/decimal"
)

// Plan is the minimal set of exchange operations that converges the open
// orders onto the desired ladder.
type Plan struct {
	Amends  []bitmex.OrderAmendment
	Creates []bitmex.OrderSubmission
	Cancels []domain.Order
}

// Empty reports whether the book already matches the desired ladder.
func (p *Plan) Empty() bool {
	return len(p.Amends) == 0 && len(p.Creates) == 0 && len(p.Cancels) == 0
}

// Planner diffs desired ladder rungs against existing open orders.
type Planner struct {
	cfg    *infra.Config
	logger *slog.Logger
}

// NewPlanner creates a convergence planner.
func NewPlanner(cfg *infra.Config) *Planner {
	return &Planner{cfg: cfg, logger: slog.Default().With("module", "converge")}
}

// Converge pairs each existing order positionally with the desired rung on
// the same side, in the same outward-first order. Paired orders are amended
// only when quantity changed or price drifted beyond the relist tolerance.
// Unpaired existing orders are canceled; unpaired desired rungs are created.
func (p *Planner) Converge(existing []domain.Order, buys, sells []strategy.Rung) *Plan {
	plan := &Plan{}
	buysMatched, sellsMatched := 0, 0

	for _, order := range existing {
		var desired *strategy.Rung
		switch order.Side {
		case domain.SideBuy:
			if buysMatched < len(buys) {
				desired = &buys[buysMatched]
				buysMatched++
			}
		case domain.SideSell:
			if sellsMatched < len(sells) {
				desired = &sells[sellsMatched]
				sellsMatched++
			}
		}

		// More open orders than desired rungs on this side: cancel the rest.
		if desired == nil {
			plan.Cancels = append(plan.Cancels, order)
			continue
		}

		if p.needsAmend(&order, desired) {
			plan.Amends = append(plan.Amends, bitmex.OrderAmendment{
				OrderID:   order.OrderID,
				LeavesQty: desired.Qty,
				Price:     desired.Price.InexactFloat64(),
				Side:      order.Side,
			})
			p.logger.Info("amending",
				"side", order.Side,
				"from_qty", order.LeavesQty, "from_price", order.Price,
				"to_qty", desired.Qty, "to_price", desired.Price)
		}
	}

	for ; buysMatched < len(buys); buysMatched++ {
		plan.Creates = append(plan.Creates, submissionFor(&buys[buysMatched]))
	}
	for ; sellsMatched < len(sells); sellsMatched++ {
		plan.Creates = append(plan.Creates, submissionFor(&sells[sellsMatched]))
	}

	return plan
}

// needsAmend applies the relist tolerance: any quantity difference, or price
// drift beyond the configured fraction of the resting price.
func (p *Planner) needsAmend(order *domain.Order, desired *strategy.Rung) bool {
	if desired.Qty != order.LeavesQty {
		return true
	}
	if desired.Price.Equal(order.Price) {
		return false
	}
	if order.Price.IsZero() {
		return true
	}
	drift := desired.Price.Div(order.Price).Sub(decimal.NewFromInt(1)).Abs()
	return drift.GreaterThan(p.cfg.Trading.RelistInterval)
}

func submissionFor(rung *strategy.Rung) bitmex.OrderSubmission {
	return bitmex.OrderSubmission{
		Side:     rung.Side,
		OrderQty: rung.Qty,
		Price:    rung.Price.InexactFloat64(),
	}
}
