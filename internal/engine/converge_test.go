package engine

import (
	"testing"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra"
	"liquidbot/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerConfig() *infra.Config {
	cfg := &infra.Config{}
	cfg.Trading.RelistInterval = decimal.NewFromFloat(0.01)
	return cfg
}

func order(id, side, price string, qty int64) domain.Order {
	return domain.Order{
		OrderID:   id,
		ClOrdID:   "mm_liqbot_" + id,
		Side:      side,
		Price:     decimal.RequireFromString(price),
		OrderQty:  qty,
		LeavesQty: qty,
		OrdStatus: domain.OrderStatusNew,
	}
}

func rung(index int, side, price string, qty int64) strategy.Rung {
	return strategy.Rung{
		Index: index,
		Side:  side,
		Price: decimal.RequireFromString(price),
		Qty:   qty,
	}
}

func TestConverge_NoChurnWhenBookMatches(t *testing.T) {
	p := NewPlanner(plannerConfig())

	existing := []domain.Order{
		order("b2", domain.SideBuy, "99", 150),
		order("b1", domain.SideBuy, "99.5", 100),
		order("s2", domain.SideSell, "101.5", 150),
		order("s1", domain.SideSell, "101", 100),
	}
	buys := []strategy.Rung{
		rung(-2, domain.SideBuy, "99", 150),
		rung(-1, domain.SideBuy, "99.5", 100),
	}
	sells := []strategy.Rung{
		rung(2, domain.SideSell, "101.5", 150),
		rung(1, domain.SideSell, "101", 100),
	}

	plan := p.Converge(existing, buys, sells)
	assert.True(t, plan.Empty())
}

func TestConverge_InnerFillCostsOneCreate(t *testing.T) {
	p := NewPlanner(plannerConfig())

	// The innermost buy filled; the outer two still rest at their rungs.
	existing := []domain.Order{
		order("b3", domain.SideBuy, "98.5", 200),
		order("b2", domain.SideBuy, "99", 150),
	}
	buys := []strategy.Rung{
		rung(-3, domain.SideBuy, "98.5", 200),
		rung(-2, domain.SideBuy, "99", 150),
		rung(-1, domain.SideBuy, "99.5", 100),
	}

	plan := p.Converge(existing, buys, nil)

	assert.Empty(t, plan.Amends, "surviving orders keep their identity")
	assert.Empty(t, plan.Cancels)
	require.Len(t, plan.Creates, 1)
	assert.Equal(t, 99.5, plan.Creates[0].Price)
	assert.Equal(t, int64(100), plan.Creates[0].OrderQty)
	assert.Equal(t, domain.SideBuy, plan.Creates[0].Side)
}

func TestConverge_ExtraOrdersCanceled(t *testing.T) {
	p := NewPlanner(plannerConfig())

	existing := []domain.Order{
		order("b2", domain.SideBuy, "99", 150),
		order("b1", domain.SideBuy, "99.5", 100),
		order("s1", domain.SideSell, "101", 100),
	}
	// The buy side went dark (position limit); sells unchanged.
	sells := []strategy.Rung{rung(1, domain.SideSell, "101", 100)}

	plan := p.Converge(existing, nil, sells)

	assert.Empty(t, plan.Amends)
	assert.Empty(t, plan.Creates)
	require.Len(t, plan.Cancels, 2)
	assert.Equal(t, "b2", plan.Cancels[0].OrderID)
	assert.Equal(t, "b1", plan.Cancels[1].OrderID)
}

func TestConverge_RelistTolerance(t *testing.T) {
	p := NewPlanner(plannerConfig())

	existing := []domain.Order{order("b1", domain.SideBuy, "100", 100)}

	// Drift inside the tolerance leaves the order alone.
	plan := p.Converge(existing, []strategy.Rung{rung(-1, domain.SideBuy, "100.5", 100)}, nil)
	assert.True(t, plan.Empty())

	// Drift past the tolerance amends it.
	plan = p.Converge(existing, []strategy.Rung{rung(-1, domain.SideBuy, "102", 100)}, nil)
	require.Len(t, plan.Amends, 1)
	assert.Equal(t, "b1", plan.Amends[0].OrderID)
	assert.Equal(t, 102.0, plan.Amends[0].Price)
	assert.Equal(t, domain.SideBuy, plan.Amends[0].Side)
}

func TestConverge_QtyChangeAlwaysAmends(t *testing.T) {
	p := NewPlanner(plannerConfig())

	existing := []domain.Order{order("b1", domain.SideBuy, "100", 100)}
	plan := p.Converge(existing, []strategy.Rung{rung(-1, domain.SideBuy, "100", 150)}, nil)

	require.Len(t, plan.Amends, 1)
	assert.Equal(t, int64(150), plan.Amends[0].LeavesQty)
}
