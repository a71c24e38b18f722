package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra/bitmex"

	"github.com/shopspring/decimal"
)

// Dry logs every operation the agent would perform without sending anything
// to the exchange. Orders are echoed back as if accepted so the convergence
// engine's bookkeeping stays exercised.
type Dry struct {
	logger *slog.Logger
	nextID atomic.Int64
}

// NewDry creates a dry-run executor.
func NewDry() *Dry {
	d := &Dry{logger: slog.Default().With("module", "execution", "dry_run", true)}
	return d
}

func (d *Dry) CreateBulk(_ context.Context, subs []bitmex.OrderSubmission) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(subs))
	for _, sub := range subs {
		d.logger.Info("would create order",
			"side", sub.Side, "qty", sub.OrderQty, "price", sub.Price)
		orders = append(orders, domain.Order{
			OrderID:   fmt.Sprintf("dry-%d", d.nextID.Add(1)),
			ClOrdID:   sub.ClOrdID,
			Symbol:    sub.Symbol,
			Side:      sub.Side,
			Price:     decimal.NewFromFloat(sub.Price),
			OrderQty:  sub.OrderQty,
			LeavesQty: sub.OrderQty,
			OrdStatus: domain.OrderStatusNew,
		})
	}
	return orders, nil
}

func (d *Dry) AmendBulk(_ context.Context, amends []bitmex.OrderAmendment) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(amends))
	for _, a := range amends {
		d.logger.Info("would amend order",
			"orderID", a.OrderID, "qty", a.LeavesQty, "price", a.Price)
		orders = append(orders, domain.Order{
			OrderID:   a.OrderID,
			Side:      a.Side,
			Price:     decimal.NewFromFloat(a.Price),
			LeavesQty: a.LeavesQty,
			OrdStatus: domain.OrderStatusNew,
		})
	}
	return orders, nil
}

func (d *Dry) CancelOrders(_ context.Context, orderIDs []string) ([]domain.Order, error) {
	for _, id := range orderIDs {
		d.logger.Info("would cancel order", "orderID", id)
	}
	return nil, nil
}

func (d *Dry) OpenOrders(context.Context) ([]domain.Order, error) {
	return nil, nil
}
