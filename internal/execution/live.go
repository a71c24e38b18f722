package execution

import (
	"context"
	"log/slog"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra/bitmex"
	"liquidbot/internal/infra/storage"
)

// Live sends real orders through an authenticated trader handle and journals
// every lifecycle event it issues.
type Live struct {
	trader  *bitmex.Trader
	journal *storage.Journal
	logger  *slog.Logger
}

// NewLive wraps an authenticated trader. The journal may be nil.
func NewLive(trader *bitmex.Trader, journal *storage.Journal) *Live {
	return &Live{
		trader:  trader,
		journal: journal,
		logger:  slog.Default().With("module", "execution"),
	}
}

func (l *Live) CreateBulk(ctx context.Context, subs []bitmex.OrderSubmission) ([]domain.Order, error) {
	orders, err := l.trader.CreateBulk(ctx, subs)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		l.journalEvent("create", &orders[i], "")
		// The exchange accepts bulk submissions wholesale but can still
		// reject individual orders on risk or post-only price checks.
		if orders[i].OrdStatus == domain.OrderStatusRejected {
			l.logger.Warn("order rejected",
				"clOrdID", orders[i].ClOrdID, "reason", orders[i].Text)
			l.journalEvent("reject", &orders[i], orders[i].Text)
		}
	}
	return orders, nil
}

func (l *Live) AmendBulk(ctx context.Context, amends []bitmex.OrderAmendment) ([]domain.Order, error) {
	orders, err := l.trader.AmendBulk(ctx, amends)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		l.journalEvent("amend", &orders[i], "")
	}
	return orders, nil
}

func (l *Live) CancelOrders(ctx context.Context, orderIDs []string) ([]domain.Order, error) {
	orders, err := l.trader.CancelOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		l.journalEvent("cancel", &orders[i], "")
	}
	return orders, nil
}

func (l *Live) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	return l.trader.OpenOrders(ctx)
}

func (l *Live) journalEvent(event string, o *domain.Order, detail string) {
	if l.journal == nil {
		return
	}
	err := l.journal.RecordOrderEvent(&storage.OrderEventRecord{
		Symbol:  o.Symbol,
		Event:   event,
		Side:    o.Side,
		OrderID: o.OrderID,
		ClOrdID: o.ClOrdID,
		Qty:     o.OrderQty,
		Price:   o.Price.String(),
		Detail:  detail,
	})
	if err != nil {
		l.logger.Warn("journal write failed", "event", event, "error", err)
	}
}
