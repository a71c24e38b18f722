package execution

import (
	"context"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra/bitmex"
)

// Exchange defines the order operations the convergence engine drives.
// Calls are blocking: a tick does not proceed until its bulk calls complete,
// otherwise the next tick's positional pairing would run against unconfirmed
// state.
type Exchange interface {
	// CreateBulk places multiple post-only orders in one call.
	CreateBulk(ctx context.Context, subs []bitmex.OrderSubmission) ([]domain.Order, error)

	// AmendBulk amends multiple resting orders in one call. Returns
	// domain.ErrOrderStatusChanged if any order closed mid-flight.
	AmendBulk(ctx context.Context, amends []bitmex.OrderAmendment) ([]domain.Order, error)

	// CancelOrders cancels by exchange order ID. Missing orders count as
	// canceled.
	CancelOrders(ctx context.Context, orderIDs []string) ([]domain.Order, error)

	// OpenOrders lists this agent's open orders over HTTP, bypassing the
	// streaming mirror. Used before cancel-all where the mirror might lag.
	OpenOrders(ctx context.Context) ([]domain.Order, error)
}
