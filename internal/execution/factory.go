package execution

import (
	"context"
	"log/slog"

	"liquidbot/internal/infra"
	"liquidbot/internal/infra/bitmex"
	"liquidbot/internal/infra/storage"
)

// NewExchange returns the executor for the configured mode. Live mode
// requires authentication to succeed before an Exchange exists at all;
// privileged calls without credentials are unrepresentable.
func NewExchange(ctx context.Context, cfg *infra.Config, client *bitmex.Client, journal *storage.Journal) (Exchange, error) {
	if cfg.Trading.DryRun {
		slog.Info("dry run: orders below represent what would be sent")
		return NewDry(), nil
	}

	trader, err := client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("live run: executing real trades", "symbol", cfg.Trading.Symbol)
	return NewLive(trader, journal), nil
}
