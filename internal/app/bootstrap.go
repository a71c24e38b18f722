package app

import (
	"context"
	"log/slog"

	"liquidbot/internal/engine"
	"liquidbot/internal/execution"
	"liquidbot/internal/infra"
	"liquidbot/internal/infra/bitmex"
	"liquidbot/internal/infra/storage"
	"liquidbot/internal/store"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Journal *storage.Journal
	Store   *store.Store
	Client  *bitmex.Client
	Session *bitmex.Session
	Manager *engine.Manager
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping liquidbot...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Journal (DB)
	journal, err := storage.NewJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Trade journal initialized", slog.String("path", cfg.Journal.Path))

	// 4. Market data mirror. Fills observed in the order stream go
	// straight to the journal.
	b.Store = store.NewStore(logger)
	b.Store.OnFill(func(f store.Fill) {
		infra.GlobalMetrics.RecordFill()
		rec := &storage.FillRecord{
			Symbol:  f.Symbol,
			Side:    f.Side,
			OrderID: f.OrderID,
			ClOrdID: f.ClOrdID,
			Qty:     f.Qty,
			Price:   f.Price.String(),
		}
		if err := journal.RecordFill(rec); err != nil {
			slog.Error("failed to journal fill", slog.Any("error", err))
		}
	})

	// 5. REST client
	client, err := bitmex.NewClient(cfg)
	if err != nil {
		return err
	}
	b.Client = client

	return nil
}

// Start connects the realtime feed and builds the order manager. The feed
// must be live, with all snapshots received, before any quoting begins.
func (b *Bootstrap) Start(ctx context.Context) error {
	shouldAuth := !b.Config.Trading.DryRun || b.Config.API.Key != ""
	b.Session = bitmex.NewSession(b.Client, b.Store, shouldAuth)
	if err := b.Session.Connect(ctx); err != nil {
		return err
	}
	slog.Info("✅ Realtime feed connected", slog.String("symbol", b.Config.Trading.Symbol))

	exchange, err := execution.NewExchange(ctx, b.Config, b.Client, b.Journal)
	if err != nil {
		b.Session.Close()
		return err
	}

	b.Manager = engine.NewManager(b.Config, b.Store, b.Session, exchange, b.Journal)
	return b.Manager.Init(ctx)
}
