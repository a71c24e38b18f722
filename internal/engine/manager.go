package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"liquidbot/internal/domain"
	"liquidbot/internal/execution"
	"liquidbot/internal/infra"
	"liquidbot/internal/infra/storage"
	"liquidbot/internal/store"
	"liquidbot/internal/strategy"

	"github.com/shopspring/decimal"
)

// amendRetryPause is how long to wait for order data to converge after a
// bulk amend hits an order that closed mid-computation.
const amendRetryPause = 500 * time.Millisecond

// cancelAllAttempts bounds the shutdown unwind retry.
const cancelAllAttempts = 5

// Feed is the manager's view of the streaming session.
type Feed interface {
	Exited() bool
	Close()
}

// Manager drives the quoting loop: initialization, the periodic re-tick with
// its health checks, and the unwind on exit.
type Manager struct {
	cfg      *infra.Config
	store    *store.Store
	feed     Feed
	exchange execution.Exchange
	ladder   *strategy.Ladder
	planner  *Planner
	journal  *storage.Journal
	logger   *slog.Logger

	startTime time.Time
	startQty  int64
}

// NewManager wires the driver loop. The journal may be nil.
func NewManager(cfg *infra.Config, st *store.Store, feed Feed, ex execution.Exchange, journal *storage.Journal) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		feed:     feed,
		exchange: ex,
		ladder:   strategy.NewLadder(cfg),
		planner:  NewPlanner(cfg),
		journal:  journal,
		logger:   slog.Default().With("module", "manager"),
	}
}

// Init records the starting position, clears stale orders from previous
// runs, and seeds the ladder.
func (m *Manager) Init(ctx context.Context) error {
	m.startTime = time.Now()

	pos, err := m.store.Position(m.cfg.Trading.Symbol)
	if err != nil {
		return err
	}
	m.startQty = pos.CurrentQty
	m.logger.Info("order manager initializing",
		"symbol", m.cfg.Trading.Symbol, "starting_position", m.startQty)

	if err := m.CancelAll(ctx); err != nil {
		return err
	}
	return m.tick(ctx)
}

// Run re-ticks on the configured interval until the context ends or a fatal
// condition appears. Market-state conditions pause quoting for the tick;
// everything the exchange rejected heals on the next diff.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Trading.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if m.feed.Exited() {
			m.logger.Error("realtime data connection unexpectedly closed")
			return domain.ErrSessionExited
		}

		if err := m.tick(ctx); err != nil {
			if fatalTick(err) {
				return err
			}
			m.logger.Warn("tick skipped", "error", err)
			infra.GlobalMetrics.RecordError()
		}
	}
}

func fatalTick(err error) bool {
	return errors.Is(err, domain.ErrCrossedBook) ||
		errors.Is(err, domain.ErrAuthentication) ||
		errors.Is(err, context.Canceled)
}

// tick runs one full health-check / status / convergence pass.
func (m *Manager) tick(ctx context.Context) error {
	inst, start, err := m.sanityCheck()
	if err != nil {
		return err
	}
	m.printStatus()
	return m.placeOrders(ctx, inst, start)
}

// sanityCheck validates market state and derives this tick's start prices.
// It must pass before any order math runs.
func (m *Manager) sanityCheck() (*domain.Instrument, strategy.StartPrices, error) {
	symbol := m.cfg.Trading.Symbol
	var none strategy.StartPrices

	inst, err := m.store.Instrument(symbol)
	if err != nil {
		return nil, none, err
	}
	if !inst.IsOpen() {
		return nil, none, domain.NewMarketClosedError(symbol, inst.State)
	}

	ticker, err := m.store.Ticker(symbol)
	if err != nil {
		return nil, none, err
	}
	if ticker.Mid.IsZero() {
		return nil, none, domain.NewMarketEmptyError(symbol)
	}

	highestBuy, lowestSell := m.ownBookEdges()
	start := m.ladder.StartPrices(ticker, inst, highestBuy, lowestSell)
	m.logger.Info("ticker",
		"symbol", symbol, "buy", ticker.Buy, "sell", ticker.Sell,
		"start_buy", start.Buy, "start_sell", start.Sell, "mid", start.Mid)

	// Refuse to quote against data we cannot trust.
	if m.ladder.PriceAt(start, -1, inst).GreaterThanOrEqual(ticker.Sell) ||
		m.ladder.PriceAt(start, 1, inst).LessThanOrEqual(ticker.Buy) {
		m.logger.Error("sanity check failed",
			"first_buy", m.ladder.PriceAt(start, -1, inst),
			"first_sell", m.ladder.PriceAt(start, 1, inst),
			"ticker_buy", ticker.Buy, "ticker_sell", ticker.Sell)
		return nil, none, domain.ErrCrossedBook
	}

	return inst, start, nil
}

// ownBookEdges returns our best resting buy and sell prices, zero when a
// side is empty.
func (m *Manager) ownBookEdges() (highestBuy, lowestSell decimal.Decimal) {
	orders, err := m.store.OpenOrders(m.cfg.Trading.OrderIDPrefix)
	if err != nil {
		return highestBuy, lowestSell
	}
	for _, o := range orders {
		switch o.Side {
		case domain.SideBuy:
			if o.Price.GreaterThan(highestBuy) {
				highestBuy = o.Price
			}
		case domain.SideSell:
			if lowestSell.IsZero() || o.Price.LessThan(lowestSell) {
				lowestSell = o.Price
			}
		}
	}
	return highestBuy, lowestSell
}

// printStatus logs balance, position and activity once per tick.
func (m *Manager) printStatus() {
	t := m.cfg.Trading

	if funds, err := m.store.Funds(); err == nil {
		m.logger.Info("balance",
			"currency", funds.Currency,
			"margin_balance", domain.XBT(funds.MarginBalance),
			"available", domain.XBT(funds.AvailableFunds))
	}

	pos, err := m.store.Position(t.Symbol)
	if err != nil {
		return
	}
	m.logger.Info("position",
		"current_qty", pos.CurrentQty,
		"traded_this_run", pos.CurrentQty-m.startQty)
	if t.CheckPositionLimits {
		m.logger.Info("position limits", "min", t.MinPosition, "max", t.MaxPosition)
	}
	if pos.CurrentQty != 0 {
		m.logger.Info("entry",
			"avg_cost", pos.AvgCostPrice, "avg_entry", pos.AvgEntryPrice)
	}
	if m.journal != nil {
		if traded, err := m.journal.ContractsTraded(t.Symbol, m.startTime); err == nil && traded > 0 {
			m.logger.Info("contracts filled this run", "qty", traded)
		}
	}
	m.logger.Debug("metrics", "snapshot", infra.GlobalMetrics.Snapshot())
}

// placeOrders computes the desired ladder and converges the book onto it.
// When a bulk amend loses a race with a fill, the whole computation restarts
// after a short pause; the new plan is authoritative and nothing is assumed
// about which amends from the failed batch stuck.
func (m *Manager) placeOrders(ctx context.Context, inst *domain.Instrument, start strategy.StartPrices) error {
	for {
		pos, err := m.store.Position(m.cfg.Trading.Symbol)
		if err != nil {
			return err
		}
		if m.ladder.LongLimitExceeded(pos.CurrentQty) {
			m.logger.Info("long position limit exceeded, buy side off",
				"position", pos.CurrentQty, "max", m.cfg.Trading.MaxPosition)
		}
		if m.ladder.ShortLimitExceeded(pos.CurrentQty) {
			m.logger.Info("short position limit exceeded, sell side off",
				"position", pos.CurrentQty, "min", m.cfg.Trading.MinPosition)
		}

		buys, sells := m.ladder.Desired(start, inst, pos.CurrentQty)

		existing, err := m.store.OpenOrders(m.cfg.Trading.OrderIDPrefix)
		if err != nil {
			return err
		}

		plan := m.planner.Converge(existing, buys, sells)
		if plan.Empty() {
			return nil
		}

		retry, err := m.applyPlan(ctx, plan)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}

		m.logger.Warn("amend raced a fill, recomputing tick")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(amendRetryPause):
		}
	}
}

// applyPlan issues cancels, then one bulk amend, then one bulk create.
// Returns retry=true when the amend batch must be recomputed.
func (m *Manager) applyPlan(ctx context.Context, plan *Plan) (retry bool, err error) {
	if len(plan.Cancels) > 0 {
		m.logger.Info("canceling orders", "count", len(plan.Cancels))
		ids := make([]string, len(plan.Cancels))
		for i, o := range plan.Cancels {
			ids[i] = o.OrderID
			m.logger.Info("canceling", "side", o.Side, "qty", o.LeavesQty, "price", o.Price)
		}
		if _, err := m.exchange.CancelOrders(ctx, ids); err != nil {
			return false, err
		}
	}

	if len(plan.Amends) > 0 {
		if _, err := m.exchange.AmendBulk(ctx, plan.Amends); err != nil {
			if errors.Is(err, domain.ErrOrderStatusChanged) {
				return true, nil
			}
			return false, err
		}
	}

	if len(plan.Creates) > 0 {
		m.logger.Info("creating orders", "count", len(plan.Creates))
		for _, sub := range plan.Creates {
			m.logger.Info("creating", "side", sub.Side, "qty", sub.OrderQty, "price", sub.Price)
		}
		if _, err := m.exchange.CreateBulk(ctx, plan.Creates); err != nil {
			return false, err
		}
	}

	infra.GlobalMetrics.RecordOrders(len(plan.Creates), len(plan.Amends), len(plan.Cancels))
	return false, nil
}

// CancelAll unwinds every order carrying our prefix. Open orders come over
// HTTP rather than the mirror so nothing in-flight is missed; an order that
// is already gone counts as canceled.
func (m *Manager) CancelAll(ctx context.Context) error {
	orders, err := m.exchange.OpenOrders(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		m.logger.Info("no open orders to cancel")
		return nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
		m.logger.Info("canceling", "side", o.Side, "qty", o.OrderQty, "price", o.Price)
	}

	for attempt := 1; ; attempt++ {
		if _, err = m.exchange.CancelOrders(ctx, ids); err == nil {
			return nil
		}
		if attempt >= cancelAllAttempts || ctx.Err() != nil {
			return err
		}
		m.logger.Warn("cancel-all failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Shutdown cancels all open orders before the process ends. It runs on its
// own bounded context because the run context is already canceled by the
// termination signal.
func (m *Manager) Shutdown() {
	m.logger.Info("shutting down, canceling all open orders")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.CancelAll(ctx); err != nil {
		m.logger.Error("unable to cancel orders on shutdown", "error", err)
	}
	m.feed.Close()
}
