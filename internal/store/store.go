package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"liquidbot/internal/domain"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// MaxTableLen caps per-table memory. Bounded tables drop their oldest half
// once they exceed it. The order table is exempt: losing in-flight order
// state is a correctness bug, not a memory saving.
const MaxTableLen = 200

// Table names used by the streaming feed.
const (
	TableInstrument = "instrument"
	TableQuote      = "quote"
	TableTrade      = "trade"
	TableOrder      = "order"
	TableExecution  = "execution"
	TableMargin     = "margin"
	TablePosition   = "position"
)

// Fill describes quantity executed against one of our resting orders,
// observed as a leavesQty reduction on a streaming order update.
type Fill struct {
	Symbol  string
	Side    string
	OrderID string
	ClOrdID string
	Qty     int64
	Price   decimal.Decimal
}

// Store is the in-memory mirror of the exchange's keyed record collections,
// reconstructed from an initial snapshot plus an ordered stream of deltas.
//
// A single coarse lock serializes delta application and view reads; critical
// sections are short and there is no nested locking.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
	onFill func(Fill)
	logger *slog.Logger
}

// NewStore creates an empty mirror.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tables: make(map[string]*Table),
		logger: logger.With("module", "store"),
	}
}

// OnFill registers a hook invoked (under the store lock) for every observed
// execution against an order in the mirror.
func (s *Store) OnFill(fn func(Fill)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFill = fn
}

// Apply dispatches one decoded table message into the mirror.
// Malformed deltas and deltas referencing unknown keys are logged and
// dropped; they are not fatal to the session.
func (s *Store) Apply(msg *TableMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.tables[msg.Table]
	if !ok {
		tbl = NewTable(msg.Table)
		s.tables[msg.Table] = tbl
	}

	switch msg.Action {
	case ActionPartial:
		tbl.Snapshot(msg.Keys, msg.Data)

	case ActionInsert:
		tbl.Insert(msg.Data)
		if msg.Table != TableOrder {
			if dropped := tbl.TrimOldest(MaxTableLen); dropped > 0 {
				s.logger.Debug("trimmed table", "table", msg.Table, "dropped", dropped)
			}
		}

	case ActionUpdate:
		for _, delta := range msg.Data {
			s.applyUpdate(tbl, delta)
		}

	case ActionDelete:
		for _, delta := range msg.Data {
			if !tbl.Delete(delta) {
				s.logger.Warn("delete for unknown record", "table", msg.Table)
			}
		}

	default:
		return fmt.Errorf("unknown table action: %s", msg.Action)
	}
	return nil
}

func (s *Store) applyUpdate(tbl *Table, delta Row) {
	existing, found := tbl.Find(delta)
	if !found {
		// Update may arrive before the matching insert or snapshot.
		s.logger.Warn("update for unknown record, dropped", "table", tbl.Name())
		return
	}

	if tbl.Name() == TableOrder {
		s.noteExecution(existing, delta)
	}

	tbl.Update(delta)

	// Filled and canceled orders leave the mirror; they are no longer ours
	// to manage.
	if tbl.Name() == TableOrder {
		if leaves, ok := numField(existing, "leavesQty"); ok && leaves <= 0 {
			tbl.Delete(existing)
		} else if status, ok := existing["ordStatus"].(string); ok {
			switch status {
			case domain.OrderStatusFilled, domain.OrderStatusCanceled, domain.OrderStatusRejected:
				tbl.Delete(existing)
			}
		}
	}
}

// noteExecution reports leavesQty reductions that are not cancels.
func (s *Store) noteExecution(existing, delta Row) {
	newLeaves, ok := numField(delta, "leavesQty")
	if !ok {
		return
	}
	if status, ok := delta["ordStatus"].(string); ok && status == domain.OrderStatusCanceled {
		return
	}
	oldLeaves, ok := numField(existing, "leavesQty")
	if !ok || newLeaves >= oldLeaves {
		return
	}

	fill := Fill{Qty: oldLeaves - newLeaves}
	fill.Symbol, _ = existing["symbol"].(string)
	fill.Side, _ = existing["side"].(string)
	fill.OrderID = fmt.Sprintf("%v", existing["orderID"])
	fill.ClOrdID, _ = existing["clOrdID"].(string)
	if p, ok := existing["price"].(float64); ok {
		fill.Price = decimal.NewFromFloat(p)
	}

	s.logger.Info("execution",
		"side", fill.Side, "qty", fill.Qty,
		"symbol", fill.Symbol, "price", fill.Price)
	if s.onFill != nil {
		s.onFill(fill)
	}
}

// HasTables reports whether every named table has received its snapshot.
// Used to block startup until the mirror holds a full image.
func (s *Store) HasTables(names ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		tbl, ok := s.tables[name]
		if !ok || tbl.Keys() == nil {
			return false
		}
	}
	return true
}

// TableLen returns the current record count of a table.
func (s *Store) TableLen(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tbl, ok := s.tables[name]; ok {
		return tbl.Len()
	}
	return 0
}

//
// Derived views. Computed on demand, never stored.
//

// Instrument returns the instrument's details with derived tick precision.
func (s *Store) Instrument(symbol string) (*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := s.findRow(TableInstrument, "symbol", symbol)
	if err != nil {
		return nil, err
	}
	var inst domain.Instrument
	if err := decodeRow(row, &inst); err != nil {
		return nil, fmt.Errorf("decode instrument: %w", err)
	}
	inst.DeriveTickLog()
	return &inst, nil
}

// Ticker derives best prices from the instrument mirror, rounded to the
// instrument's tick precision. Index symbols (leading '.') quote their mark
// price on all four fields.
func (s *Store) Ticker(symbol string) (*domain.Ticker, error) {
	inst, err := s.Instrument(symbol)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(inst.Symbol, ".") {
		mark := inst.Round(inst.MarkPrice)
		return &domain.Ticker{Symbol: symbol, Last: mark, Buy: mark, Sell: mark, Mid: mark}, nil
	}

	bid := inst.BidPrice
	if bid.IsZero() {
		bid = inst.LastPrice
	}
	ask := inst.AskPrice
	if ask.IsZero() {
		ask = inst.LastPrice
	}
	two := decimal.NewFromInt(2)
	return &domain.Ticker{
		Symbol: symbol,
		Last:   inst.Round(inst.LastPrice),
		Buy:    inst.Round(bid),
		Sell:   inst.Round(ask),
		Mid:    inst.Round(bid.Add(ask).Div(two)),
	}, nil
}

// Funds returns the latest margin record.
func (s *Store) Funds() (*domain.Margin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.tables[TableMargin]
	if !ok || tbl.Len() == 0 {
		return nil, fmt.Errorf("no margin data")
	}
	var m domain.Margin
	if err := decodeRow(tbl.Rows()[0], &m); err != nil {
		return nil, fmt.Errorf("decode margin: %w", err)
	}
	return &m, nil
}

// OpenOrders returns order records carrying the agent's clOrdID prefix with
// positive remaining quantity.
func (s *Store) OpenOrders(prefix string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.tables[TableOrder]
	if !ok {
		return nil, nil
	}
	var open []domain.Order
	for _, row := range tbl.Rows() {
		var o domain.Order
		if err := decodeRow(row, &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		if o.IsOurs(prefix) && o.LeavesQty > 0 {
			open = append(open, o)
		}
	}
	return open, nil
}

// Position returns the position for the symbol, defaulting to flat.
func (s *Store) Position(symbol string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := s.findRow(TablePosition, "symbol", symbol)
	if err != nil {
		return &domain.Position{Symbol: symbol}, nil
	}
	var p domain.Position
	if err := decodeRow(row, &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &p, nil
}

// RecentTrades returns the rolling trade history.
func (s *Store) RecentTrades() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tbl, ok := s.tables[TableTrade]; ok {
		return tbl.Rows()
	}
	return nil
}

func (s *Store) findRow(table, field, want string) (Row, error) {
	tbl, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("no %s data", table)
	}
	for _, row := range tbl.Rows() {
		if v, ok := row[field].(string); ok && v == want {
			return row, nil
		}
	}
	return nil, fmt.Errorf("no %s record for %s", table, want)
}

// decodeRow converts a wire record into a typed domain value.
func decodeRow(row Row, v any) error {
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// numField reads a numeric wire field. JSON numbers decode as float64.
func numField(row Row, field string) (int64, bool) {
	switch v := row[field].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
