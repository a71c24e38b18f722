package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FillRecord is one observed execution against an agent order.
type FillRecord struct {
	ID      uint      `gorm:"primaryKey"`
	Symbol  string    `gorm:"index"`
	Side    string    `json:"side"`
	OrderID string    `gorm:"index"`
	ClOrdID string    `json:"clOrdID"`
	Qty     int64     `json:"qty"`
	Price   string    `json:"price"` // decimal string, exact
	SeenAt  time.Time `gorm:"index"`
}

// OrderEventRecord tracks order lifecycle transitions issued or observed by
// the agent (created, amended, canceled, rejected).
type OrderEventRecord struct {
	ID      uint      `gorm:"primaryKey"`
	Symbol  string    `gorm:"index"`
	Event   string    `gorm:"index"` // create / amend / cancel / reject
	Side    string    `json:"side"`
	OrderID string    `json:"orderID"`
	ClOrdID string    `json:"clOrdID"`
	Qty     int64     `json:"qty"`
	Price   string    `json:"price"`
	Detail  string    `json:"detail"`
	SeenAt  time.Time `gorm:"index"`
}

// Journal persists fills and order lifecycle events for post-run audit.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (or creates) the SQLite journal at path.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		path = filepath.Join("data", "liquidbot.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.AutoMigrate(&FillRecord{}, &OrderEventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordFill appends one fill to the journal.
func (j *Journal) RecordFill(fill *FillRecord) error {
	if fill.SeenAt.IsZero() {
		fill.SeenAt = time.Now()
	}
	return j.db.Create(fill).Error
}

// RecordOrderEvent appends one order lifecycle event.
func (j *Journal) RecordOrderEvent(ev *OrderEventRecord) error {
	if ev.SeenAt.IsZero() {
		ev.SeenAt = time.Now()
	}
	return j.db.Create(ev).Error
}

// Fills returns recorded fills for a symbol, newest first.
func (j *Journal) Fills(symbol string, limit int) ([]FillRecord, error) {
	var fills []FillRecord
	err := j.db.Where("symbol = ?", symbol).
		Order("seen_at desc").Limit(limit).Find(&fills).Error
	return fills, err
}

// ContractsTraded sums fill quantity for a symbol since a point in time.
func (j *Journal) ContractsTraded(symbol string, since time.Time) (int64, error) {
	var total int64
	err := j.db.Model(&FillRecord{}).
		Where("symbol = ? AND seen_at >= ?", symbol, since).
		Select("COALESCE(SUM(qty), 0)").Scan(&total).Error
	return total, err
}
