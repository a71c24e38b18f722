package store

import (
	"fmt"
	"strings"
)

// Row is one record as decoded from the wire. Field sets differ per table
// and per message, which is why deltas merge field-by-field.
type Row = map[string]any

// Table actions delivered by the streaming feed.
const (
	ActionPartial = "partial"
	ActionInsert  = "insert"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
)

// TableMessage is one decoded streaming delta.
type TableMessage struct {
	Table  string   `json:"table"`
	Action string   `json:"action"`
	Keys   []string `json:"keys,omitempty"`
	Data   []Row    `json:"data"`
}

// Table is an insertion-ordered collection of records with a declared set of
// unique key fields. The key fields arrive with the initial snapshot and are
// used to locate records for updates and deletes.
type Table struct {
	name  string
	keys  []string
	rows  []Row
	index map[string]int
}

// NewTable creates an empty table. Keys are declared by the first snapshot.
func NewTable(name string) *Table {
	return &Table{name: name, index: make(map[string]int)}
}

// Name returns the table's wire name.
func (t *Table) Name() string { return t.name }

// Keys returns the declared unique key fields.
func (t *Table) Keys() []string { return t.keys }

// Len returns the current number of records.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns the records in insertion order. Callers must not mutate.
func (t *Table) Rows() []Row { return t.rows }

// keyOf builds the identity string for a record from the declared key fields.
func (t *Table) keyOf(row Row) string {
	parts := make([]string, len(t.keys))
	for i, k := range t.keys {
		parts[i] = fmt.Sprintf("%v", row[k])
	}
	return strings.Join(parts, "\x1f")
}

// Snapshot replaces the table's contents entirely and declares its key fields.
func (t *Table) Snapshot(keys []string, data []Row) {
	t.keys = keys
	t.rows = append(t.rows[:0:0], data...)
	t.reindex()
}

// Insert appends records.
func (t *Table) Insert(data []Row) {
	for _, row := range data {
		t.index[t.keyOf(row)] = len(t.rows)
		t.rows = append(t.rows, row)
	}
}

// TrimOldest drops the oldest half once the table exceeds max records.
// Returns the number of records dropped.
func (t *Table) TrimOldest(max int) int {
	if len(t.rows) <= max {
		return 0
	}
	drop := max / 2
	t.rows = append(t.rows[:0:0], t.rows[drop:]...)
	t.reindex()
	return drop
}

// Find returns the record matching the delta on every declared key field.
func (t *Table) Find(delta Row) (Row, bool) {
	pos, ok := t.index[t.keyOf(delta)]
	if !ok {
		return nil, false
	}
	return t.rows[pos], true
}

// Update merges the delta's fields into the matching record in place.
// Returns false if no record matches (the delta may have arrived before the
// snapshot; callers log and drop it).
func (t *Table) Update(delta Row) bool {
	row, ok := t.Find(delta)
	if !ok {
		return false
	}
	for k, v := range delta {
		row[k] = v
	}
	return true
}

// Delete removes the record matching the delta's key fields.
func (t *Table) Delete(delta Row) bool {
	pos, ok := t.index[t.keyOf(delta)]
	if !ok {
		return false
	}
	t.removeAt(pos)
	return true
}

func (t *Table) removeAt(pos int) {
	t.rows = append(t.rows[:pos], t.rows[pos+1:]...)
	t.reindex()
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.rows))
	for i, row := range t.rows {
		t.index[t.keyOf(row)] = i
	}
}
