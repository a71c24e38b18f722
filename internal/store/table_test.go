package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_SnapshotDeclaresKeys(t *testing.T) {
	tbl := NewTable("order")
	tbl.Snapshot([]string{"orderID"}, []Row{
		{"orderID": "a", "price": 100.0},
		{"orderID": "b", "price": 101.0},
	})

	require.Equal(t, []string{"orderID"}, tbl.Keys())
	require.Equal(t, 2, tbl.Len())

	row, ok := tbl.Find(Row{"orderID": "b"})
	require.True(t, ok)
	assert.Equal(t, 101.0, row["price"])
}

func TestTable_UpdateMergesFields(t *testing.T) {
	tbl := NewTable("order")
	tbl.Snapshot([]string{"orderID"}, []Row{
		{"orderID": "a", "price": 100.0, "leavesQty": 50.0, "side": "Buy"},
	})

	// A delta carries only the fields that changed.
	ok := tbl.Update(Row{"orderID": "a", "leavesQty": 25.0})
	require.True(t, ok)

	row, _ := tbl.Find(Row{"orderID": "a"})
	assert.Equal(t, 25.0, row["leavesQty"])
	assert.Equal(t, 100.0, row["price"], "untouched fields survive the merge")
	assert.Equal(t, "Buy", row["side"])

	// Re-delivering the same delta changes nothing.
	require.True(t, tbl.Update(Row{"orderID": "a", "leavesQty": 25.0}))
	again, _ := tbl.Find(Row{"orderID": "a"})
	assert.Equal(t, row, again)
}

func TestTable_UpdateUnknownKey(t *testing.T) {
	tbl := NewTable("order")
	tbl.Snapshot([]string{"orderID"}, nil)

	assert.False(t, tbl.Update(Row{"orderID": "ghost", "leavesQty": 1.0}))
}

func TestTable_Delete(t *testing.T) {
	tbl := NewTable("order")
	tbl.Snapshot([]string{"orderID"}, []Row{
		{"orderID": "a"},
		{"orderID": "b"},
	})

	require.True(t, tbl.Delete(Row{"orderID": "a"}))
	assert.Equal(t, 1, tbl.Len())
	assert.False(t, tbl.Delete(Row{"orderID": "a"}), "second delete misses")

	// Remaining record still findable after reindex.
	_, ok := tbl.Find(Row{"orderID": "b"})
	assert.True(t, ok)
}

func TestTable_CompositeKey(t *testing.T) {
	tbl := NewTable("position")
	tbl.Snapshot([]string{"account", "symbol"}, []Row{
		{"account": 1.0, "symbol": "XBTUSD", "currentQty": 10.0},
		{"account": 1.0, "symbol": "ETHUSD", "currentQty": 5.0},
	})

	require.True(t, tbl.Update(Row{"account": 1.0, "symbol": "ETHUSD", "currentQty": 7.0}))

	row, ok := tbl.Find(Row{"account": 1.0, "symbol": "ETHUSD"})
	require.True(t, ok)
	assert.Equal(t, 7.0, row["currentQty"])
}

func TestTable_TrimOldestDropsHalf(t *testing.T) {
	tbl := NewTable("trade")
	tbl.Snapshot([]string{"trdMatchID"}, nil)

	for i := 0; i < 201; i++ {
		tbl.Insert([]Row{{"trdMatchID": fmt.Sprintf("t%03d", i)}})
	}
	dropped := tbl.TrimOldest(200)

	assert.Equal(t, 100, dropped)
	assert.Equal(t, 101, tbl.Len())

	// The newest records survive, the oldest are gone.
	_, ok := tbl.Find(Row{"trdMatchID": "t000"})
	assert.False(t, ok)
	_, ok = tbl.Find(Row{"trdMatchID": "t200"})
	assert.True(t, ok)
}

func TestTable_TrimOldestBelowMax(t *testing.T) {
	tbl := NewTable("trade")
	tbl.Snapshot([]string{"trdMatchID"}, []Row{{"trdMatchID": "a"}})

	assert.Equal(t, 0, tbl.TrimOldest(200))
	assert.Equal(t, 1, tbl.Len())
}
