package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"go.uber.org/atomic"
)

const btreeDegree = 32

// Row is one primary key's version chain.
type Row struct {
	Key     []byte
	TupleID uint64
	Chain   *mvcc.Chain
}

func (r *Row) Less(than btree.Item) bool {
	return bytes.Compare(r.Key, than.(*Row).Key) < 0
}

// Table is the in-memory row index of one table, ordered by row key.
type Table struct {
	Schema *Schema

	mu      sync.RWMutex
	tree    *btree.BTree
	tupleID *atomic.Uint64
}

func NewTable(s *Schema) *Table {
	return &Table{
		Schema:  s,
		tree:    btree.New(btreeDegree),
		tupleID: atomic.NewUint64(0),
	}
}

// NextTupleID allocates a tuple id.
func (t *Table) NextTupleID() uint64 {
	return t.tupleID.Inc()
}

func (t *Table) seenTupleID(id uint64) {
	for {
		cur := t.tupleID.Load()
		if id <= cur || t.tupleID.CAS(cur, id) {
			return
		}
	}
}

func (t *Table) Get(key []byte) *Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.tree.Get(&Row{Key: key})
	if item == nil {
		return nil
	}
	return item.(*Row)
}

// Put adds row, replacing any row with the same key.
func (t *Table) Put(row *Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.ReplaceOrInsert(row)
	t.seenTupleID(row.TupleID)
}

// Remove deletes the row only if it is still the one in the index.
func (t *Table) Remove(row *Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if item := t.tree.Get(row); item != nil && item.(*Row) == row {
		t.tree.Delete(row)
	}
}

// Rows returns the rows in key order. Later inserts are not included.
func (t *Table) Rows() []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([]*Row, 0, t.tree.Len())
	t.tree.Ascend(func(i btree.Item) bool {
		rows = append(rows, i.(*Row))
		return true
	})
	return rows
}

// RowsFrom returns the rows with key >= start in key order.
func (t *Table) RowsFrom(start []byte) []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rows []*Row
	t.tree.AscendGreaterOrEqual(&Row{Key: start}, func(i btree.Item) bool {
		rows = append(rows, i.(*Row))
		return true
	})
	return rows
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}
