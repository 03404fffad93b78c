// Package storage holds the catalog and the in-memory row store: one ordered
// index of version chains per table.
package storage

import (
	"sync"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/tuple/delta"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/mudu-db/mudu/log"
)

type Store struct {
	Catalog *Catalog
	Latches *Latches

	mu     sync.RWMutex
	tables map[uint64]*Table
}

func NewStore(cat *Catalog) *Store {
	s := &Store{
		Catalog: cat,
		Latches: NewLatches(),
		tables:  make(map[uint64]*Table),
	}
	for _, schema := range cat.Tables() {
		s.tables[schema.ID()] = NewTable(schema)
	}
	return s
}

// Table returns the row index of the named table.
func (s *Store) Table(name string) (*Table, error) {
	schema, err := s.Catalog.Table(name)
	if err != nil {
		return nil, err
	}
	return s.TableByID(schema.ID())
}

func (s *Store) TableByID(id uint64) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "table %d not found", id)
	}
	return t, nil
}

// CreateTable registers def in the catalog and creates its empty index.
func (s *Store) CreateTable(def TableDef) (*Table, error) {
	schema, err := s.Catalog.Create(def)
	if err != nil {
		return nil, err
	}
	t := NewTable(schema)
	s.mu.Lock()
	s.tables[schema.ID()] = t
	s.mu.Unlock()
	return t, nil
}

// DropTable removes the table and all its rows.
func (s *Store) DropTable(name string) error {
	schema, err := s.Catalog.Drop(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.tables, schema.ID())
	s.mu.Unlock()
	return nil
}

// Latch locks one row of a table for writing.
func (s *Store) Latch(table uint64, key []byte) func() {
	return s.Latches.Latch(latchKey(table, key))
}

// Apply installs the ops of a committed transaction during replay. Ops on
// tables that no longer exist are skipped.
func (s *Store) Apply(xid uint64, ops []wal.Op) error {
	for _, op := range ops {
		t, err := s.TableByID(op.Table)
		if err != nil {
			log.Debugf("replay xid %d: skip %v on dropped table %d", xid, op.Kind, op.Table)
			continue
		}
		if err := t.apply(xid, op); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) apply(xid uint64, op wal.Op) error {
	row := t.Get(op.Key)
	var tail mvcc.Version
	exists := false
	if row != nil {
		tail, exists = row.Chain.Tail()
	}
	ts := mvcc.NewTimestamp(xid)
	switch op.Kind {
	case wal.OpInsert:
		if !exists {
			t.Put(&Row{Key: op.Key, TupleID: op.TupleID, Chain: mvcc.NewChain(mvcc.Version{TS: ts, Tuple: op.Value})})
			return nil
		}
		if tail.TS.Current() {
			return ec.Newf(ec.DBInternalErr, "replay xid %d inserts over a live row in table %d", xid, op.Table)
		}
		back := delta.New(0, len(op.Value), tail.Tuple)
		row.Chain.Write(mvcc.Version{TS: ts, Tuple: op.Value}, &mvcc.VersionDelta{TS: tail.TS, Deltas: []delta.UpdateDelta{back}})
		t.seenTupleID(op.TupleID)
	case wal.OpUpdate:
		if !exists || !tail.TS.Current() {
			return ec.Newf(ec.DBInternalErr, "replay xid %d updates a missing row in table %d", xid, op.Table)
		}
		next, inverses := delta.ApplyAll(tail.Tuple, op.Deltas)
		if tail.TS.CMin == xid {
			row.Chain.Rewrite(mvcc.Version{TS: tail.TS, Tuple: next}, inverses)
		} else {
			row.Chain.Write(mvcc.Version{TS: ts, Tuple: next}, &mvcc.VersionDelta{TS: tail.TS, Deltas: inverses})
		}
	case wal.OpDelete:
		if !exists || !tail.TS.Current() {
			return ec.Newf(ec.DBInternalErr, "replay xid %d deletes a missing row in table %d", xid, op.Table)
		}
		row.Chain.Delete(xid, tail.TS)
	}
	return nil
}
