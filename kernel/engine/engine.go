// Package engine executes statements inside snapshot-isolated transactions
// over the in-memory row store and logs their changes to the WAL at commit.
package engine

import (
	"context"
	"sync"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/mudu-db/mudu/log"
)

type Engine struct {
	store *storage.Store
	xacts *mvcc.Manager
	wal   *wal.Writer

	mu     sync.RWMutex
	broken error
}

func New(store *storage.Store, xacts *mvcc.Manager, w *wal.Writer) *Engine {
	return &Engine{store: store, xacts: xacts, wal: w}
}

func (e *Engine) Store() *storage.Store { return e.store }
func (e *Engine) Xacts() *mvcc.Manager  { return e.xacts }
func (e *Engine) WAL() *wal.Writer      { return e.wal }

// Err is non-nil once a commit could not learn whether its batch reached the
// log. The row store may then disagree with what recovery will rebuild, so
// every later statement and commit fails until the kernel is reopened.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.broken
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken == nil {
		e.broken = ec.Newf(ec.FatalErr, "engine stopped, reopen to recover: %v", err)
		log.Errorf("%v", e.broken)
	}
	return e.broken
}

// Begin starts a transaction.
func (e *Engine) Begin() *Txn {
	snap := e.xacts.Begin()
	log.Debugf("begin %v", snap)
	return &Txn{e: e, snap: snap, touched: make(map[*storage.Row]*storage.Table)}
}

// Run executes fn in a new transaction, committing if fn succeeds and rolling
// back otherwise.
func (e *Engine) Run(ctx context.Context, fn func(*Txn) error) error {
	txn := e.Begin()
	if err := fn(txn); err != nil {
		if rerr := txn.Rollback(); rerr != nil {
			log.Warnf("rollback of transaction %d: %v", txn.Xid(), rerr)
		}
		return err
	}
	return txn.Commit(ctx)
}
