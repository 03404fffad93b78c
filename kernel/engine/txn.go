package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/sql"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/mudu-db/mudu/log"
	"github.com/pingcap/errors"
)

type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
	// The commit batch was handed to the log but its durability is unknown.
	txnInDoubt
)

// Txn is one transaction. Its writes go to the row chains immediately, stamped
// with its xid and invisible to others until it commits; the matching WAL ops
// are buffered and logged as one batch at commit.
//
// A Txn is not safe for concurrent statements.
type Txn struct {
	e    *Engine
	snap *mvcc.Snapshot

	mu      sync.Mutex
	state   txnState
	failed  error
	ops     []wal.Op
	order   []*storage.Row
	touched map[*storage.Row]*storage.Table
}

// Result is the outcome of one statement: a result set for SELECT and an
// affected row count for everything else.
type Result struct {
	Rows     *ResultSet
	Affected uint64
}

func (t *Txn) Xid() uint64 { return t.snap.Xid }

func (t *Txn) Snapshot() *mvcc.Snapshot { return t.snap }

func (t *Txn) Engine() *Engine { return t.e }

func (t *Txn) usable() error {
	switch t.state {
	case txnCommitted:
		return ec.Newf(ec.TxErr, "transaction %d is committed", t.snap.Xid)
	case txnAborted:
		return ec.Newf(ec.TxErr, "transaction %d is rolled back", t.snap.Xid)
	case txnInDoubt:
		return ec.Newf(ec.FatalErr, "outcome of transaction %d is decided by recovery", t.snap.Xid)
	}
	if err := t.e.Err(); err != nil {
		return err
	}
	if t.failed != nil {
		return ec.Newf(ec.TxErr, "transaction %d must roll back: %v", t.snap.Xid, t.failed)
	}
	return nil
}

// Execute runs one parsed statement. args bind its placeholders in order.
// A statement that fails after changing rows leaves the transaction able only
// to roll back.
func (t *Txn) Execute(p *sql.Parsed, args []interface{}) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return nil, err
	}
	before := len(t.ops)
	res, err := t.execute(p.Stmt, args)
	if err != nil && (len(t.ops) != before || ec.Is(err, ec.TxErr)) {
		t.failed = err
	}
	return res, err
}

// Query runs a SELECT.
func (t *Txn) Query(text string, args ...interface{}) (*ResultSet, error) {
	p, err := sql.Parse(text)
	if err != nil {
		return nil, err
	}
	if !p.ReadOnly() {
		return nil, ec.New(ec.ParseErr, "statement does not return rows")
	}
	res, err := t.Execute(p, args)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Command runs a statement that does not return rows.
func (t *Txn) Command(text string, args ...interface{}) (uint64, error) {
	p, err := sql.Parse(text)
	if err != nil {
		return 0, err
	}
	if p.ReadOnly() {
		return 0, ec.New(ec.ParseErr, "statement returns rows")
	}
	res, err := t.Execute(p, args)
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

func (t *Txn) record(tbl *storage.Table, row *storage.Row, op wal.Op) {
	t.ops = append(t.ops, op)
	if _, ok := t.touched[row]; !ok {
		t.touched[row] = tbl
		t.order = append(t.order, row)
	}
}

// Commit logs the transaction's ops and waits until they are durable before
// making its versions visible. A transaction that changed nothing skips the
// log. On failure the transaction is rolled back and a TxErr returned.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return t.usable()
	}
	xid := t.snap.Xid
	if t.failed != nil {
		t.rollback()
		return ec.Newf(ec.TxErr, "transaction %d rolled back: %v", xid, t.failed)
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return ec.Newf(ec.TxErr, "transaction %d rolled back: %v", xid, err)
	}
	if err := t.e.Err(); err != nil {
		t.rollback()
		return err
	}
	if len(t.ops) > 0 {
		start := time.Now()
		ops := make([]wal.Op, 0, len(t.ops)+2)
		ops = append(ops, wal.Begin())
		ops = append(ops, t.ops...)
		ops = append(ops, wal.Commit())
		_, waiter, err := t.e.wal.Append([]wal.Record{{Xid: xid, Ops: ops}}, true)
		if err != nil {
			log.Errorf("commit of transaction %d failed: %v", xid, err)
			t.rollback()
			return ec.Newf(ec.TxErr, "commit of transaction %d failed: %v", xid, err)
		}
		// Once appended the batch's fate is decided by the log, not by the
		// caller giving up.
		if err = waiter.Wait(context.Background()); err != nil {
			// Recovery may still replay the batch. The writes stay in place
			// and the xid stays running, so nobody sees them, and the engine
			// refuses further work.
			t.state = txnInDoubt
			txnCounter.WithLabelValues("in_doubt").Inc()
			return errors.Annotatef(t.e.fail(err), "commit of transaction %d", xid)
		}
		commitDuration.Observe(time.Since(start).Seconds())
	}
	t.state = txnCommitted
	txnCounter.WithLabelValues("commit").Inc()
	return t.e.xacts.Commit(xid)
}

// Rollback undoes the transaction's writes. Rolling back a finished
// transaction is an error.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnActive {
		return t.usable()
	}
	return t.rollback()
}

func (t *Txn) rollback() error {
	xid := t.snap.Xid
	for i := len(t.order) - 1; i >= 0; i-- {
		row := t.order[i]
		tbl := t.touched[row]
		unlock := t.e.store.Latch(tbl.Schema.ID(), row.Key)
		if row.Chain.Undo(xid) {
			tbl.Remove(row)
		}
		unlock()
	}
	t.order, t.touched, t.ops = nil, nil, nil
	t.state = txnAborted
	txnCounter.WithLabelValues("abort").Inc()
	return t.e.xacts.Abort(xid)
}
