// Package server composes the kernel: catalog, recovered row store, WAL
// writer, sessions and the procedure runtime.
package server

import (
	"context"
	"os"

	"github.com/mudu-db/mudu/kernel/config"
	"github.com/mudu-db/mudu/kernel/conn"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/engine"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/procs"
	"github.com/mudu-db/mudu/kernel/record"
	"github.com/mudu-db/mudu/kernel/sandbox"
	"github.com/mudu-db/mudu/kernel/session"
	"github.com/mudu-db/mudu/kernel/sql"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/mudu-db/mudu/log"
	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
)

const stmtCacheBytes = 16 << 20

type Kernel struct {
	conf    *config.Config
	catalog *storage.Catalog
	engine  *engine.Engine
	reg     *session.Registry
	stmts   *conn.StmtCache
	procs   *sandbox.Runtime
	// Admits at most session_threads concurrent transactions.
	sem *semaphore.Weighted
}

// Open recovers the database in conf.DBPath and starts its log writer.
func Open(ctx context.Context, conf *config.Config) (*Kernel, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	k := &Kernel{
		conf: conf,
		reg:  session.NewRegistry(),
		sem:  semaphore.NewWeighted(int64(conf.SessionThreads)),
	}
	ok := false
	defer func() {
		if !ok {
			k.Close()
		}
	}()

	var err error
	if k.catalog, err = storage.OpenCatalog(conf.CatalogDir()); err != nil {
		return nil, err
	}
	opts := wal.OptionsFromConfig(conf, afero.NewOsFs())
	rec, err := wal.Recover(opts)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(k.catalog)
	maxXid, err := wal.Replay(rec.Batches, store.Apply)
	if err != nil {
		return nil, err
	}
	xacts := mvcc.NewManager()
	xacts.Seed(maxXid)
	w, err := wal.NewWriter(opts, rec)
	if err != nil {
		return nil, err
	}
	k.engine = engine.New(store, xacts, w)
	log.Infof("recovered %d batches up to lsn %d, last xid %d", len(rec.Batches), rec.LastLSN, maxXid)

	if k.stmts, err = conn.NewStmtCache(stmtCacheBytes); err != nil {
		return nil, err
	}
	if k.procs, err = sandbox.NewRuntime(ctx, k.reg, k.stmts, conf.WasmMemoryPages); err != nil {
		return nil, err
	}
	if err = procs.Register(k.procs); err != nil {
		return nil, err
	}
	if conf.ProcedurePath != "" {
		if _, serr := os.Stat(conf.ProcedurePath); serr == nil {
			if err = k.procs.LoadDir(ctx, conf.ProcedurePath); err != nil {
				return nil, err
			}
		} else {
			log.Warnf("procedure path %s: %v", conf.ProcedurePath, serr)
		}
	}
	ok = true
	return k, nil
}

func (k *Kernel) Config() *config.Config       { return k.conf }
func (k *Kernel) Engine() *engine.Engine       { return k.engine }
func (k *Kernel) Procedures() *sandbox.Runtime { return k.procs }
func (k *Kernel) Registry() *session.Registry  { return k.reg }

// Connect opens a connection on a new session.
func (k *Kernel) Connect() *conn.Conn {
	return conn.New(session.New(k.reg, k.engine), k.stmts)
}

// Call runs a procedure in a transaction of its own, committing it when the
// procedure succeeds and rolling it back otherwise. Params are converted to
// the declared parameter types.
func (k *Kernel) Call(ctx context.Context, proc string, params []types.Datum) (*record.Record, error) {
	desc, err := k.procs.Lookup(proc)
	if err != nil {
		return nil, err
	}
	pd := desc.ParamDesc()
	if len(params) != pd.Len() {
		return nil, ec.Newf(ec.ParseErr, "procedure %s takes %d arguments, got %d", proc, pd.Len(), len(params))
	}
	args := make([][]byte, len(params))
	for i, p := range params {
		if p.IsNull() {
			continue
		}
		col := pd.Column(i)
		if args[i], err = p.Binary(col.ID, col.Param); err != nil {
			return nil, errors.Annotatef(err, "argument %s", col.Name)
		}
	}

	if err := k.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Trace(err)
	}
	defer k.sem.Release(1)

	s := session.New(k.reg, k.engine)
	sctx, err := s.Begin()
	if err != nil {
		return nil, err
	}
	values, err := k.procs.Invoke(ctx, sctx.Xid(), proc, args)
	if err != nil {
		if rerr := s.Rollback(); rerr != nil {
			log.Warnf("rollback of %s in transaction %d: %v", proc, sctx.Xid(), rerr)
		}
		return nil, err
	}
	if err := s.Commit(ctx); err != nil {
		return nil, err
	}
	return record.FromRow(desc.ReturnDesc(), values)
}

// StmtResult is the outcome of one statement run by Exec.
type StmtResult struct {
	Text     string
	Columns  []string
	Rows     [][]string
	Affected uint64
	Query    bool
}

// Exec runs a script of statements, each in a transaction of its own, and
// stops at the first failing statement.
func (k *Kernel) Exec(ctx context.Context, script string) ([]*StmtResult, error) {
	stmts, err := sql.ParseScript(script)
	if err != nil {
		return nil, err
	}
	if err := k.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Trace(err)
	}
	defer k.sem.Release(1)

	var out []*StmtResult
	for _, p := range stmts {
		res := &StmtResult{Text: p.Text, Query: p.ReadOnly()}
		err := k.engine.Run(ctx, func(txn *engine.Txn) error {
			r, err := txn.Execute(p, nil)
			if err != nil {
				return err
			}
			if !res.Query {
				res.Affected = r.Affected
				return nil
			}
			for _, c := range r.Rows.Desc().Columns() {
				res.Columns = append(res.Columns, c.Name)
			}
			for {
				row, ok, err := r.Rows.Next()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				text, err := r.Rows.Printable(row)
				if err != nil {
					return err
				}
				res.Rows = append(res.Rows, text)
			}
		})
		if err != nil {
			return out, errors.Annotatef(err, "statement %q", p.Text)
		}
		out = append(out, res)
	}
	return out, nil
}

// Close stops the log writer and closes the catalog. Open transactions are
// lost.
func (k *Kernel) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if k.procs != nil {
		keep(k.procs.Close(context.Background()))
	}
	k.stmts.Close()
	if k.engine != nil {
		keep(k.engine.WAL().Close())
	}
	if k.catalog != nil {
		keep(k.catalog.Close())
	}
	return first
}
