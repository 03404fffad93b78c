// Package conn is the connection façade: it binds positional parameters to a
// cached statement template and runs it in the transaction of a session.
package conn

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/engine"
	"github.com/mudu-db/mudu/kernel/session"
	"github.com/mudu-db/mudu/kernel/sql"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/pingcap/errors"
)

// StmtCache keeps parsed statement templates by text.
type StmtCache struct {
	cache *ristretto.Cache[string, *sql.Parsed]
}

// NewStmtCache bounds the cache by the total text length of its templates.
func NewStmtCache(maxBytes int64) (*StmtCache, error) {
	counters := maxBytes / 8
	if counters < 1000 {
		counters = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *sql.Parsed]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &StmtCache{cache: cache}, nil
}

func (c *StmtCache) Parse(text string) (*sql.Parsed, error) {
	if c == nil {
		return sql.Parse(text)
	}
	if p, ok := c.cache.Get(text); ok {
		return p, nil
	}
	p, err := sql.Parse(text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, p, int64(len(text)))
	return p, nil
}

func (c *StmtCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}

// Conn is the façade of one session.
type Conn struct {
	s     *session.Session
	stmts *StmtCache
}

func New(s *session.Session, stmts *StmtCache) *Conn {
	return &Conn{s: s, stmts: stmts}
}

func (c *Conn) Session() *session.Session { return c.s }

// BeginTx starts the session's transaction and returns its xid.
func (c *Conn) BeginTx() (uint64, error) {
	ctx, err := c.s.Begin()
	if err != nil {
		return 0, err
	}
	return ctx.Xid(), nil
}

func (c *Conn) CommitTx(ctx context.Context) error {
	return c.s.Commit(ctx)
}

func (c *Conn) RollbackTx() error {
	return c.s.Rollback()
}

func (c *Conn) current() (*session.Context, error) {
	ctx := c.s.Current()
	if ctx == nil {
		return nil, ec.Newf(ec.TxErr, "session %s has no transaction", c.s.ID)
	}
	return ctx, nil
}

// Query runs a SELECT in the session's transaction.
func (c *Conn) Query(text string, params []types.Datum) (*engine.ResultSet, *tuple.Desc, error) {
	ctx, err := c.current()
	if err != nil {
		return nil, nil, err
	}
	return Query(ctx, c.stmts, text, params)
}

// Command runs any other statement in the session's transaction.
func (c *Conn) Command(text string, params []types.Datum) (uint64, error) {
	ctx, err := c.current()
	if err != nil {
		return 0, err
	}
	return Command(ctx, c.stmts, text, params)
}

// Query runs a SELECT in the transaction of ctx.
func Query(ctx *session.Context, stmts *StmtCache, text string, params []types.Datum) (*engine.ResultSet, *tuple.Desc, error) {
	res, err := run(ctx, stmts, text, params, true)
	if err != nil {
		return nil, nil, err
	}
	return res.Rows, res.Rows.Desc(), nil
}

// Command runs a statement that does not return rows in the transaction of ctx.
func Command(ctx *session.Context, stmts *StmtCache, text string, params []types.Datum) (uint64, error) {
	res, err := run(ctx, stmts, text, params, false)
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

func run(ctx *session.Context, stmts *StmtCache, text string, params []types.Datum, query bool) (*engine.Result, error) {
	tmpl, err := stmts.Parse(text)
	if err != nil {
		return nil, err
	}
	if tmpl.ReadOnly() != query {
		if query {
			return nil, ec.New(ec.ParseErr, "statement does not return rows")
		}
		return nil, ec.New(ec.ParseErr, "statement returns rows")
	}
	var args []interface{}
	if len(tmpl.Placeholders) > 0 || len(params) > 0 {
		if args, err = Bind(ctx.Txn.Engine().Store(), tmpl, params); err != nil {
			return nil, err
		}
	}
	return ctx.Txn.Execute(tmpl, args)
}

// ParamDescs resolves the type of every placeholder of p against the
// schema of the table it names.
func ParamDescs(store *storage.Store, p *sql.Parsed) ([]types.DatumDesc, error) {
	targets := sql.Targets(p.Stmt)
	if len(targets) == 0 {
		return nil, nil
	}
	tbl, err := store.Table(tableOf(p.Stmt))
	if err != nil {
		return nil, err
	}
	schema := tbl.Schema
	out := make([]types.DatumDesc, len(targets))
	for i, target := range targets {
		var col int
		switch {
		case target.Column != "":
			if col, err = schema.Column(target.Column); err != nil {
				return nil, err
			}
		case target.Position >= 0 && target.Position < schema.Desc.Len():
			col = target.Position
		default:
			return nil, ec.Newf(ec.ParseErr, "cannot infer the type of placeholder %d", i+1)
		}
		out[i] = schema.Desc.Column(col)
	}
	return out, nil
}

func tableOf(stmt sql.Statement) string {
	switch s := stmt.(type) {
	case *sql.Insert:
		return s.Table
	case *sql.Update:
		return s.Table
	case *sql.Delete:
		return s.Table
	case *sql.Select:
		return s.Table
	}
	return ""
}

// Bind converts params to the Go values of their resolved types, in
// placeholder order. NULL stays nil.
func Bind(store *storage.Store, p *sql.Parsed, params []types.Datum) ([]interface{}, error) {
	if len(params) != len(p.Placeholders) {
		return nil, ec.Newf(ec.ParseErr, "statement has %d placeholders, got %d parameters", len(p.Placeholders), len(params))
	}
	descs, err := ParamDescs(store, p)
	if err != nil {
		return nil, err
	}
	args := make([]interface{}, len(params))
	for i, param := range params {
		if param.IsNull() {
			continue
		}
		d := descs[i]
		// Typed params are converted too, so every value is checked
		// against its column.
		v, err := param.Internal(d.ID, d.Param)
		if err != nil {
			return nil, errors.Annotatef(err, "parameter %d", i+1)
		}
		if args[i], err = types.MustGet(d.ID).ToTyped(v, d.Param); err != nil {
			return nil, errors.Annotatef(err, "parameter %d", i+1)
		}
	}
	return args, nil
}
