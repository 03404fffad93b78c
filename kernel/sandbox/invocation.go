package sandbox

import (
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/record"
)

// Invocation is what a builtin procedure sees of its call: the xid it runs
// in and the same host calls a wasm module imports.
type Invocation struct {
	xid uint64
	h   *host
}

func (inv *Invocation) Xid() uint64 { return inv.xid }

// Query runs a SELECT. Params are binary values of the types their
// placeholders resolve to; nil is NULL.
func (inv *Invocation) Query(sql string, params ...[]byte) (*Rows, error) {
	b, _ := inv.h.query(EncodeStatementIn(&StatementIn{Xid: inv.xid, SQL: sql, Params: params}))
	out, err := DecodeQueryOut(b)
	if err != nil {
		return nil, err
	}
	if out.Kind != ec.OK {
		return nil, ec.New(out.Kind, out.Msg)
	}
	return &Rows{inv: inv, cursor: out.Cursor, desc: record.NewDesc(out.Columns)}, nil
}

// Command runs any other statement and returns the affected row count.
func (inv *Invocation) Command(sql string, params ...[]byte) (uint64, error) {
	b, _ := inv.h.command(EncodeStatementIn(&StatementIn{Xid: inv.xid, SQL: sql, Params: params}))
	out, err := DecodeCommandOut(b)
	if err != nil {
		return 0, err
	}
	if out.Kind != ec.OK {
		return 0, ec.New(out.Kind, out.Msg)
	}
	return out.Affected, nil
}

// Rows iterates a cursor opened by Query.
type Rows struct {
	inv    *Invocation
	cursor uint64
	desc   *record.Desc
	done   bool
}

func (r *Rows) Desc() *record.Desc { return r.desc }

// Next fetches one row. It returns false once the cursor is exhausted.
func (r *Rows) Next() ([][]byte, bool, error) {
	if r.done {
		return nil, false, nil
	}
	b, _ := r.inv.h.fetch(EncodeFetchIn(&FetchIn{Xid: r.inv.xid, Cursor: r.cursor}))
	out, err := DecodeFetchOut(b)
	if err != nil {
		return nil, false, err
	}
	if out.Kind != ec.OK {
		return nil, false, ec.New(out.Kind, out.Msg)
	}
	if out.Done {
		r.done = true
		return nil, false, nil
	}
	return out.Row, true, nil
}

// Scan fetches one row into the tagged struct dst.
func (r *Rows) Scan(dst interface{}) (bool, error) {
	row, ok, err := r.Next()
	if !ok || err != nil {
		return false, err
	}
	return true, record.Scan(r.desc, row, dst)
}
