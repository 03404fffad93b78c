package sandbox

import (
	"context"
	"testing"

	"github.com/mudu-db/mudu/kernel/conn"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/engine"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/session"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte { return append(uleb(uint32(len(s))), s...) }

func section(id byte, body []byte) []byte {
	return append(append([]byte{id}, uleb(uint32(len(body)))...), body...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

const i32t = 0x7f

func functype(params, results int) []byte {
	p := make([][]byte, params)
	for i := range p {
		p[i] = []byte{i32t}
	}
	r := make([][]byte, results)
	for i := range r {
		r[i] = []byte{i32t}
	}
	return cat([]byte{0x60}, vec(p...), vec(r...))
}

func body(locals int, code ...[]byte) []byte {
	var decl []byte
	if locals == 0 {
		decl = vec()
	} else {
		decl = vec(cat(uleb(uint32(locals)), []byte{i32t}))
	}
	b := cat(decl, cat(code...), []byte{0x0b})
	return cat(uleb(uint32(len(b))), b)
}

func i32const(v int32) []byte  { return cat([]byte{0x41}, sleb(v)) }
func localGet(i uint32) []byte { return cat([]byte{0x20}, uleb(i)) }
func localSet(i uint32) []byte { return cat([]byte{0x21}, uleb(i)) }
func call(i uint32) []byte     { return cat([]byte{0x10}, uleb(i)) }

var (
	i32add  = []byte{0x6a}
	i32load = []byte{0x28, 0x02, 0x00}
	drop    = []byte{0x1a}
	memcopy = []byte{0xfc, 0x0a, 0x00, 0x00}
)

const (
	retAddr   = 4096
	memIDAddr = 4100
)

// commandModule builds a module with two procedures. insert copies its xid
// into a prepared sys_command input, runs it with a buffer too small for the
// answer, picks the answer up with sys_get_memory and writes a prepared
// result. fail returns 3.
func commandModule(t *testing.T, stmt *StatementIn, result *ProcResult) []byte {
	cmd := EncodeStatementIn(stmt)
	res := EncodeProcResult(result)
	resAt := int32((len(cmd) + 7) &^ 7)
	data := append(append([]byte{}, cmd...), make([]byte, int(resAt)-len(cmd))...)
	data = append(data, res...)
	require.Less(t, len(data), retAddr)

	insert := body(1,
		// memcopy(8, in_ptr+8, 8): the xid of the call.
		i32const(8), localGet(0), i32const(8), i32add, i32const(8), memcopy,
		// sys_command(0, len(cmd), out_ptr, 4, retAddr, memIDAddr)
		i32const(0), i32const(int32(len(cmd))), localGet(2), i32const(4), i32const(retAddr), i32const(memIDAddr), call(0), drop,
		// sys_get_memory(*memIDAddr, out_ptr, out_len)
		i32const(memIDAddr), i32load, localGet(2), localGet(3), call(1), localSet(4),
		localGet(2), i32const(resAt), i32const(int32(len(res))), memcopy,
		localGet(4),
	)
	fail := body(0, i32const(3))

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, vec(functype(6, 1), functype(4, 1), functype(3, 1))),
		section(2, vec(
			cat(name("env"), name("sys_command"), []byte{0x00}, uleb(0)),
			cat(name("env"), name("sys_get_memory"), []byte{0x00}, uleb(2)),
		)),
		section(3, vec(uleb(1), uleb(1))),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(
			cat(name("memory"), []byte{0x02}, uleb(0)),
			cat(name("__mudu_proc_insert"), []byte{0x00}, uleb(2)),
			cat(name("__mudu_proc_fail"), []byte{0x00}, uleb(3)),
		)),
		section(10, vec(insert, fail)),
		section(11, vec(cat([]byte{0x00}, i32const(0), []byte{0x0b}, uleb(uint32(len(data))), data))),
	)
}

type fixture struct {
	reg *session.Registry
	e   *engine.Engine
	rt  *Runtime
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	w, err := wal.NewWriter(wal.Options{FS: afero.NewMemMapFs(), Dir: "/xlog", Ext: "xl", Channels: 1, FileSizeLimit: 1 << 20}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	f := &fixture{
		reg: session.NewRegistry(),
		e:   engine.New(storage.NewStore(storage.NewMemCatalog()), mvcc.NewManager(), w),
	}
	f.rt, err = NewRuntime(ctx, f.reg, nil, 2)
	require.NoError(t, err)
	t.Cleanup(func() { f.rt.Close(ctx) })

	s := session.New(f.reg, f.e)
	sctx, err := s.Begin()
	require.NoError(t, err)
	_, err = conn.Command(sctx, nil, "CREATE TABLE t (a INT PRIMARY KEY, b VARCHAR(10))", nil)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))
	return f
}

func (f *fixture) rows(t *testing.T) [][]string {
	s := session.New(f.reg, f.e)
	sctx, err := s.Begin()
	require.NoError(t, err)
	defer s.Rollback()
	rs, _, err := conn.Query(sctx, nil, "SELECT * FROM t", nil)
	require.NoError(t, err)
	var out [][]string
	for {
		row, ok, err := rs.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		text, err := rs.Printable(row)
		require.NoError(t, err)
		out = append(out, text)
	}
}

func TestWasmProcedure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	seven, err := types.Typed(int32(7)).Binary(types.I32, nil)
	require.NoError(t, err)
	stmt := &StatementIn{SQL: "INSERT INTO t VALUES (?, ?)", Params: [][]byte{seven, []byte("seven")}}
	wasm := commandModule(t, stmt, &ProcResult{Values: [][]byte{[]byte("done")}})
	require.NoError(t, f.rt.Compile(ctx, "cmd", wasm))

	for _, proc := range []string{"insert", "fail"} {
		d, err := ParseDescriptor("module = \"cmd\"\nproc = \"" + proc + "\"\n")
		require.NoError(t, err)
		require.NoError(t, f.rt.Register(d))
	}
	d, err := ParseDescriptor("module = \"cmd\"\nproc = \"missing\"\n")
	require.NoError(t, err)
	require.True(t, ec.Is(f.rt.Register(d), ec.NoSuchElement))

	s := session.New(f.reg, f.e)
	sctx, err := s.Begin()
	require.NoError(t, err)
	_, err = f.rt.Invoke(ctx, sctx.Xid(), "fail", nil)
	require.True(t, ec.Is(err, ec.MuduErr))

	out, err := f.rt.Invoke(ctx, sctx.Xid(), "insert", nil)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("done")}, out)
	require.NoError(t, s.Commit(ctx))
	require.Equal(t, [][]string{{"7", "'seven'"}}, f.rows(t))

	_, err = f.rt.Invoke(ctx, 12345, "insert", [][]byte{seven})
	require.True(t, ec.Is(err, ec.ParseErr))
}

func TestBuiltinProcedure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := ParseDescriptor(`
proc = "copy"
params = [{ name = "a", type_id = "i32" }]
returns = [{ name = "n", type_id = "i64" }]
`)
	require.NoError(t, err)
	require.Equal(t, "__mudu_proc_copy", d.Entry())
	f.rt.RegisterBuiltin(d, func(inv *Invocation, args [][]byte) ([][]byte, error) {
		if _, err := inv.Command("INSERT INTO t VALUES (?, 'x')", args[0]); err != nil {
			return nil, err
		}
		rows, err := inv.Query("SELECT a, b FROM t WHERE a >= ?", args[0])
		if err != nil {
			return nil, err
		}
		var n int64
		for {
			var r struct {
				A int32  `mudu:"a"`
				B string `mudu:"b"`
			}
			ok, err := rows.Scan(&r)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if _, err := inv.Command("INSERT INTO t VALUES (?, ?)", i32(r.A+100), []byte(r.B+"y")); err != nil {
				return nil, err
			}
			n++
		}
		b, err := types.Typed(n).Binary(types.I64, nil)
		return [][]byte{b}, err
	})
	descs := f.rt.Procedures()
	require.Len(t, descs, 1)

	s := session.New(f.reg, f.e)
	sctx, err := s.Begin()
	require.NoError(t, err)
	out, err := f.rt.Invoke(ctx, sctx.Xid(), "copy", [][]byte{i32(5)})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0, 0, 0, 0, 0, 0, 0, 1}}, out)

	_, err = f.rt.Invoke(ctx, sctx.Xid(), "copy", [][]byte{i32(5)})
	require.True(t, ec.Is(err, ec.DuplicateElement), "%v", err)
	require.NoError(t, s.Rollback())
	require.Empty(t, f.rows(t))

	_, err = f.rt.Invoke(ctx, sctx.Xid(), "copy", [][]byte{i32(5)})
	require.True(t, ec.Is(err, ec.NoSuchElement))
}

func i32(v int32) []byte {
	b, _ := types.Typed(v).Binary(types.I32, nil)
	return b
}

func TestStage(t *testing.T) {
	s := newStage()
	id := s.put([]byte("hello"))
	_, err := s.take(id, 3)
	e, ok := ec.LowBufSpace(err)
	require.True(t, ok)
	require.Equal(t, 5, e.Need)
	b, err := s.take(id, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
	_, err = s.take(id, 5)
	require.True(t, ec.Is(err, ec.NoSuchElement))
	require.Zero(t, s.len())
}

func TestMessages(t *testing.T) {
	p, err := types.ParamFor(types.CharFixedLen, []string{"4"})
	require.NoError(t, err)
	q := &QueryOut{Cursor: 9, Columns: []types.DatumDesc{{Name: "a", ID: types.I32}, {Name: "c", ID: types.CharFixedLen, Param: p}}}
	back, err := DecodeQueryOut(EncodeQueryOut(q))
	require.NoError(t, err)
	require.Equal(t, uint64(9), back.Cursor)
	require.Equal(t, "c char(4)", back.Columns[1].String())

	f := &FetchOut{Row: [][]byte{nil, {}, []byte("x")}}
	fb, err := DecodeFetchOut(EncodeFetchOut(f))
	require.NoError(t, err)
	require.Nil(t, fb.Row[0])
	require.NotNil(t, fb.Row[1])
	require.False(t, fb.Done)

	enc := EncodeProcParam(&ProcParam{Xid: 3, Args: [][]byte{[]byte("ab")}})
	_, err = DecodeProcParam(enc[:len(enc)-1])
	require.True(t, ec.Is(err, ec.Decode))

	r, err := DecodeProcResult(EncodeProcResult(&ProcResult{Kind: ec.MuduErr, Msg: "insufficient funds"}))
	require.NoError(t, err)
	require.True(t, ec.Is(r.Err(), ec.MuduErr))
	require.Equal(t, "insufficient funds", ec.MessageOf(r.Err()))
}
