package sandbox

import (
	"encoding/binary"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/types"
)

// Every message crossing the sandbox boundary is an envelope: a big-endian
// u64 body length followed by the body. Integers in bodies are big-endian,
// strings and values carry a u32 length. A value of length 0xffffffff is
// NULL.
const (
	envelopeHeader = 8
	nullLen        = ^uint32(0)
)

// ProcParam is the input of a procedure call.
type ProcParam struct {
	Xid  uint64
	Args [][]byte
}

// ProcResult is the output of a procedure call. Kind is ec.OK on success.
type ProcResult struct {
	Kind   ec.Kind
	Msg    string
	Values [][]byte
}

// Err turns a failed result back into an error.
func (r *ProcResult) Err() error {
	if r.Kind == ec.OK {
		return nil
	}
	return ec.New(r.Kind, r.Msg)
}

// StatementIn is the input of sys_query and sys_command.
type StatementIn struct {
	Xid    uint64
	SQL    string
	Params [][]byte
}

// QueryOut answers sys_query with a cursor over the result rows.
type QueryOut struct {
	Kind    ec.Kind
	Msg     string
	Cursor  uint64
	Columns []types.DatumDesc
}

// CommandOut answers sys_command.
type CommandOut struct {
	Kind     ec.Kind
	Msg      string
	Affected uint64
}

// FetchIn is the input of sys_fetch.
type FetchIn struct {
	Xid    uint64
	Cursor uint64
}

// FetchOut answers sys_fetch. Done is set once the cursor is exhausted, in
// which case Row is empty and the cursor is closed.
type FetchOut struct {
	Kind ec.Kind
	Msg  string
	Done bool
	Row  [][]byte
}

// errorParts splits err into the kind and message carried by an output.
func errorParts(err error) (ec.Kind, string) {
	if err == nil {
		return ec.OK, ""
	}
	return ec.KindOf(err), ec.MessageOf(err)
}

type encoder struct {
	b []byte
}

func newEncoder() *encoder {
	return &encoder{b: make([]byte, envelopeHeader, 64)}
}

func (e *encoder) u8(v uint8) { e.b = append(e.b, v) }

func (e *encoder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encoder) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.b = append(e.b, s...)
}

func (e *encoder) kind(k ec.Kind, msg string) {
	e.u32(uint32(k))
	e.str(msg)
}

func (e *encoder) values(vs [][]byte) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		if v == nil {
			e.u32(nullLen)
			continue
		}
		e.u32(uint32(len(v)))
		e.b = append(e.b, v...)
	}
}

func (e *encoder) finish() []byte {
	binary.BigEndian.PutUint64(e.b, uint64(len(e.b)-envelopeHeader))
	return e.b
}

type decoder struct {
	b   []byte
	err error
}

// newDecoder checks the envelope of b.
func newDecoder(b []byte) *decoder {
	d := &decoder{b: b}
	n := d.u64()
	if d.err == nil && uint64(len(d.b)) != n {
		d.err = ec.Newf(ec.Decode, "envelope says %d bytes, body has %d", n, len(d.b))
	}
	return d
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if len(d.b) < n {
		d.err = ec.Newf(ec.Decode, "message truncated, need %d bytes, have %d", n, len(d.b))
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.b)
	d.b = d.b[4:]
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.b)
	d.b = d.b[8:]
	return v
}

func (d *decoder) str() string {
	n := int(d.u32())
	if !d.need(n) {
		return ""
	}
	s := string(d.b[:n])
	d.b = d.b[n:]
	return s
}

func (d *decoder) kind() (ec.Kind, string) {
	k := ec.Kind(d.u32())
	return k, d.str()
}

func (d *decoder) values() [][]byte {
	count := d.u32()
	if count > uint32(len(d.b)/4) {
		d.need(int(count) * 4)
		return nil
	}
	out := make([][]byte, 0, count)
	for i := uint32(0); i < count && d.err == nil; i++ {
		n := d.u32()
		if n == nullLen {
			out = append(out, nil)
			continue
		}
		if !d.need(int(n)) {
			return nil
		}
		out = append(out, append([]byte{}, d.b[:n]...))
		d.b = d.b[n:]
	}
	return out
}

func (d *decoder) done() error {
	if d.err == nil && len(d.b) != 0 {
		d.err = ec.Newf(ec.Decode, "%d trailing bytes", len(d.b))
	}
	return d.err
}

func EncodeProcParam(p *ProcParam) []byte {
	e := newEncoder()
	e.u64(p.Xid)
	e.values(p.Args)
	return e.finish()
}

func DecodeProcParam(b []byte) (*ProcParam, error) {
	d := newDecoder(b)
	p := &ProcParam{Xid: d.u64()}
	p.Args = d.values()
	return p, d.done()
}

func EncodeProcResult(r *ProcResult) []byte {
	e := newEncoder()
	e.kind(r.Kind, r.Msg)
	e.values(r.Values)
	return e.finish()
}

func DecodeProcResult(b []byte) (*ProcResult, error) {
	d := newDecoder(b)
	r := &ProcResult{}
	r.Kind, r.Msg = d.kind()
	r.Values = d.values()
	return r, d.done()
}

func EncodeStatementIn(s *StatementIn) []byte {
	e := newEncoder()
	e.u64(s.Xid)
	e.str(s.SQL)
	e.values(s.Params)
	return e.finish()
}

func DecodeStatementIn(b []byte) (*StatementIn, error) {
	d := newDecoder(b)
	s := &StatementIn{Xid: d.u64()}
	s.SQL = d.str()
	s.Params = d.values()
	return s, d.done()
}

func EncodeQueryOut(q *QueryOut) []byte {
	e := newEncoder()
	e.kind(q.Kind, q.Msg)
	e.u64(q.Cursor)
	e.u32(uint32(len(q.Columns)))
	for _, c := range q.Columns {
		e.str(c.Name)
		e.u32(uint32(c.ID))
		args := c.Param.Args()
		e.u32(uint32(len(args)))
		for _, a := range args {
			e.str(a)
		}
	}
	return e.finish()
}

func DecodeQueryOut(b []byte) (*QueryOut, error) {
	d := newDecoder(b)
	q := &QueryOut{}
	q.Kind, q.Msg = d.kind()
	q.Cursor = d.u64()
	n := d.u32()
	for i := uint32(0); i < n && d.err == nil; i++ {
		name := d.str()
		id := types.ID(d.u32())
		var args []string
		for j, m := uint32(0), d.u32(); j < m && d.err == nil; j++ {
			args = append(args, d.str())
		}
		if d.err != nil {
			break
		}
		p, err := types.ParamFor(id, args)
		if err != nil {
			return nil, err
		}
		q.Columns = append(q.Columns, types.DatumDesc{Name: name, ID: id, Param: p})
	}
	return q, d.done()
}

func EncodeCommandOut(c *CommandOut) []byte {
	e := newEncoder()
	e.kind(c.Kind, c.Msg)
	e.u64(c.Affected)
	return e.finish()
}

func DecodeCommandOut(b []byte) (*CommandOut, error) {
	d := newDecoder(b)
	c := &CommandOut{}
	c.Kind, c.Msg = d.kind()
	c.Affected = d.u64()
	return c, d.done()
}

func EncodeFetchIn(f *FetchIn) []byte {
	e := newEncoder()
	e.u64(f.Xid)
	e.u64(f.Cursor)
	return e.finish()
}

func DecodeFetchIn(b []byte) (*FetchIn, error) {
	d := newDecoder(b)
	f := &FetchIn{Xid: d.u64()}
	f.Cursor = d.u64()
	return f, d.done()
}

func EncodeFetchOut(f *FetchOut) []byte {
	e := newEncoder()
	e.kind(f.Kind, f.Msg)
	if f.Done {
		e.u8(1)
	} else {
		e.u8(0)
	}
	e.values(f.Row)
	return e.finish()
}

func DecodeFetchOut(b []byte) (*FetchOut, error) {
	d := newDecoder(b)
	f := &FetchOut{}
	f.Kind, f.Msg = d.kind()
	f.Done = d.u8() != 0
	f.Row = d.values()
	return f, d.done()
}

// envelopeLen reads the total size of the envelope starting at b.
func envelopeLen(b []byte) (int, error) {
	if len(b) < envelopeHeader {
		return 0, ec.Newf(ec.Decode, "envelope header truncated")
	}
	n := binary.BigEndian.Uint64(b)
	if n > uint64(^uint32(0)) {
		return 0, ec.Newf(ec.Decode, "envelope of %d bytes is too large", n)
	}
	return envelopeHeader + int(n), nil
}
