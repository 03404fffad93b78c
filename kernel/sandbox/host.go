package sandbox

import (
	"context"
	"sync"

	"github.com/mudu-db/mudu/kernel/conn"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/session"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const hostModule = "env"

// host serves the kernel side of the procedure ABI. Its handlers take and
// return encoded messages; the wasm bindings and the builtin invocation path
// both go through them.
type host struct {
	reg   *session.Registry
	stmts *conn.StmtCache
}

func datums(params [][]byte) []types.Datum {
	out := make([]types.Datum, len(params))
	for i, p := range params {
		if p == nil {
			out[i] = types.Null()
		} else {
			out[i] = types.Binary(p)
		}
	}
	return out
}

func (h *host) query(in []byte) ([]byte, ec.Kind) {
	out := &QueryOut{}
	err := func() error {
		stmt, err := DecodeStatementIn(in)
		if err != nil {
			return err
		}
		ctx, err := h.reg.Lookup(stmt.Xid)
		if err != nil {
			return err
		}
		rs, desc, err := conn.Query(ctx, h.stmts, stmt.SQL, datums(stmt.Params))
		if err != nil {
			return err
		}
		out.Cursor = ctx.OpenCursor(rs)
		out.Columns = desc.Columns()
		return nil
	}()
	out.Kind, out.Msg = errorParts(err)
	hostCallCounter.WithLabelValues("query").Inc()
	return EncodeQueryOut(out), out.Kind
}

func (h *host) command(in []byte) ([]byte, ec.Kind) {
	out := &CommandOut{}
	err := func() error {
		stmt, err := DecodeStatementIn(in)
		if err != nil {
			return err
		}
		ctx, err := h.reg.Lookup(stmt.Xid)
		if err != nil {
			return err
		}
		out.Affected, err = conn.Command(ctx, h.stmts, stmt.SQL, datums(stmt.Params))
		return err
	}()
	out.Kind, out.Msg = errorParts(err)
	hostCallCounter.WithLabelValues("command").Inc()
	return EncodeCommandOut(out), out.Kind
}

func (h *host) fetch(in []byte) ([]byte, ec.Kind) {
	out := &FetchOut{}
	err := func() error {
		f, err := DecodeFetchIn(in)
		if err != nil {
			return err
		}
		ctx, err := h.reg.Lookup(f.Xid)
		if err != nil {
			return err
		}
		rs, err := ctx.Cursor(f.Cursor)
		if err != nil {
			return err
		}
		row, ok, err := rs.Next()
		if err != nil {
			return err
		}
		if !ok {
			ctx.CloseCursor(f.Cursor)
			out.Done = true
			return nil
		}
		out.Row = row
		return nil
	}()
	out.Kind, out.Msg = errorParts(err)
	hostCallCounter.WithLabelValues("fetch").Inc()
	return EncodeFetchOut(out), out.Kind
}

// stage holds outputs that did not fit the guest's buffer until the guest
// asks for them with sys_get_memory. Handles are single use.
type stage struct {
	mu   sync.Mutex
	next uint32
	bufs map[uint32][]byte
}

func newStage() *stage {
	return &stage{bufs: make(map[uint32][]byte)}
}

func (s *stage) put(b []byte) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.bufs[s.next] = b
	return s.next
}

// take removes and returns the buffer of id if it fits in n bytes.
func (s *stage) take(id uint32, n uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bufs[id]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "no staged memory %d", id)
	}
	if uint32(len(b)) > n {
		return nil, &ec.ErrLowBufSpace{Need: len(b)}
	}
	delete(s.bufs, id)
	return b, nil
}

func (s *stage) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bufs)
}

type stageKey struct{}

func withStage(ctx context.Context, s *stage) context.Context {
	return context.WithValue(ctx, stageKey{}, s)
}

func stageOf(ctx context.Context) *stage {
	s, _ := ctx.Value(stageKey{}).(*stage)
	return s
}

func code(kind ec.Kind) int32 { return -int32(kind) }

type hostCall func(ctx context.Context, m api.Module, inPtr, inLen, outPtr, outLen, outLenRet, memIDRet uint32) int32

// bind exposes handle to the guest. The output goes to the guest buffer when
// it fits and to the call's stage otherwise. Either way its length is written
// to *outLenRet and the stage handle, or 0, to *memIDRet, as little-endian
// u32s.
func bind(handle func([]byte) ([]byte, ec.Kind)) hostCall {
	return func(ctx context.Context, m api.Module, inPtr, inLen, outPtr, outLen, outLenRet, memIDRet uint32) int32 {
		mem := m.Memory()
		in, ok := mem.Read(inPtr, inLen)
		if !ok {
			return code(ec.WASMMemoryAccess)
		}
		out, kind := handle(in)
		var memID uint32
		if uint32(len(out)) <= outLen {
			if !mem.Write(outPtr, out) {
				return code(ec.WASMMemoryAccess)
			}
		} else {
			s := stageOf(ctx)
			if s == nil {
				return code(ec.DBInternalErr)
			}
			memID = s.put(out)
		}
		if !mem.WriteUint32Le(outLenRet, uint32(len(out))) || !mem.WriteUint32Le(memIDRet, memID) {
			return code(ec.WASMMemoryAccess)
		}
		return code(kind)
	}
}

func getMemory(ctx context.Context, m api.Module, memID, outPtr, outLen uint32) int32 {
	s := stageOf(ctx)
	if s == nil {
		return code(ec.DBInternalErr)
	}
	b, err := s.take(memID, outLen)
	if err != nil {
		return code(ec.KindOf(err))
	}
	if !m.Memory().Write(outPtr, b) {
		return code(ec.WASMMemoryAccess)
	}
	return 0
}

func (h *host) instantiate(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(bind(h.query)).Export("sys_query").
		NewFunctionBuilder().WithFunc(bind(h.command)).Export("sys_command").
		NewFunctionBuilder().WithFunc(bind(h.fetch)).Export("sys_fetch").
		NewFunctionBuilder().WithFunc(getMemory).Export("sys_get_memory").
		Instantiate(ctx)
	return err
}
