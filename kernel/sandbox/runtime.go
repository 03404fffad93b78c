// Package sandbox runs stored procedures. Procedures are either wasm modules
// executed in a fresh wazero instance per call or builtin Go functions; both
// receive a ProcParam, reach the kernel through the same host calls and
// answer with a ProcResult.
package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mudu-db/mudu/kernel/conn"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/session"
	"github.com/mudu-db/mudu/log"
	"github.com/pingcap/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const pageSize = 65536

// Builtin implements a procedure in Go.
type Builtin func(inv *Invocation, args [][]byte) ([][]byte, error)

type procedure struct {
	desc    *Descriptor
	module  wazero.CompiledModule
	builtin Builtin
}

type Runtime struct {
	rt    wazero.Runtime
	host  *host
	pages uint32

	mu      sync.RWMutex
	modules map[string]wazero.CompiledModule
	procs   map[string]*procedure
}

// NewRuntime creates a runtime whose procedures reach the transactions of
// reg. Each call grows the instance memory by pages pages for its input and
// output.
func NewRuntime(ctx context.Context, reg *session.Registry, stmts *conn.StmtCache, pages uint32) (*Runtime, error) {
	if pages < 1 {
		pages = 1
	}
	rt := wazero.NewRuntime(ctx)
	h := &host{reg: reg, stmts: stmts}
	if err := h.instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Trace(err)
	}
	return &Runtime{
		rt:      rt,
		host:    h,
		pages:   pages,
		modules: make(map[string]wazero.CompiledModule),
		procs:   make(map[string]*procedure),
	}, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Compile compiles and links a module under name. Procedures of a module
// compiled earlier under the same name move to the new one.
func (r *Runtime) Compile(ctx context.Context, name string, wasm []byte) error {
	m, err := r.rt.CompileModule(ctx, wasm)
	if err != nil {
		return ec.Newf(ec.MuduErr, "compile module %s: %v", name, err)
	}
	for _, f := range m.ImportedFunctions() {
		if mod, _, _ := f.Import(); mod != hostModule {
			m.Close(ctx)
			return ec.Newf(ec.MuduErr, "module %s imports from unknown module %s", name, mod)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = m
	for k, p := range r.procs {
		if p.module != nil && p.desc.Module == name {
			r.procs[k] = &procedure{desc: p.desc, module: m}
		}
	}
	log.Infof("sandbox: compiled module %s, %d exports", name, len(m.ExportedFunctions()))
	return nil
}

func checkEntry(m wazero.CompiledModule, entry string) error {
	f, ok := m.ExportedFunctions()[entry]
	if !ok {
		return ec.Newf(ec.NoSuchElement, "module does not export %s", entry)
	}
	params, results := f.ParamTypes(), f.ResultTypes()
	if len(params) != 4 || len(results) != 1 || results[0] != api.ValueTypeI32 {
		return ec.Newf(ec.MuduErr, "%s has signature %v -> %v", entry, params, results)
	}
	for _, p := range params {
		if p != api.ValueTypeI32 {
			return ec.Newf(ec.MuduErr, "%s has signature %v -> %v", entry, params, results)
		}
	}
	if _, ok := m.ExportedMemories()["memory"]; !ok {
		return ec.New(ec.MuduErr, "module does not export its memory")
	}
	return nil
}

// Register binds a resolved descriptor to the compiled module it names.
func (r *Runtime) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[d.Module]
	if !ok {
		return ec.Newf(ec.NoSuchElement, "procedure %s: no module %s", d.Proc, d.Module)
	}
	if err := checkEntry(m, d.Entry()); err != nil {
		return errors.Annotatef(err, "procedure %s", d.Proc)
	}
	r.procs[d.Proc] = &procedure{desc: d, module: m}
	return nil
}

// RegisterBuiltin binds a resolved descriptor to a Go implementation.
func (r *Runtime) RegisterBuiltin(d *Descriptor, fn Builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[d.Proc] = &procedure{desc: d, builtin: fn}
}

// LoadDir compiles every module in dir and registers the procedures its
// descriptor files declare. A descriptor without a module uses the module
// named like the procedure.
func (r *Runtime) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Trace(err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != moduleExt {
			continue
		}
		wasm, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return errors.Trace(err)
		}
		if err := r.Compile(ctx, e.Name()[:len(e.Name())-len(moduleExt)], wasm); err != nil {
			return err
		}
	}
	descs, err := LoadDescriptors(dir)
	if err != nil {
		return err
	}
	for _, d := range descs {
		if d.Module == "" {
			d.Module = d.Proc
		}
		if err := r.Register(d); err != nil {
			return err
		}
	}
	log.Infof("sandbox: loaded %d procedures from %s", len(descs), dir)
	return nil
}

// Lookup returns the descriptor of a registered procedure.
func (r *Runtime) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "no procedure %s", name)
	}
	return p.desc, nil
}

func (r *Runtime) Procedures() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Proc < out[j].Proc })
	return out
}

// Invoke calls a procedure in transaction xid, which must be registered with
// the runtime's session registry. A non-nil error means the caller has to
// roll the transaction back.
func (r *Runtime) Invoke(ctx context.Context, xid uint64, name string, args [][]byte) ([][]byte, error) {
	r.mu.RLock()
	p, ok := r.procs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "no procedure %s", name)
	}
	if len(args) != p.desc.ParamDesc().Len() {
		return nil, ec.Newf(ec.ParseErr, "procedure %s takes %d arguments, got %d", name, p.desc.ParamDesc().Len(), len(args))
	}
	start := time.Now()
	in := EncodeProcParam(&ProcParam{Xid: xid, Args: args})
	var (
		out []byte
		err error
	)
	if p.builtin != nil {
		out = runBuiltin(p.builtin, &Invocation{xid: xid, h: r.host}, in)
	} else {
		out, err = r.runModule(ctx, p, in)
	}
	callDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		callCounter.WithLabelValues("trap").Inc()
		return nil, err
	}
	res, err := DecodeProcResult(out)
	if err != nil {
		callCounter.WithLabelValues("trap").Inc()
		return nil, errors.Annotatef(err, "procedure %s result", name)
	}
	if err := res.Err(); err != nil {
		callCounter.WithLabelValues("error").Inc()
		return nil, err
	}
	callCounter.WithLabelValues("ok").Inc()
	return res.Values, nil
}

func runBuiltin(fn Builtin, inv *Invocation, in []byte) []byte {
	param, err := DecodeProcParam(in)
	if err != nil {
		kind, msg := errorParts(err)
		return EncodeProcResult(&ProcResult{Kind: kind, Msg: msg})
	}
	values, err := fn(inv, param.Args)
	if err != nil {
		kind, msg := errorParts(err)
		return EncodeProcResult(&ProcResult{Kind: kind, Msg: msg})
	}
	return EncodeProcResult(&ProcResult{Values: values})
}

// runModule runs the entry of p in a new instance. The input is written at
// the start of the grown memory and the rest of it is the output buffer.
func (r *Runtime) runModule(ctx context.Context, p *procedure, in []byte) ([]byte, error) {
	ctx = withStage(ctx, newStage())
	mod, err := r.rt.InstantiateModule(ctx, p.module, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, ec.Newf(ec.MuduErr, "instantiate %s: %v", p.desc.Module, err)
	}
	defer mod.Close(ctx)

	mem := mod.Memory()
	pages := r.pages
	// At least one page is left for the output.
	if need := uint32(len(in)/pageSize + 2); need > pages {
		pages = need
	}
	prev, ok := mem.Grow(pages)
	if !ok {
		return nil, ec.Newf(ec.WASMMemoryAccess, "cannot grow memory of %s by %d pages", p.desc.Module, pages)
	}
	inPtr := prev * pageSize
	outPtr := inPtr + uint32((len(in)+7)&^7)
	outLen := inPtr + pages*pageSize - outPtr
	if !mem.Write(inPtr, in) {
		return nil, ec.New(ec.WASMMemoryAccess, "write procedure parameters")
	}

	res, err := mod.ExportedFunction(p.desc.Entry()).Call(ctx, uint64(inPtr), uint64(len(in)), uint64(outPtr), uint64(outLen))
	if err != nil {
		return nil, ec.Newf(ec.MuduErr, "procedure %s: %v", p.desc.Proc, err)
	}
	if rc := int32(uint32(res[0])); rc != 0 {
		// A failing procedure may still have left a result explaining why.
		if out, err := readResult(mem, outPtr, outLen); err == nil {
			if pr, err := DecodeProcResult(out); err == nil && pr.Kind != ec.OK {
				return out, nil
			}
		}
		return nil, ec.Newf(ec.MuduErr, "procedure %s returned %d", p.desc.Proc, rc)
	}
	return readResult(mem, outPtr, outLen)
}

func readResult(mem api.Memory, ptr, limit uint32) ([]byte, error) {
	hdr, ok := mem.Read(ptr, envelopeHeader)
	if !ok {
		return nil, ec.New(ec.WASMMemoryAccess, "read procedure result")
	}
	n, err := envelopeLen(hdr)
	if err != nil {
		return nil, err
	}
	if uint32(n) > limit {
		return nil, ec.Newf(ec.Decode, "procedure result of %d bytes overruns its %d byte buffer", n, limit)
	}
	b, ok := mem.Read(ptr, uint32(n))
	if !ok {
		return nil, ec.New(ec.WASMMemoryAccess, "read procedure result")
	}
	return append([]byte(nil), b...), nil
}
