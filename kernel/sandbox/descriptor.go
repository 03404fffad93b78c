package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/record"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/pingcap/errors"
)

const (
	descriptorExt = ".toml"
	moduleExt     = ".wasm"
	entryPrefix   = "__mudu_proc_"
)

// ValueDef is one parameter or return value of a procedure.
type ValueDef struct {
	Name   string   `toml:"name"`
	Type   string   `toml:"type_id"`
	Params []string `toml:"params,omitempty"`
}

// Descriptor pairs a procedure with the module exporting it and the types of
// its parameters and return values.
type Descriptor struct {
	Module  string     `toml:"module"`
	Proc    string     `toml:"proc"`
	Params  []ValueDef `toml:"params"`
	Returns []ValueDef `toml:"returns"`

	params  *record.Desc
	returns *record.Desc
}

func resolve(defs []ValueDef) (*record.Desc, error) {
	cols := make([]types.DatumDesc, len(defs))
	for i, v := range defs {
		id, err := types.ParseID(v.Type)
		if err != nil {
			return nil, errors.Annotatef(err, "value %s", v.Name)
		}
		p, err := types.ParamFor(id, v.Params)
		if err != nil {
			return nil, errors.Annotatef(err, "value %s", v.Name)
		}
		cols[i] = types.DatumDesc{Name: v.Name, ID: id, Param: p}
	}
	return record.NewDesc(cols), nil
}

// Resolve checks the descriptor and resolves its value types.
func (d *Descriptor) Resolve() error {
	if d.Proc == "" {
		return ec.New(ec.ParseErr, "procedure name is empty")
	}
	var err error
	if d.params, err = resolve(d.Params); err != nil {
		return errors.Annotatef(err, "procedure %s", d.Proc)
	}
	if d.returns, err = resolve(d.Returns); err != nil {
		return errors.Annotatef(err, "procedure %s", d.Proc)
	}
	return nil
}

func (d *Descriptor) ParamDesc() *record.Desc  { return d.params }
func (d *Descriptor) ReturnDesc() *record.Desc { return d.returns }

// Entry is the exported function implementing the procedure.
func (d *Descriptor) Entry() string { return entryPrefix + d.Proc }

// ParseDescriptor decodes and resolves one descriptor document.
func ParseDescriptor(text string) (*Descriptor, error) {
	d := &Descriptor{}
	if _, err := toml.Decode(text, d); err != nil {
		return nil, ec.Newf(ec.ParseErr, "procedure descriptor: %v", err)
	}
	if err := d.Resolve(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadDescriptors reads every descriptor file in dir. A descriptor without a
// proc name takes it from the file name.
func LoadDescriptors(dir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var out []*Descriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), descriptorExt) {
			continue
		}
		text, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Trace(err)
		}
		d := &Descriptor{}
		if _, err := toml.Decode(string(text), d); err != nil {
			return nil, ec.Newf(ec.ParseErr, "%s: %v", e.Name(), err)
		}
		if d.Proc == "" {
			d.Proc = strings.TrimSuffix(e.Name(), descriptorExt)
		}
		if err := d.Resolve(); err != nil {
			return nil, errors.Annotatef(err, "%s", e.Name())
		}
		out = append(out, d)
	}
	return out, nil
}
