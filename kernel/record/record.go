// Package record maps rows to named values and to tagged Go structs.
package record

import (
	"strings"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
)

// Desc names the columns of a row. Lookups ignore case.
type Desc struct {
	cols  []types.DatumDesc
	index map[string]int
}

func NewDesc(cols []types.DatumDesc) *Desc {
	d := &Desc{cols: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		d.index[strings.ToLower(c.Name)] = i
	}
	return d
}

// FromTuple names the public columns of a tuple descriptor.
func FromTuple(td *tuple.Desc) *Desc {
	return NewDesc(td.Columns())
}

func (d *Desc) Len() int                     { return len(d.cols) }
func (d *Desc) Column(i int) types.DatumDesc { return d.cols[i] }
func (d *Desc) Columns() []types.DatumDesc   { return d.cols }
func (d *Desc) TupleDesc() *tuple.Desc       { return tuple.NewDesc(d.cols) }

func (d *Desc) Index(name string) (int, error) {
	i, ok := d.index[strings.ToLower(name)]
	if !ok {
		return -1, ec.Newf(ec.NoSuchElement, "no column %s", name)
	}
	return i, nil
}

// Record is one row as datums, addressed by column name.
type Record struct {
	desc   *Desc
	values []types.Datum
}

// New returns a record with every column null.
func New(desc *Desc) *Record {
	return &Record{desc: desc, values: make([]types.Datum, desc.Len())}
}

func (r *Record) Desc() *Desc { return r.desc }

func (r *Record) Get(name string) (types.Datum, error) {
	i, err := r.desc.Index(name)
	if err != nil {
		return types.Null(), err
	}
	return r.values[i], nil
}

func (r *Record) Set(name string, v types.Datum) error {
	i, err := r.desc.Index(name)
	if err != nil {
		return err
	}
	r.values[i] = v
	return nil
}

// Typed returns the Go value of a column.
func (r *Record) Typed(name string) (interface{}, error) {
	i, err := r.desc.Index(name)
	if err != nil {
		return nil, err
	}
	col := r.desc.cols[i]
	return r.values[i].Typed(col.ID, col.Param)
}

// Row encodes the record as one binary value per column.
func (r *Record) Row() ([][]byte, error) {
	out := make([][]byte, len(r.values))
	for i, v := range r.values {
		col := r.desc.cols[i]
		b, err := v.Binary(col.ID, col.Param)
		if err != nil {
			return nil, ec.Newf(ec.ConvertErr, "column %s: %v", col.Name, err)
		}
		out[i] = b
	}
	return out, nil
}

// FromRow wraps binary column values. A nil value is NULL.
func FromRow(desc *Desc, row [][]byte) (*Record, error) {
	if len(row) != desc.Len() {
		return nil, ec.Newf(ec.Decode, "row has %d values, descriptor %d", len(row), desc.Len())
	}
	r := New(desc)
	for i, b := range row {
		if b != nil {
			r.values[i] = types.Binary(b)
		}
	}
	return r, nil
}

// Frame builds the tuple frame of the record.
func (r *Record) Frame() ([]byte, error) {
	return tuple.Build(r.desc.TupleDesc(), r.values)
}

// FromFrame decodes a tuple frame built with td.
func FromFrame(td *tuple.Desc, frame []byte) (*Record, error) {
	values, err := tuple.Decode(td, frame)
	if err != nil {
		return nil, err
	}
	return &Record{desc: FromTuple(td), values: values}, nil
}
