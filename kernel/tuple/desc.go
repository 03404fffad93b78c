// Package tuple encodes rows into frames. A frame is a table of
// (offset u32, length u32) slots for the variable-length columns, then the
// fixed-length payloads, then the variable-length payloads.
package tuple

import (
	"sort"

	"github.com/mudu-db/mudu/kernel/types"
)

const slotSize = 8

// Desc is a normalized tuple descriptor. Fixed-length columns come first,
// then variable-length ones, each group stably sorted by type id. Every method
// taking a column index expects the public index, the position the column was
// declared at.
type Desc struct {
	cols   []types.DatumDesc // normalized order
	public []types.DatumDesc

	toNorm []int
	toPub  []int

	// Normalized index -> frame offset for fixed columns, slot index for var.
	offset []int
	size   []int

	numFixed int
	header   int
	fixedEnd int
}

func NewDesc(cols []types.DatumDesc) *Desc {
	order := make([]int, len(cols))
	for i := range order {
		order[i] = i
	}
	fixed := func(i int) bool {
		_, ok := types.FixedLen(cols[i].ID, cols[i].Param)
		return ok
	}
	sort.SliceStable(order, func(a, b int) bool {
		fa, fb := fixed(order[a]), fixed(order[b])
		if fa != fb {
			return fa
		}
		return cols[order[a]].ID < cols[order[b]].ID
	})

	d := &Desc{
		cols:   make([]types.DatumDesc, len(cols)),
		public: append([]types.DatumDesc(nil), cols...),
		toNorm: make([]int, len(cols)),
		toPub:  order,
		offset: make([]int, len(cols)),
		size:   make([]int, len(cols)),
	}
	for n, p := range order {
		d.cols[n] = cols[p]
		d.toNorm[p] = n
		if fixed(p) {
			d.numFixed++
		}
	}
	d.header = (len(cols) - d.numFixed) * slotSize
	pos := d.header
	for n := 0; n < d.numFixed; n++ {
		sz, _ := types.FixedLen(d.cols[n].ID, d.cols[n].Param)
		d.offset[n] = pos
		d.size[n] = sz
		pos += sz
	}
	d.fixedEnd = pos
	for n := d.numFixed; n < len(cols); n++ {
		d.offset[n] = n - d.numFixed
	}
	return d
}

// Len is the number of columns.
func (d *Desc) Len() int { return len(d.cols) }

// Column returns the descriptor of public column i.
func (d *Desc) Column(i int) types.DatumDesc { return d.public[i] }

// Columns returns the columns in declaration order.
func (d *Desc) Columns() []types.DatumDesc { return d.public }

// Index returns the public index of the named column, or -1.
func (d *Desc) Index(name string) int {
	for i, c := range d.public {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (d *Desc) IsFixed(i int) bool { return d.toNorm[i] < d.numFixed }

// Normalized maps a public index to its position in the normalized order.
func (d *Desc) Normalized(i int) int { return d.toNorm[i] }

// Public maps a normalized position back to the public index.
func (d *Desc) Public(n int) int { return d.toPub[n] }

// MinSize is the frame size when every variable column is empty.
func (d *Desc) MinSize() int { return d.fixedEnd }

// Project builds the descriptor of the given public columns.
func (d *Desc) Project(cols []int) *Desc {
	out := make([]types.DatumDesc, len(cols))
	for i, c := range cols {
		out[i] = d.public[c]
	}
	return NewDesc(out)
}
