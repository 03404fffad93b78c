package engine

import (
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/sql"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
)

// ResultSet yields the rows of a SELECT one at a time. Rows are read under
// the snapshot of the transaction that ran the query; rows inserted after the
// query started are not returned.
type ResultSet struct {
	desc  *tuple.Desc
	scope scope
	cols  []int
	rows  []*storage.Row
	snap  *mvcc.Snapshot
	where []*sql.Comparison
	pos   int
}

// Desc describes the returned columns.
func (rs *ResultSet) Desc() *tuple.Desc { return rs.desc }

// Next returns the binary values of the next row, or false when the result
// set is exhausted.
func (rs *ResultSet) Next() ([][]byte, bool, error) {
	for rs.pos < len(rs.rows) {
		row := rs.rows[rs.pos]
		rs.pos++
		v, match, err := visible(row, rs.snap, rs.scope, rs.where)
		if err != nil {
			return nil, false, err
		}
		if !match {
			continue
		}
		out, err := tuple.Project(rs.scope.schema.Desc, v.Tuple, rs.cols)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
	return nil, false, nil
}

// All drains the result set.
func (rs *ResultSet) All() ([][][]byte, error) {
	var out [][][]byte
	for {
		row, ok, err := rs.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row)
	}
}

// Printable renders a row returned by Next.
func (rs *ResultSet) Printable(row [][]byte) ([]string, error) {
	return PrintableRow(rs.desc, row)
}

// PrintableRow renders the binary values of a row described by desc.
func PrintableRow(desc *tuple.Desc, row [][]byte) ([]string, error) {
	out := make([]string, len(row))
	for i, b := range row {
		col := desc.Column(i)
		s, err := types.Binary(b).Printable(col.ID, col.Param)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
