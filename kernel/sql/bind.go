package sql

import (
	"sort"
)

// Target is what decides the type of a placeholder: the column its value is
// stored into or compared with. For INSERT without a column list only the
// value position is known.
type Target struct {
	Holder   *Placeholder
	Column   string
	Position int
}

// Targets resolves the placeholders of stmt to columns, in placeholder order.
// Placeholders with nothing to infer a type from have an empty Column and a
// Position of -1.
func Targets(stmt Statement) []Target {
	var out []Target
	add := func(e Expr, column string, position int) {
		walkExpr(e, func(e Expr) {
			if h, ok := e.(*Placeholder); ok {
				out = append(out, Target{Holder: h, Column: column, Position: position})
			}
		})
	}
	where := func(conds []*Comparison) {
		for _, c := range conds {
			col := firstColumn(c.L)
			if col == "" {
				col = firstColumn(c.R)
			}
			add(c.L, col, -1)
			add(c.R, col, -1)
		}
	}
	switch s := stmt.(type) {
	case *Insert:
		for _, row := range s.Rows {
			for i, e := range row {
				if s.Columns != nil {
					add(e, s.Columns[i], -1)
				} else {
					add(e, "", i)
				}
			}
		}
	case *Update:
		for _, a := range s.Set {
			add(a.Value, a.Column, -1)
		}
		where(s.Where)
	case *Delete:
		where(s.Where)
	case *Select:
		where(s.Where)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder.Index < out[j].Holder.Index })
	return out
}

func walkExpr(e Expr, fn func(Expr)) {
	fn(e)
	switch x := e.(type) {
	case *Unary:
		walkExpr(x.X, fn)
	case *Binary:
		walkExpr(x.L, fn)
		walkExpr(x.R, fn)
	}
}

func firstColumn(e Expr) string {
	name := ""
	walkExpr(e, func(e Expr) {
		if c, ok := e.(*ColumnRef); ok && name == "" {
			name = c.Name
		}
	})
	return name
}
