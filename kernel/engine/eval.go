package engine

import (
	"math"
	"strconv"
	"strings"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/sql"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
)

// A value is int64, float64, string, or nil for NULL.
type value interface{}

// scope is what an expression can refer to: the columns of one row, if any,
// and the bound placeholder arguments.
type scope struct {
	schema *storage.Schema
	frame  []byte
	args   []interface{}
}

func widen(v interface{}) (value, error) {
	switch x := v.(type) {
	case nil, int64, float64, string:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []byte:
		return string(x), nil
	case types.Datum:
		if x.IsNull() {
			return nil, nil
		}
		if x.Form() == types.FormPrintable {
			return x.String(), nil
		}
	}
	return nil, ec.Newf(ec.ConvertErr, "unsupported argument type %T", v)
}

func (s *scope) column(name string) (value, error) {
	if s.frame == nil {
		return nil, ec.Newf(ec.ParseErr, "column %s cannot be referenced here", name)
	}
	i, err := s.schema.Column(name)
	if err != nil {
		return nil, err
	}
	d, err := tuple.GetDatum(s.schema.Desc, s.frame, i)
	if err != nil {
		return nil, err
	}
	col := s.schema.Desc.Column(i)
	v, err := d.Typed(col.ID, col.Param)
	if err != nil {
		return nil, err
	}
	return widen(v)
}

func parseNumber(text string) (value, error) {
	if !strings.ContainsAny(text, ".eE") {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, ec.Newf(ec.ConvertErr, "invalid number %s", text)
	}
	return f, nil
}

func (s *scope) eval(e sql.Expr) (value, error) {
	switch x := e.(type) {
	case *sql.Literal:
		switch x.Kind {
		case sql.LitNumber:
			return parseNumber(x.Text)
		case sql.LitString:
			return x.Text, nil
		}
		return nil, nil
	case *sql.Placeholder:
		if x.Index >= len(s.args) {
			return nil, ec.Newf(ec.ParseErr, "placeholder %d is not bound", x.Index+1)
		}
		return widen(s.args[x.Index])
	case *sql.ColumnRef:
		return s.column(x.Name)
	case *sql.Unary:
		v, err := s.eval(x.X)
		if err != nil {
			return nil, err
		}
		return arith(sql.MINUS, int64(0), v)
	case *sql.Binary:
		l, err := s.eval(x.L)
		if err != nil {
			return nil, err
		}
		r, err := s.eval(x.R)
		if err != nil {
			return nil, err
		}
		return arith(x.Op, l, r)
	}
	return nil, ec.Newf(ec.ParseErr, "unsupported expression %T", e)
}

func arith(op sql.TokenKind, l, r value) (value, error) {
	if l == nil || r == nil {
		return nil, nil
	}
	a, aInt := l.(int64)
	b, bInt := r.(int64)
	if aInt && bInt {
		switch op {
		case sql.PLUS:
			return a + b, nil
		case sql.MINUS:
			return a - b, nil
		case sql.ASTERISK:
			return a * b, nil
		case sql.SLASH:
			if b == 0 {
				return nil, ec.New(ec.ConvertErr, "division by zero")
			}
			return a / b, nil
		}
	}
	x, xok := toFloat(l)
	y, yok := toFloat(r)
	if !xok || !yok {
		return nil, ec.Newf(ec.ConvertErr, "cannot apply %v to %T and %T", op, l, r)
	}
	switch op {
	case sql.PLUS:
		return x + y, nil
	case sql.MINUS:
		return x - y, nil
	case sql.ASTERISK:
		return x * y, nil
	case sql.SLASH:
		if y == 0 {
			return nil, ec.New(ec.ConvertErr, "division by zero")
		}
		return x / y, nil
	}
	return nil, ec.Newf(ec.ParseErr, "unknown operator %v", op)
}

func toFloat(v value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// compare orders two non-null values of compatible kinds.
func compare(l, r value) (int, error) {
	if a, ok := l.(string); ok {
		b, ok := r.(string)
		if !ok {
			return 0, ec.Newf(ec.ConvertErr, "cannot compare string with %T", r)
		}
		return strings.Compare(a, b), nil
	}
	if a, ok := l.(int64); ok {
		if b, ok := r.(int64); ok {
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			}
			return 0, nil
		}
	}
	x, xok := toFloat(l)
	y, yok := toFloat(r)
	if !xok || !yok || math.IsNaN(x) || math.IsNaN(y) {
		return 0, ec.Newf(ec.ConvertErr, "cannot compare %T with %T", l, r)
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// match evaluates AND-joined comparisons. Comparisons with NULL are false.
func (s *scope) match(where []*sql.Comparison) (bool, error) {
	for _, c := range where {
		l, err := s.eval(c.L)
		if err != nil {
			return false, err
		}
		r, err := s.eval(c.R)
		if err != nil {
			return false, err
		}
		if l == nil || r == nil {
			return false, nil
		}
		n, err := compare(l, r)
		if err != nil {
			return false, err
		}
		var ok bool
		switch c.Op {
		case sql.EQ:
			ok = n == 0
		case sql.NE:
			ok = n != 0
		case sql.LT:
			ok = n < 0
		case sql.LE:
			ok = n <= 0
		case sql.GT:
			ok = n > 0
		case sql.GE:
			ok = n >= 0
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func toDatum(v value) types.Datum {
	if v == nil {
		return types.Null()
	}
	return types.Typed(v)
}

// coerce converts v to the Go type of col, as stored.
func coerce(v value, col types.DatumDesc) (interface{}, error) {
	if v == nil {
		return nil, ec.Newf(ec.ConvertErr, "column %s is null", col.Name)
	}
	internal, err := types.Typed(v).Internal(col.ID, col.Param)
	if err != nil {
		return nil, err
	}
	return types.MustGet(col.ID).ToTyped(internal, col.Param)
}
