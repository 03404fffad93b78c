package record

import (
	"reflect"
	"strings"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/types"
)

// TagName is the struct tag naming the column a field maps to. Untagged
// fields map to their lowercased name and "-" skips a field.
const TagName = "mudu"

func fieldColumn(f reflect.StructField) string {
	if f.PkgPath != "" {
		return ""
	}
	tag := f.Tag.Get(TagName)
	if tag == "-" {
		return ""
	}
	if name := strings.Split(tag, ",")[0]; name != "" {
		return name
	}
	return strings.ToLower(f.Name)
}

// fields maps each column of desc to a field index of t.
func fields(desc *Desc, t reflect.Type) ([]int, error) {
	out := make([]int, desc.Len())
	for i := range out {
		out[i] = -1
	}
	for i := 0; i < t.NumField(); i++ {
		name := fieldColumn(t.Field(i))
		if name == "" {
			continue
		}
		if c, err := desc.Index(name); err == nil {
			out[c] = i
		}
	}
	for c, f := range out {
		if f < 0 {
			return nil, ec.Newf(ec.NoSuchElement, "%v has no field for column %s", t, desc.cols[c].Name)
		}
	}
	return out, nil
}

func structOf(v interface{}, wantPtr bool) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return rv, ec.New(ec.ConvertErr, "nil struct pointer")
		}
		rv = rv.Elem()
	} else if wantPtr {
		return rv, ec.Newf(ec.ConvertErr, "%T is not a pointer", v)
	}
	if rv.Kind() != reflect.Struct {
		return rv, ec.Newf(ec.ConvertErr, "%T is not a struct", v)
	}
	return rv, nil
}

// Scan decodes a row of binary values into the struct dst points to.
func Scan(desc *Desc, row [][]byte, dst interface{}) error {
	rv, err := structOf(dst, true)
	if err != nil {
		return err
	}
	if len(row) != desc.Len() {
		return ec.Newf(ec.Decode, "row has %d values, descriptor %d", len(row), desc.Len())
	}
	idx, err := fields(desc, rv.Type())
	if err != nil {
		return err
	}
	for c, b := range row {
		col := desc.cols[c]
		v, err := types.Binary(b).Typed(col.ID, col.Param)
		if err != nil {
			return err
		}
		if err = assign(rv.Field(idx[c]), v); err != nil {
			return ec.Newf(ec.ConvertErr, "column %s: %v", col.Name, err)
		}
	}
	return nil
}

func assign(field reflect.Value, v interface{}) error {
	val := reflect.ValueOf(v)
	switch {
	case val.Type().AssignableTo(field.Type()):
		field.Set(val)
	case isNumber(val.Kind()) && isNumber(field.Kind()):
		converted := val.Convert(field.Type())
		if converted.Convert(val.Type()).Interface() != v {
			return ec.Newf(ec.ConvertErr, "%v overflows %v", v, field.Type())
		}
		field.Set(converted)
	case val.Kind() == reflect.String && field.Kind() == reflect.String:
		field.SetString(val.String())
	default:
		return ec.Newf(ec.ConvertErr, "cannot store %T in %v", v, field.Type())
	}
	return nil
}

func isNumber(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

// Values encodes the fields of a struct as a row of binary values.
func Values(desc *Desc, src interface{}) ([][]byte, error) {
	rv, err := structOf(src, false)
	if err != nil {
		return nil, err
	}
	idx, err := fields(desc, rv.Type())
	if err != nil {
		return nil, err
	}
	out := make([][]byte, desc.Len())
	for c := range out {
		col := desc.cols[c]
		f := rv.Field(idx[c])
		v := f.Interface()
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v = f.Int()
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			v = int64(f.Uint())
		case reflect.Float32, reflect.Float64:
			v = f.Float()
		case reflect.String:
			v = f.String()
		}
		if out[c], err = types.Typed(v).Binary(col.ID, col.Param); err != nil {
			return nil, ec.Newf(ec.ConvertErr, "column %s: %v", col.Name, err)
		}
	}
	return out, nil
}
