package storage

import (
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/mudu-db/mudu/kernel/util/codec"
)

// EncodeKeyValue appends one key column in memcomparable form.
func EncodeKeyValue(b []byte, id types.ID, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case int32:
		return codec.EncodeInt(b, int64(x)), nil
	case int64:
		return codec.EncodeInt(b, x), nil
	case float32:
		return codec.EncodeFloat(b, float64(x)), nil
	case float64:
		return codec.EncodeFloat(b, x), nil
	case string:
		return codec.EncodeBytes(b, []byte(x)), nil
	}
	return nil, ec.Newf(ec.ConvertErr, "cannot use %T as %v key", v, id)
}

// RowKey builds the btree key of a frame. Tables without a primary key are
// keyed by tuple id.
func RowKey(s *Schema, frame []byte, tupleID uint64) ([]byte, error) {
	if len(s.Key) == 0 {
		return codec.EncodeUint(nil, tupleID), nil
	}
	var key []byte
	for _, i := range s.Key {
		d, err := tuple.GetDatum(s.Desc, frame, i)
		if err != nil {
			return nil, err
		}
		col := s.Desc.Column(i)
		v, err := d.Typed(col.ID, col.Param)
		if err != nil {
			return nil, err
		}
		if key, err = EncodeKeyValue(key, col.ID, v); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// latchKey scopes a row key to its table.
func latchKey(table uint64, key []byte) []byte {
	return append(codec.EncodeUint(nil, table), key...)
}
