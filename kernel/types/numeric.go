package types

import (
	"encoding/binary"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/dgryski/go-farm"
)

func init() {
	register(newIntBehavior(I32, 4))
	register(newIntBehavior(I64, 8))
	register(newFloatBehavior(F32, 4))
	register(newFloatBehavior(F64, 8))
}

func fixedLen(n int) func(*Param) (int, bool) {
	return func(*Param) (int, bool) { return n, true }
}

func putBits(buf []byte, bits uint64, size int) {
	if size == 4 {
		binary.BigEndian.PutUint32(buf, uint32(bits))
	} else {
		binary.BigEndian.PutUint64(buf, bits)
	}
}

func getBits(buf []byte, size int) uint64 {
	if size == 4 {
		return uint64(binary.BigEndian.Uint32(buf))
	}
	return binary.BigEndian.Uint64(buf)
}

func hashBits(v Internal) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v.bits)
	return farm.Hash64(b[:])
}

func fixedCodec(b *Behavior, id ID, size int) {
	b.Send = func(v Internal, p *Param) ([]byte, error) {
		buf := make([]byte, size)
		putBits(buf, v.bits, size)
		return buf, nil
	}
	b.SendTo = func(v Internal, p *Param, buf []byte) (int, error) {
		if len(buf) < size {
			return 0, lowBuf(size)
		}
		putBits(buf, v.bits, size)
		return size, nil
	}
	b.Recv = func(buf []byte, p *Param) (Internal, error) {
		if len(buf) != size {
			return Internal{}, convertErr("%v expects %d bytes, got %d", id, size, len(buf))
		}
		return InternalFromBits(getBits(buf, size)), nil
	}
	b.Len = fixedLen(size)
}

// Integers keep their two's complement bits, sign-extended for i32.
func newIntBehavior(id ID, size int) *Behavior {
	b := &Behavior{ID: id, Name: id.String()}
	fixedCodec(b, id, size)
	bitSize := size * 8
	toInt := func(v Internal) int64 {
		if size == 4 {
			return int64(int32(uint32(v.bits)))
		}
		return int64(v.bits)
	}
	fromInt := func(n int64) Internal {
		if size == 4 {
			return InternalFromBits(uint64(uint32(int32(n))))
		}
		return InternalFromBits(uint64(n))
	}
	b.Input = func(text string, p *Param) (Internal, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, bitSize)
		if err != nil {
			return Internal{}, convertErr("invalid %v %q", id, text)
		}
		return fromInt(n), nil
	}
	b.Output = func(v Internal, p *Param) (string, error) {
		return strconv.FormatInt(toInt(v), 10), nil
	}
	b.ToTyped = func(v Internal, p *Param) (interface{}, error) {
		if size == 4 {
			return int32(toInt(v)), nil
		}
		return toInt(v), nil
	}
	b.FromTyped = func(x interface{}, p *Param) (Internal, error) {
		var n int64
		switch t := x.(type) {
		case int32:
			n = int64(t)
		case int64:
			n = t
		case int:
			n = int64(t)
		case int16:
			n = int64(t)
		case int8:
			n = int64(t)
		case uint32:
			n = int64(t)
		default:
			return Internal{}, convertErr("cannot convert %T to %v", x, id)
		}
		if size == 4 && (n < math.MinInt32 || n > math.MaxInt32) {
			return Internal{}, convertErr("%d overflows %v", n, id)
		}
		return fromInt(n), nil
	}
	b.Default = func(*Param) Internal { return fromInt(0) }
	b.Arbitrary = func(r *rand.Rand, p *Param) Internal {
		return fromInt(int64(r.Uint64()))
	}
	b.Compare = &Comparator{
		Order: func(x, y Internal) int {
			a, c := toInt(x), toInt(y)
			switch {
			case a < c:
				return -1
			case a > c:
				return 1
			}
			return 0
		},
		Equal: func(x, y Internal) bool { return toInt(x) == toInt(y) },
		Hash:  hashBits,
	}
	return b
}

// Floats keep their IEEE-754 bits.
func newFloatBehavior(id ID, size int) *Behavior {
	b := &Behavior{ID: id, Name: id.String()}
	fixedCodec(b, id, size)
	bitSize := size * 8
	toFloat := func(v Internal) float64 {
		if size == 4 {
			return float64(math.Float32frombits(uint32(v.bits)))
		}
		return math.Float64frombits(v.bits)
	}
	fromFloat := func(f float64) Internal {
		if size == 4 {
			return InternalFromBits(uint64(math.Float32bits(float32(f))))
		}
		return InternalFromBits(math.Float64bits(f))
	}
	b.Input = func(text string, p *Param) (Internal, error) {
		f, err := strconv.ParseFloat(strings.TrimSpace(text), bitSize)
		if err != nil {
			return Internal{}, convertErr("invalid %v %q", id, text)
		}
		return fromFloat(f), nil
	}
	b.Output = func(v Internal, p *Param) (string, error) {
		return strconv.FormatFloat(toFloat(v), 'g', -1, bitSize), nil
	}
	b.ToTyped = func(v Internal, p *Param) (interface{}, error) {
		if size == 4 {
			return float32(toFloat(v)), nil
		}
		return toFloat(v), nil
	}
	b.FromTyped = func(x interface{}, p *Param) (Internal, error) {
		switch t := x.(type) {
		case float32:
			return fromFloat(float64(t)), nil
		case float64:
			return fromFloat(t), nil
		case int:
			return fromFloat(float64(t)), nil
		case int32:
			return fromFloat(float64(t)), nil
		case int64:
			return fromFloat(float64(t)), nil
		}
		return Internal{}, convertErr("cannot convert %T to %v", x, id)
	}
	b.Default = func(*Param) Internal { return fromFloat(0) }
	b.Arbitrary = func(r *rand.Rand, p *Param) Internal {
		return fromFloat(r.NormFloat64() * 1e6)
	}
	b.Compare = &Comparator{
		Order: func(x, y Internal) int {
			a, c := toFloat(x), toFloat(y)
			switch {
			case a < c:
				return -1
			case a > c:
				return 1
			}
			return 0
		},
		Equal: func(x, y Internal) bool { return toFloat(x) == toFloat(y) },
		Hash:  hashBits,
	}
	return b
}
