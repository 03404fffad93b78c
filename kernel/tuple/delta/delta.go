// Package delta implements reversible byte-range overwrites.
package delta

import (
	"encoding/binary"
	"fmt"

	"github.com/mudu-db/mudu/kernel/ec"
)

// UpdateDelta replaces buf[Offset:Offset+Length] with Data.
type UpdateDelta struct {
	Offset uint32
	Length uint32
	Data   []byte
}

func New(offset, length int, data []byte) UpdateDelta {
	return UpdateDelta{Offset: uint32(offset), Length: uint32(length), Data: data}
}

func (d UpdateDelta) String() string {
	return fmt.Sprintf("delta{off:%d len:%d data:%d}", d.Offset, d.Length, len(d.Data))
}

// Apply rewrites buf and returns the new buffer plus the delta that undoes the
// change. It panics if the replaced range lies outside buf.
func (d UpdateDelta) Apply(buf []byte) ([]byte, UpdateDelta) {
	start, end := int(d.Offset), int(d.Offset)+int(d.Length)
	if end > len(buf) {
		panic(fmt.Sprintf("delta range [%d, %d) exceeds buffer of %d bytes", start, end, len(buf)))
	}
	old := make([]byte, d.Length)
	copy(old, buf[start:end])
	inverse := UpdateDelta{Offset: d.Offset, Length: uint32(len(d.Data)), Data: old}

	if len(d.Data) == int(d.Length) {
		copy(buf[start:end], d.Data)
		return buf, inverse
	}
	out := make([]byte, 0, len(buf)-int(d.Length)+len(d.Data))
	out = append(out, buf[:start]...)
	out = append(out, d.Data...)
	out = append(out, buf[end:]...)
	return out, inverse
}

// ApplyAll applies deltas in order and returns the inverses in the same order.
func ApplyAll(buf []byte, deltas []UpdateDelta) ([]byte, []UpdateDelta) {
	inverses := make([]UpdateDelta, 0, len(deltas))
	for _, d := range deltas {
		var inv UpdateDelta
		buf, inv = d.Apply(buf)
		inverses = append(inverses, inv)
	}
	return buf, inverses
}

// Revert applies inverses newest first, undoing an ApplyAll.
func Revert(buf []byte, inverses []UpdateDelta) []byte {
	for i := len(inverses) - 1; i >= 0; i-- {
		buf, _ = inverses[i].Apply(buf)
	}
	return buf
}

// Clone copies buf so deltas can be applied without touching the original.
func Clone(buf []byte) []byte {
	return append([]byte(nil), buf...)
}

// Size is the encoded length of d.
func (d UpdateDelta) Size() int {
	return 12 + len(d.Data)
}

// AppendTo encodes d as offset u32, length u32, data length u32, data.
func (d UpdateDelta) AppendTo(b []byte) []byte {
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:], d.Offset)
	binary.BigEndian.PutUint32(hdr[4:], d.Length)
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(d.Data)))
	b = append(b, hdr[:]...)
	return append(b, d.Data...)
}

// Decode reads one delta from b and returns the rest of the input.
func Decode(b []byte) (UpdateDelta, []byte, error) {
	if len(b) < 12 {
		return UpdateDelta{}, nil, ec.Newf(ec.Decode, "delta header needs 12 bytes, got %d", len(b))
	}
	d := UpdateDelta{
		Offset: binary.BigEndian.Uint32(b[0:]),
		Length: binary.BigEndian.Uint32(b[4:]),
	}
	n := int(binary.BigEndian.Uint32(b[8:]))
	b = b[12:]
	if len(b) < n {
		return UpdateDelta{}, nil, ec.Newf(ec.Decode, "delta data needs %d bytes, got %d", n, len(b))
	}
	d.Data = append([]byte(nil), b[:n]...)
	return d, b[n:], nil
}

// MarshalList encodes a u32 count followed by each delta.
func MarshalList(b []byte, deltas []UpdateDelta) []byte {
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(len(deltas)))
	b = append(b, cnt[:]...)
	for _, d := range deltas {
		b = d.AppendTo(b)
	}
	return b
}

func UnmarshalList(b []byte) ([]UpdateDelta, []byte, error) {
	if len(b) < 4 {
		return nil, nil, ec.New(ec.Decode, "delta list truncated")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	deltas := make([]UpdateDelta, 0, min(int(n), len(b)/12))
	for i := uint32(0); i < n; i++ {
		d, rest, err := Decode(b)
		if err != nil {
			return nil, nil, err
		}
		deltas = append(deltas, d)
		b = rest
	}
	return deltas, b, nil
}
