package tuple

import (
	"encoding/binary"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple/delta"
	"github.com/mudu-db/mudu/kernel/types"
)

func slotAt(frame []byte, k int) (off, length int) {
	p := k * slotSize
	return int(binary.BigEndian.Uint32(frame[p:])), int(binary.BigEndian.Uint32(frame[p+4:]))
}

func putSlot(buf []byte, k, off, length int) {
	p := k * slotSize
	binary.BigEndian.PutUint32(buf[p:], uint32(off))
	binary.BigEndian.PutUint32(buf[p+4:], uint32(length))
}

func grow(buf []byte, need int) []byte {
	n := len(buf) * 2
	if n < need {
		n = need
	}
	out := make([]byte, n)
	copy(out, buf)
	return out
}

// Build encodes values, given in public column order, into a frame.
func Build(d *Desc, values []types.Datum) ([]byte, error) {
	if len(values) != d.Len() {
		return nil, ec.Newf(ec.ConvertErr, "tuple has %d columns, got %d values", d.Len(), len(values))
	}
	buf := make([]byte, d.fixedEnd+16*(d.Len()-d.numFixed))
	pos := d.fixedEnd
	for n, col := range d.cols {
		v := values[d.toPub[n]]
		if v.IsNull() {
			return nil, ec.Newf(ec.ConvertErr, "column %s is null", col.Name)
		}
		in, err := v.Internal(col.ID, col.Param)
		if err != nil {
			return nil, err
		}
		b := types.MustGet(col.ID)
		if n < d.numFixed {
			if _, err = b.SendTo(in, col.Param, buf[d.offset[n]:d.offset[n]+d.size[n]]); err != nil {
				return nil, err
			}
			continue
		}
		for {
			written, err := b.SendTo(in, col.Param, buf[pos:])
			if e, ok := ec.LowBufSpace(err); ok {
				buf = grow(buf, pos+e.Need)
				continue
			}
			if err != nil {
				return nil, err
			}
			putSlot(buf, d.offset[n], pos, written)
			pos += written
			break
		}
	}
	return buf[:pos], nil
}

func (d *Desc) locate(frame []byte, n int) (off, length int, err error) {
	if len(frame) < d.fixedEnd {
		return 0, 0, ec.Newf(ec.Decode, "frame of %d bytes is shorter than %d", len(frame), d.fixedEnd)
	}
	if n < d.numFixed {
		return d.offset[n], d.size[n], nil
	}
	off, length = slotAt(frame, d.offset[n])
	if off < d.fixedEnd || off+length > len(frame) {
		return 0, 0, ec.Newf(ec.Decode, "slot [%d, %d) of column %s outside frame of %d bytes",
			off, off+length, d.cols[n].Name, len(frame))
	}
	return off, length, nil
}

// Get returns the binary value of public column i. The slice aliases frame.
func Get(d *Desc, frame []byte, i int) ([]byte, error) {
	if i < 0 || i >= d.Len() {
		return nil, ec.Newf(ec.NoSuchElement, "column %d out of range", i)
	}
	off, length, err := d.locate(frame, d.toNorm[i])
	if err != nil {
		return nil, err
	}
	return frame[off : off+length], nil
}

// GetDatum returns public column i in internal form.
func GetDatum(d *Desc, frame []byte, i int) (types.Datum, error) {
	b, err := Get(d, frame, i)
	if err != nil {
		return types.Null(), err
	}
	col := d.public[i]
	v, err := types.MustGet(col.ID).Recv(b, col.Param)
	if err != nil {
		return types.Null(), err
	}
	return types.FromInternal(v), nil
}

// Decode returns every column in internal form.
func Decode(d *Desc, frame []byte) ([]types.Datum, error) {
	out := make([]types.Datum, d.Len())
	for i := range out {
		v, err := GetDatum(d, frame, i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Printables renders every column with its type's output function.
func Printables(d *Desc, frame []byte) ([]string, error) {
	out := make([]string, d.Len())
	for i := range out {
		v, err := GetDatum(d, frame, i)
		if err != nil {
			return nil, err
		}
		col := d.public[i]
		if out[i], err = v.Printable(col.ID, col.Param); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Project returns the binary values of the given public columns.
func Project(d *Desc, frame []byte, cols []int) ([][]byte, error) {
	out := make([][]byte, len(cols))
	for j, i := range cols {
		b, err := Get(d, frame, i)
		if err != nil {
			return nil, err
		}
		out[j] = append([]byte(nil), b...)
	}
	return out, nil
}

// Validate checks that every slot lies inside the frame and that variable
// payloads appear in column order without overlapping.
func Validate(d *Desc, frame []byte) error {
	if len(frame) < d.fixedEnd {
		return ec.Newf(ec.Decode, "frame of %d bytes is shorter than %d", len(frame), d.fixedEnd)
	}
	prevEnd := d.fixedEnd
	for n := d.numFixed; n < d.Len(); n++ {
		off, length, err := d.locate(frame, n)
		if err != nil {
			return err
		}
		if off < prevEnd {
			return ec.Newf(ec.Decode, "column %s overlaps its predecessor", d.cols[n].Name)
		}
		prevEnd = off + length
	}
	return nil
}

// Update returns the deltas that replace public column i of frame with v.
// Applying them in order yields the new frame.
func Update(d *Desc, frame []byte, i int, v types.Datum) ([]delta.UpdateDelta, error) {
	if i < 0 || i >= d.Len() {
		return nil, ec.Newf(ec.NoSuchElement, "column %d out of range", i)
	}
	if v.IsNull() {
		return nil, ec.Newf(ec.ConvertErr, "column %s is null", d.public[i].Name)
	}
	n := d.toNorm[i]
	col := d.cols[n]
	data, err := v.Binary(col.ID, col.Param)
	if err != nil {
		return nil, err
	}
	// Datums in binary form skip Send, so check the shape here.
	if _, err = types.MustGet(col.ID).Recv(data, col.Param); err != nil {
		return nil, err
	}
	if n < d.numFixed {
		return []delta.UpdateDelta{delta.New(d.offset[n], d.size[n], data)}, nil
	}
	if err = Validate(d, frame); err != nil {
		return nil, err
	}

	k := d.offset[n]
	numVar := d.Len() - d.numFixed
	off, _ := slotAt(frame, k)
	capacity := len(frame) - off
	if k+1 < numVar {
		next, _ := slotAt(frame, k+1)
		capacity = next - off
	}
	slot := make([]byte, slotSize)
	if len(data) <= capacity {
		putSlot(slot, 0, off, len(data))
		return []delta.UpdateDelta{
			delta.New(k*slotSize, slotSize, slot),
			delta.New(off, len(data), data),
		}, nil
	}

	// Shift the suffix: rewrite the slots of columns k.. and their payloads.
	slots := make([]byte, (numVar-k)*slotSize)
	payload := make([]byte, 0, len(frame)-off+len(data))
	pos := off
	for j := k; j < numVar; j++ {
		chunk := data
		if j != k {
			o, l := slotAt(frame, j)
			chunk = frame[o : o+l]
		}
		putSlot(slots, j-k, pos, len(chunk))
		payload = append(payload, chunk...)
		pos += len(chunk)
	}
	return []delta.UpdateDelta{
		delta.New(k*slotSize, len(slots), slots),
		delta.New(off, len(frame)-off, payload),
	}, nil
}
