package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple/delta"
)

type OpKind uint8

const (
	OpBegin OpKind = iota + 1
	OpCommit
	OpAbort
	OpInsert
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpBegin:
		return "begin"
	case OpCommit:
		return "commit"
	case OpAbort:
		return "abort"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is one logged action. Value is set for inserts, Deltas for updates.
type Op struct {
	Kind    OpKind
	Table   uint64
	TupleID uint64
	Key     []byte
	Value   []byte
	Deltas  []delta.UpdateDelta
}

func Begin() Op  { return Op{Kind: OpBegin} }
func Commit() Op { return Op{Kind: OpCommit} }
func Abort() Op  { return Op{Kind: OpAbort} }

func Insert(table, tupleID uint64, key, value []byte) Op {
	return Op{Kind: OpInsert, Table: table, TupleID: tupleID, Key: key, Value: value}
}

func Update(table, tupleID uint64, key []byte, deltas []delta.UpdateDelta) Op {
	return Op{Kind: OpUpdate, Table: table, TupleID: tupleID, Key: key, Deltas: deltas}
}

func Delete(table, tupleID uint64, key []byte) Op {
	return Op{Kind: OpDelete, Table: table, TupleID: tupleID, Key: key}
}

// Record groups the ops of one transaction within a batch.
type Record struct {
	Xid uint64
	Ops []Op
}

// Batch is the unit of append. Every batch gets its own LSN.
type Batch struct {
	LSN     uint64
	Records []Record
}

func appendU32(b []byte, v uint32) []byte {
	var x [4]byte
	binary.BigEndian.PutUint32(x[:], v)
	return append(b, x[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var x [8]byte
	binary.BigEndian.PutUint64(x[:], v)
	return append(b, x[:]...)
}

func appendBytes(b, data []byte) []byte {
	return append(appendU32(b, uint32(len(data))), data...)
}

// EncodeRecords serializes records as a u64 body length followed by the body.
func EncodeRecords(records []Record) []byte {
	b := make([]byte, 8, 64)
	b = appendU32(b, uint32(len(records)))
	for _, r := range records {
		b = appendU64(b, r.Xid)
		b = appendU32(b, uint32(len(r.Ops)))
		for _, op := range r.Ops {
			b = append(b, byte(op.Kind))
			switch op.Kind {
			case OpInsert:
				b = appendU64(b, op.Table)
				b = appendU64(b, op.TupleID)
				b = appendBytes(b, op.Key)
				b = appendBytes(b, op.Value)
			case OpUpdate:
				b = appendU64(b, op.Table)
				b = appendU64(b, op.TupleID)
				b = appendBytes(b, op.Key)
				b = delta.MarshalList(b, op.Deltas)
			case OpDelete:
				b = appendU64(b, op.Table)
				b = appendU64(b, op.TupleID)
				b = appendBytes(b, op.Key)
			}
		}
	}
	binary.BigEndian.PutUint64(b, uint64(len(b)-8))
	return b
}

type decoder struct {
	b   []byte
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if len(d.b) < n {
		d.err = ec.Newf(ec.Decode, "record truncated, need %d bytes, have %d", n, len(d.b))
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.b)
	d.b = d.b[4:]
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.b)
	d.b = d.b[8:]
	return v
}

func (d *decoder) bytes() []byte {
	n := int(d.u32())
	if !d.need(n) {
		return nil
	}
	v := append([]byte(nil), d.b[:n]...)
	d.b = d.b[n:]
	return v
}

func (d *decoder) deltas() []delta.UpdateDelta {
	if d.err != nil {
		return nil
	}
	list, rest, err := delta.UnmarshalList(d.b)
	if err != nil {
		d.err = err
		return nil
	}
	d.b = rest
	return list
}

// DecodeRecords is the inverse of EncodeRecords.
func DecodeRecords(b []byte) ([]Record, error) {
	d := &decoder{b: b}
	n := d.u64()
	if d.err == nil && uint64(len(d.b)) != n {
		return nil, ec.Newf(ec.Decode, "batch body is %d bytes, header says %d", len(d.b), n)
	}
	count := d.u32()
	var records []Record
	for i := uint32(0); i < count && d.err == nil; i++ {
		r := Record{Xid: d.u64()}
		ops := d.u32()
		for j := uint32(0); j < ops && d.err == nil; j++ {
			op := Op{Kind: OpKind(d.u8())}
			switch op.Kind {
			case OpBegin, OpCommit, OpAbort:
			case OpInsert:
				op.Table, op.TupleID = d.u64(), d.u64()
				op.Key = d.bytes()
				op.Value = d.bytes()
			case OpUpdate:
				op.Table, op.TupleID = d.u64(), d.u64()
				op.Key = d.bytes()
				op.Deltas = d.deltas()
			case OpDelete:
				op.Table, op.TupleID = d.u64(), d.u64()
				op.Key = d.bytes()
			default:
				if d.err == nil {
					d.err = ec.Newf(ec.Decode, "unknown op kind %d", op.Kind)
				}
			}
			r.Ops = append(r.Ops, op)
		}
		records = append(records, r)
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(d.b) != 0 {
		return nil, ec.Newf(ec.Decode, "%d trailing bytes after batch", len(d.b))
	}
	return records, nil
}
