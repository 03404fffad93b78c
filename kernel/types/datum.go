package types

import (
	"fmt"
)

// Internal is the in-memory value of a datum. Numeric types keep their bits in
// a single word, other types keep a boxed value.
type Internal struct {
	bits uint64
	box  interface{}
}

func InternalFromBits(bits uint64) Internal {
	return Internal{bits: bits}
}

func InternalFromBox(v interface{}) Internal {
	return Internal{box: v}
}

func (v Internal) Bits() uint64 {
	return v.bits
}

func (v Internal) Box() interface{} {
	return v.box
}

// Form tells which representation a Datum carries.
type Form uint8

const (
	FormNull Form = iota
	FormBinary
	FormPrintable
	FormInternal
	FormTyped
)

func (f Form) String() string {
	switch f {
	case FormNull:
		return "null"
	case FormBinary:
		return "binary"
	case FormPrintable:
		return "printable"
	case FormInternal:
		return "internal"
	case FormTyped:
		return "typed"
	}
	return fmt.Sprintf("form(%d)", uint8(f))
}

// Datum is a value in exactly one of its representations. The type is carried
// separately, by a column descriptor or by the caller.
type Datum struct {
	form     Form
	binary   []byte
	text     string
	internal Internal
	typed    interface{}
}

func Null() Datum                   { return Datum{} }
func Binary(b []byte) Datum         { return Datum{form: FormBinary, binary: b} }
func Printable(s string) Datum      { return Datum{form: FormPrintable, text: s} }
func FromInternal(v Internal) Datum { return Datum{form: FormInternal, internal: v} }
func Typed(v interface{}) Datum     { return Datum{form: FormTyped, typed: v} }

func (d Datum) Form() Form   { return d.form }
func (d Datum) IsNull() bool { return d.form == FormNull }

func (d Datum) String() string {
	switch d.form {
	case FormBinary:
		return fmt.Sprintf("binary(%x)", d.binary)
	case FormPrintable:
		return d.text
	case FormInternal:
		if d.internal.box != nil {
			return fmt.Sprintf("%v", d.internal.box)
		}
		return fmt.Sprintf("bits(%#x)", d.internal.bits)
	case FormTyped:
		return fmt.Sprintf("%v", d.typed)
	}
	return "NULL"
}

// Internal converts d to the internal form of type id.
func (d Datum) Internal(id ID, p *Param) (Internal, error) {
	b, err := Get(id)
	if err != nil {
		return Internal{}, err
	}
	switch d.form {
	case FormInternal:
		return d.internal, nil
	case FormBinary:
		return b.Recv(d.binary, p)
	case FormPrintable:
		return b.Input(d.text, p)
	case FormTyped:
		return b.FromTyped(d.typed, p)
	}
	return Internal{}, convertErr("cannot convert null to %v", id)
}

// Binary converts d to the binary form of type id.
func (d Datum) Binary(id ID, p *Param) ([]byte, error) {
	if d.form == FormBinary {
		return d.binary, nil
	}
	v, err := d.Internal(id, p)
	if err != nil {
		return nil, err
	}
	return MustGet(id).Send(v, p)
}

// Printable converts d to the printable form of type id.
func (d Datum) Printable(id ID, p *Param) (string, error) {
	if d.form == FormPrintable {
		return d.text, nil
	}
	v, err := d.Internal(id, p)
	if err != nil {
		return "", err
	}
	return MustGet(id).Output(v, p)
}

// Typed converts d to the Go value of type id.
func (d Datum) Typed(id ID, p *Param) (interface{}, error) {
	if d.form == FormTyped {
		return d.typed, nil
	}
	v, err := d.Internal(id, p)
	if err != nil {
		return nil, err
	}
	return MustGet(id).ToTyped(v, p)
}
