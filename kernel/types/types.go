// Package types is the scalar type registry. Each type id owns a behavior
// bundle that converts values between their printable, binary, internal and
// typed representations.
package types

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/mudu-db/mudu/kernel/ec"
)

// ID identifies a scalar type. The order matters: tuple descriptors sort
// columns by it.
type ID uint32

const (
	I32 ID = iota
	I64
	F32
	F64
	CharFixedLen
	CharVarLen

	numIDs
)

var idNames = [numIDs]string{
	I32:          "i32",
	I64:          "i64",
	F32:          "f32",
	F64:          "f64",
	CharFixedLen: "char",
	CharVarLen:   "varchar",
}

func (id ID) String() string {
	if id < numIDs {
		return idNames[id]
	}
	return fmt.Sprintf("type(%d)", uint32(id))
}

// Valid reports whether id names a registered type.
func (id ID) Valid() bool {
	return id < numIDs
}

// ParseID accepts both the stable type names used in descriptor files and the
// SQL spellings.
func ParseID(name string) (ID, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range idNames {
		if s == n {
			return ID(i), nil
		}
	}
	switch n {
	case "int", "integer", "int4":
		return I32, nil
	case "bigint", "int8":
		return I64, nil
	case "float", "real", "float4":
		return F32, nil
	case "double", "float8":
		return F64, nil
	case "character":
		return CharFixedLen, nil
	case "text", "string":
		return CharVarLen, nil
	}
	return 0, ec.Newf(ec.NoSuchElement, "unknown type %q", name)
}

// Param is the parameter object of a parameterized type. It keeps the textual
// argument list it was built from plus a runtime object owned by the type.
type Param struct {
	args []string
	obj  interface{}
}

func NewParam(args []string, obj interface{}) *Param {
	return &Param{args: args, obj: obj}
}

func (p *Param) Args() []string {
	if p == nil {
		return nil
	}
	return p.args
}

func (p *Param) Object() interface{} {
	if p == nil {
		return nil
	}
	return p.obj
}

// Comparator orders, compares and hashes internal values of one type.
type Comparator struct {
	Order func(a, b Internal) int
	Equal func(a, b Internal) bool
	Hash  func(a Internal) uint64
}

// Behavior is the table entry of one type.
type Behavior struct {
	ID   ID
	Name string

	Input  func(text string, p *Param) (Internal, error)
	Output func(v Internal, p *Param) (string, error)
	Recv   func(b []byte, p *Param) (Internal, error)
	Send   func(v Internal, p *Param) ([]byte, error)
	// SendTo writes the binary form into buf and returns the written length,
	// or an *ec.ErrLowBufSpace carrying the required size.
	SendTo func(v Internal, p *Param, buf []byte) (int, error)
	// Len returns the payload size and true for fixed-length types.
	Len       func(p *Param) (int, bool)
	ToTyped   func(v Internal, p *Param) (interface{}, error)
	FromTyped func(v interface{}, p *Param) (Internal, error)
	Default   func(p *Param) Internal
	Arbitrary func(r *rand.Rand, p *Param) Internal

	// Optional.
	Compare      *Comparator
	NewParam     func(args []string) (*Param, error)
	DefaultParam func() *Param
}

var registry [numIDs]*Behavior

func register(b *Behavior) {
	if registry[b.ID] != nil {
		panic(fmt.Sprintf("type %v registered twice", b.ID))
	}
	registry[b.ID] = b
}

// Get returns the behavior of id.
func Get(id ID) (*Behavior, error) {
	if !id.Valid() || registry[id] == nil {
		return nil, ec.Newf(ec.NoSuchElement, "no behavior for %v", id)
	}
	return registry[id], nil
}

// MustGet is Get for ids known to be valid.
func MustGet(id ID) *Behavior {
	b, err := Get(id)
	if err != nil {
		panic(err)
	}
	return b
}

// IDs lists every registered type.
func IDs() []ID {
	ids := make([]ID, 0, numIDs)
	for i := ID(0); i < numIDs; i++ {
		if registry[i] != nil {
			ids = append(ids, i)
		}
	}
	return ids
}

// ParamFor builds the parameter object of id from textual arguments. Types
// without parameters accept only an empty list and return nil.
func ParamFor(id ID, args []string) (*Param, error) {
	b, err := Get(id)
	if err != nil {
		return nil, err
	}
	if b.NewParam == nil {
		if len(args) != 0 {
			return nil, ec.Newf(ec.ConvertErr, "type %v takes no parameters", id)
		}
		return nil, nil
	}
	if len(args) == 0 {
		return b.DefaultParam(), nil
	}
	return b.NewParam(args)
}

// FixedLen returns the payload size of fixed-length types.
func FixedLen(id ID, p *Param) (int, bool) {
	return MustGet(id).Len(p)
}

// DatumDesc describes one column: its name, type and type parameter.
type DatumDesc struct {
	Name  string
	ID    ID
	Param *Param
}

func (d DatumDesc) String() string {
	if args := d.Param.Args(); len(args) > 0 {
		return fmt.Sprintf("%s %v(%s)", d.Name, d.ID, strings.Join(args, ","))
	}
	return fmt.Sprintf("%s %v", d.Name, d.ID)
}

func convertErr(format string, args ...interface{}) error {
	return ec.Newf(ec.ConvertErr, format, args...)
}

func lowBuf(need int) error {
	return &ec.ErrLowBufSpace{Need: need}
}
