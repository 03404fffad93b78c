// Package ec defines the error kinds shared by every layer of the kernel and
// the integer codes they map to at the sandbox ABI boundary.
package ec

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Kind classifies an error. The numeric value is the code written into a
// ProcResult and returned (negated) from host calls.
type Kind int32

const (
	OK Kind = iota
	Decode
	Encode
	InsufficientBufferSpace
	IO
	NoSuchElement
	DuplicateElement
	ParseErr
	ConvertErr
	TxErr
	MutexErr
	FatalErr
	DBInternalErr
	WASMMemoryAccess
	MuduErr
)

var kindNames = [...]string{
	OK:                      "OK",
	Decode:                  "Decode",
	Encode:                  "Encode",
	InsufficientBufferSpace: "InsufficientBufferSpace",
	IO:                      "IO",
	NoSuchElement:           "NoSuchElement",
	DuplicateElement:        "DuplicateElement",
	ParseErr:                "ParseErr",
	ConvertErr:              "ConvertErr",
	TxErr:                   "TxErr",
	MutexErr:                "MutexErr",
	FatalErr:                "FatalErr",
	DBInternalErr:           "DBInternalErr",
	WASMMemoryAccess:        "WASMMemoryAccess",
	MuduErr:                 "MuduErr",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// Error is a kind plus a message. It is what the façade hands back to the
// front-end and what a procedure reports in its result.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New returns a kinded error carrying a stack trace.
func New(kind Kind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, Msg: msg})
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// ErrLowBufSpace is returned by send-to style encoders when the destination
// buffer cannot hold the value. Need is the number of bytes required.
type ErrLowBufSpace struct {
	Need int
}

func (e *ErrLowBufSpace) Error() string {
	return fmt.Sprintf("insufficient buffer space, need %d bytes", e.Need)
}

// LowBufSpace unwraps err into an *ErrLowBufSpace if it is one.
func LowBufSpace(err error) (*ErrLowBufSpace, bool) {
	e, ok := errors.Cause(err).(*ErrLowBufSpace)
	return e, ok
}

// KindOf reports the kind of err. Errors that did not originate in the kernel
// are DBInternalErr.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	switch e := errors.Cause(err).(type) {
	case *Error:
		return e.Kind
	case *ErrLowBufSpace:
		return InsufficientBufferSpace
	}
	return DBInternalErr
}

// MessageOf returns the message of a kinded error, or err.Error() otherwise.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Msg
	}
	return err.Error()
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
