package types

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/dgryski/go-farm"
)

func init() {
	register(newCharBehavior(CharFixedLen))
	register(newCharBehavior(CharVarLen))
}

// charLen is the declared length. Zero means unlimited, which only VARCHAR
// allows; CHAR without a length is CHAR(1).
func charLen(id ID, p *Param) int {
	if n, ok := p.Object().(int); ok && n > 0 {
		return n
	}
	if id == CharFixedLen {
		return 1
	}
	return 0
}

func newCharParam(id ID) func(args []string) (*Param, error) {
	return func(args []string) (*Param, error) {
		if len(args) != 1 {
			return nil, convertErr("%v takes one length argument, got %d", id, len(args))
		}
		n, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || n <= 0 {
			return nil, convertErr("invalid %v length %q", id, args[0])
		}
		return NewParam(args, n), nil
	}
}

// Quote renders s as a SQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Unquote strips one level of SQL quoting. Text that is not quoted is
// returned unchanged.
func Unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

func newCharBehavior(id ID) *Behavior {
	fixed := id == CharFixedLen
	b := &Behavior{ID: id, Name: id.String()}

	str := func(v Internal) string {
		s, _ := v.box.(string)
		return s
	}
	// normalize checks the length limit. CHAR values drop their pad.
	normalize := func(s string, p *Param) (Internal, error) {
		if fixed {
			s = strings.TrimRight(s, " ")
		}
		if n := charLen(id, p); n > 0 && len(s) > n {
			return Internal{}, convertErr("value of %d bytes exceeds %v(%d)", len(s), id, n)
		}
		return InternalFromBox(s), nil
	}
	sendLen := func(v Internal, p *Param) int {
		if fixed {
			return charLen(id, p)
		}
		return len(str(v))
	}

	b.NewParam = newCharParam(id)
	if fixed {
		b.DefaultParam = func() *Param { return NewParam([]string{"1"}, 1) }
		b.Len = func(p *Param) (int, bool) { return charLen(id, p), true }
	} else {
		b.DefaultParam = func() *Param { return NewParam(nil, 0) }
		b.Len = func(*Param) (int, bool) { return 0, false }
	}

	b.Input = func(text string, p *Param) (Internal, error) {
		return normalize(Unquote(strings.TrimSpace(text)), p)
	}
	b.Output = func(v Internal, p *Param) (string, error) {
		return Quote(str(v)), nil
	}
	b.Recv = func(buf []byte, p *Param) (Internal, error) {
		if fixed && len(buf) != charLen(id, p) {
			return Internal{}, convertErr("%v(%d) expects %d bytes, got %d", id, charLen(id, p), charLen(id, p), len(buf))
		}
		return normalize(string(buf), p)
	}
	b.SendTo = func(v Internal, p *Param, buf []byte) (int, error) {
		s := str(v)
		if n := charLen(id, p); n > 0 && len(s) > n {
			return 0, convertErr("value of %d bytes exceeds %v(%d)", len(s), id, n)
		}
		need := sendLen(v, p)
		if len(buf) < need {
			return 0, lowBuf(need)
		}
		copy(buf, s)
		for i := len(s); i < need; i++ {
			buf[i] = ' '
		}
		return need, nil
	}
	b.Send = func(v Internal, p *Param) ([]byte, error) {
		buf := make([]byte, sendLen(v, p))
		n, err := b.SendTo(v, p, buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	b.ToTyped = func(v Internal, p *Param) (interface{}, error) {
		return str(v), nil
	}
	b.FromTyped = func(x interface{}, p *Param) (Internal, error) {
		switch t := x.(type) {
		case string:
			return normalize(t, p)
		case []byte:
			return normalize(string(t), p)
		}
		return Internal{}, convertErr("cannot convert %T to %v", x, id)
	}
	b.Default = func(*Param) Internal { return InternalFromBox("") }
	b.Arbitrary = func(r *rand.Rand, p *Param) Internal {
		max := charLen(id, p)
		if max == 0 {
			max = 32
		}
		return InternalFromBox(randomText(r, r.Intn(max+1)))
	}
	b.Compare = &Comparator{
		Order: func(x, y Internal) int { return strings.Compare(str(x), str(y)) },
		Equal: func(x, y Internal) bool { return str(x) == str(y) },
		Hash:  func(x Internal) uint64 { return farm.Hash64([]byte(str(x))) },
	}
	return b
}

const textAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_'"

// randomText never ends with a space, so CHAR values survive the pad trim.
func randomText(r *rand.Rand, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(textAlphabet[r.Intn(len(textAlphabet))])
	}
	return sb.String()
}
