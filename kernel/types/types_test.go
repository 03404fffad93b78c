package types

import (
	"math/rand"
	"testing"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T, id ID) []*Param {
	switch id {
	case CharFixedLen:
		p, err := ParamFor(id, []string{"12"})
		require.NoError(t, err)
		return []*Param{MustGet(id).DefaultParam(), p}
	case CharVarLen:
		p, err := ParamFor(id, []string{"40"})
		require.NoError(t, err)
		return []*Param{MustGet(id).DefaultParam(), p}
	}
	return []*Param{nil}
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, id := range IDs() {
		b := MustGet(id)
		for _, p := range testParams(t, id) {
			for i := 0; i < 200; i++ {
				v := b.Arbitrary(r, p)

				text, err := b.Output(v, p)
				require.NoError(t, err)
				back, err := b.Input(text, p)
				require.NoError(t, err, "%v %q", id, text)
				assert.Equal(t, v, back, "%v printable %q", id, text)

				bin, err := b.Send(v, p)
				require.NoError(t, err)
				if n, ok := b.Len(p); ok {
					assert.Equal(t, n, len(bin))
				}
				back, err = b.Recv(bin, p)
				require.NoError(t, err)
				assert.Equal(t, v, back, "%v binary %x", id, bin)

				typed, err := b.ToTyped(v, p)
				require.NoError(t, err)
				back, err = b.FromTyped(typed, p)
				require.NoError(t, err)
				assert.Equal(t, v, back)

				assert.Equal(t, 0, b.Compare.Order(v, back))
				assert.Equal(t, b.Compare.Hash(v), b.Compare.Hash(back))
			}
		}
	}
}

func TestSendToLowBuffer(t *testing.T) {
	b := MustGet(I64)
	v, err := b.Input("-7", nil)
	require.NoError(t, err)
	_, err = b.SendTo(v, nil, make([]byte, 3))
	e, ok := ec.LowBufSpace(err)
	require.True(t, ok)
	require.Equal(t, 8, e.Need)

	buf := make([]byte, 8)
	n, err := b.SendTo(v, nil, buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xf9}, buf)
}

func TestCharPadding(t *testing.T) {
	p, err := ParamFor(CharFixedLen, []string{"5"})
	require.NoError(t, err)
	b := MustGet(CharFixedLen)

	v, err := b.Input("'ab'", p)
	require.NoError(t, err)
	bin, err := b.Send(v, p)
	require.NoError(t, err)
	require.Equal(t, []byte("ab   "), bin)

	_, err = b.Input("'abcdef'", p)
	require.True(t, ec.Is(err, ec.ConvertErr))

	_, err = b.Recv([]byte("ab"), p)
	require.Error(t, err)

	// Without a param CHAR is CHAR(1).
	n, fixed := FixedLen(CharFixedLen, nil)
	require.True(t, fixed)
	require.Equal(t, 1, n)
	bin, err = Typed("x").Binary(CharFixedLen, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), bin)
	bin, err = Typed("").Binary(CharFixedLen, nil)
	require.NoError(t, err)
	require.Equal(t, []byte(" "), bin)
	_, err = Typed("xy").Binary(CharFixedLen, nil)
	require.True(t, ec.Is(err, ec.ConvertErr))
}

func TestQuoting(t *testing.T) {
	b := MustGet(CharVarLen)
	v, err := b.Input("'it''s'", nil)
	require.NoError(t, err)
	typed, err := b.ToTyped(v, nil)
	require.NoError(t, err)
	require.Equal(t, "it's", typed)
	out, err := b.Output(v, nil)
	require.NoError(t, err)
	require.Equal(t, "'it''s'", out)

	bare, err := b.Input("plain", nil)
	require.NoError(t, err)
	require.Equal(t, "plain", bare.Box())
}

func TestDatumConversions(t *testing.T) {
	d := Printable("123")
	bin, err := d.Binary(I32, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 123}, bin)

	typed, err := Binary(bin).Typed(I32, nil)
	require.NoError(t, err)
	require.Equal(t, int32(123), typed)

	text, err := Typed(int64(-5)).Printable(I64, nil)
	require.NoError(t, err)
	require.Equal(t, "-5", text)

	_, err = Null().Binary(I32, nil)
	require.True(t, ec.Is(err, ec.ConvertErr))

	_, err = Typed("x").Binary(I32, nil)
	require.Error(t, err)
	_, err = Typed(int64(1) << 40).Binary(I32, nil)
	require.Error(t, err)
}

func TestParseID(t *testing.T) {
	for name, id := range map[string]ID{
		"INT": I32, "bigint": I64, "real": F32, "DOUBLE": F64,
		"char": CharFixedLen, "VARCHAR": CharVarLen, "i64": I64,
	} {
		got, err := ParseID(name)
		require.NoError(t, err, name)
		require.Equal(t, id, got, name)
	}
	_, err := ParseID("blob")
	require.True(t, ec.Is(err, ec.NoSuchElement))

	_, err = ParamFor(I32, []string{"3"})
	require.Error(t, err)
	p, err := ParamFor(CharFixedLen, nil)
	require.NoError(t, err)
	n, fixed := FixedLen(CharFixedLen, p)
	require.True(t, fixed)
	require.Equal(t, 1, n)
	_, fixed = FixedLen(CharVarLen, nil)
	require.False(t, fixed)
}
