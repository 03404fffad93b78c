package delta

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomDelta(r *rand.Rand, size int) UpdateDelta {
	off := r.Intn(size + 1)
	length := r.Intn(size - off + 1)
	data := make([]byte, r.Intn(16))
	r.Read(data)
	return New(off, length, data)
}

func TestRevertRestoresOriginal(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 500; round++ {
		orig := make([]byte, r.Intn(64))
		r.Read(orig)

		buf := Clone(orig)
		var inverses []UpdateDelta
		for i := 0; i < 1+r.Intn(8); i++ {
			var inv UpdateDelta
			buf, inv = randomDelta(r, len(buf)).Apply(buf)
			inverses = append(inverses, inv)
		}
		require.Equal(t, orig, Revert(buf, inverses), "round %d", round)
	}
}

func TestApplyAll(t *testing.T) {
	buf := []byte("hello world")
	out, inv := ApplyAll(Clone(buf), []UpdateDelta{
		New(0, 5, []byte("HELLO")),
		New(6, 5, []byte("go")),
	})
	require.Equal(t, "HELLO go", string(out))
	require.Len(t, inv, 2)
	require.Equal(t, New(6, 2, []byte("world")), inv[1])
	require.Equal(t, buf, Revert(out, inv))
}

func TestApplyOutOfRangePanics(t *testing.T) {
	require.Panics(t, func() {
		New(3, 4, nil).Apply(make([]byte, 6))
	})
	require.NotPanics(t, func() {
		New(6, 0, []byte("x")).Apply(make([]byte, 6))
	})
}

func TestListCodec(t *testing.T) {
	deltas := []UpdateDelta{New(0, 4, []byte{1, 2, 3, 4}), New(10, 0, nil), New(2, 7, []byte("abc"))}
	b := MarshalList([]byte{0xee}, deltas)
	got, rest, err := UnmarshalList(b[1:])
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, deltas, got)

	_, _, err = UnmarshalList(b[1 : len(b)-1])
	require.Error(t, err)
}
