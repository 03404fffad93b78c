package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeBytes(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247}, EncodeBytes(nil, nil))
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 250}, EncodeBytes(nil, []byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247},
		EncodeBytes(nil, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	enc := EncodeBytes([]byte("p"), []byte("hello world"))
	rest, dec, err := DecodeBytes(enc[1:])
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, "hello world", string(dec))

	_, _, err = DecodeBytes(enc[1:5])
	require.Error(t, err)
}

func TestOrderPreserved(t *testing.T) {
	ints := []int64{math.MinInt64, -100, -1, 0, 1, 7, math.MaxInt64}
	floats := []float64{math.Inf(-1), -3.5, -0.25, 0, 0.25, 2, math.Inf(1)}
	strs := [][]byte{{}, {0}, {0, 0}, []byte("a"), []byte("abcdefgh"), []byte("abcdefghi"), []byte("b")}

	check := func(keys [][]byte) {
		require.True(t, sort.SliceIsSorted(keys, func(i, j int) bool {
			return bytes.Compare(keys[i], keys[j]) < 0
		}))
	}
	var keys [][]byte
	for _, v := range ints {
		k := EncodeInt(nil, v)
		_, back, err := DecodeInt(k)
		require.NoError(t, err)
		require.Equal(t, v, back)
		keys = append(keys, k)
	}
	check(keys)

	keys = nil
	for _, v := range floats {
		k := EncodeFloat(nil, v)
		_, back, err := DecodeFloat(k)
		require.NoError(t, err)
		require.Equal(t, v, back)
		keys = append(keys, k)
	}
	check(keys)

	keys = nil
	for _, v := range strs {
		keys = append(keys, EncodeBytes(nil, v))
	}
	check(keys)
}
