package tuple

import (
	"math/rand"
	"testing"

	"github.com/mudu-db/mudu/kernel/tuple/delta"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func column(t *testing.T, name string, id types.ID, args ...string) types.DatumDesc {
	p, err := types.ParamFor(id, args)
	require.NoError(t, err)
	return types.DatumDesc{Name: name, ID: id, Param: p}
}

func mixedDesc(t *testing.T) *Desc {
	return NewDesc([]types.DatumDesc{
		column(t, "name", types.CharVarLen),
		column(t, "id", types.I64),
		column(t, "code", types.CharFixedLen, "3"),
		column(t, "note", types.CharVarLen, "64"),
		column(t, "score", types.F64),
		column(t, "age", types.I32),
	})
}

func randomRow(r *rand.Rand, d *Desc) []types.Datum {
	row := make([]types.Datum, d.Len())
	for i, c := range d.Columns() {
		row[i] = types.FromInternal(types.MustGet(c.ID).Arbitrary(r, c.Param))
	}
	return row
}

func TestNormalization(t *testing.T) {
	d := mixedDesc(t)
	// Fixed first by type id (i32, i64, f64, char), then the two varchars in
	// declaration order.
	require.Equal(t, []int{5, 1, 4, 2, 0, 3}, d.toPub)
	for i := 0; i < d.Len(); i++ {
		require.Equal(t, i, d.Public(d.Normalized(i)))
	}
	require.True(t, d.IsFixed(1))
	require.False(t, d.IsFixed(0))
	require.Equal(t, 2*slotSize+4+8+8+3, d.MinSize())
	require.Equal(t, 3, d.Index("note"))
	require.Equal(t, -1, d.Index("missing"))
}

func TestBuildRead(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	d := mixedDesc(t)
	for round := 0; round < 200; round++ {
		row := randomRow(r, d)
		frame, err := Build(d, row)
		require.NoError(t, err)
		require.NoError(t, Validate(d, frame))

		got, err := Decode(d, frame)
		require.NoError(t, err)
		require.Equal(t, row, got)

		size := d.MinSize()
		for i := 0; i < d.Len(); i++ {
			if !d.IsFixed(i) {
				b, err := Get(d, frame, i)
				require.NoError(t, err)
				size += len(b)
			}
		}
		require.Equal(t, size, len(frame))
	}
}

func TestBuildErrors(t *testing.T) {
	d := mixedDesc(t)
	row := randomRow(rand.New(rand.NewSource(2)), d)
	row[2] = types.Null()
	_, err := Build(d, row)
	require.Error(t, err)

	_, err = Build(d, row[:3])
	require.Error(t, err)

	row = randomRow(rand.New(rand.NewSource(2)), d)
	row[2] = types.Printable("'toolong'")
	_, err = Build(d, row)
	require.Error(t, err)
}

func TestUpdateProperty(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	d := mixedDesc(t)
	for round := 0; round < 200; round++ {
		row := randomRow(r, d)
		frame, err := Build(d, row)
		require.NoError(t, err)
		orig := delta.Clone(frame)

		var inverses []delta.UpdateDelta
		for step := 0; step < 6; step++ {
			i := r.Intn(d.Len())
			c := d.Column(i)
			v := types.FromInternal(types.MustGet(c.ID).Arbitrary(r, c.Param))
			deltas, err := Update(d, frame, i, v)
			require.NoError(t, err)
			var inv []delta.UpdateDelta
			frame, inv = delta.ApplyAll(frame, deltas)
			inverses = append(inverses, inv...)
			row[i] = v

			require.NoError(t, Validate(d, frame))
			got, err := Decode(d, frame)
			require.NoError(t, err)
			require.Equal(t, row, got)
		}
		assert.Equal(t, orig, delta.Revert(frame, inverses))
	}
}

func TestVarcharUpdateShapes(t *testing.T) {
	d := NewDesc([]types.DatumDesc{
		column(t, "a", types.I32),
		column(t, "b", types.I64),
		column(t, "c", types.CharFixedLen, "4"),
		column(t, "d", types.CharVarLen),
	})
	frame, err := Build(d, []types.Datum{
		types.Typed(int32(1)), types.Typed(int64(2)), types.Typed("abcd"), types.Typed("12345678"),
	})
	require.NoError(t, err)
	require.Len(t, frame, 32)
	orig := delta.Clone(frame)

	var inverses []delta.UpdateDelta
	apply := func(s string, frameLen int) {
		deltas, err := Update(d, frame, 3, types.Typed(s))
		require.NoError(t, err)
		require.Len(t, deltas, 2)
		var inv []delta.UpdateDelta
		frame, inv = delta.ApplyAll(frame, deltas)
		inverses = append(inverses, inv...)
		require.Len(t, frame, frameLen)
		v, err := GetDatum(d, frame, 3)
		require.NoError(t, err)
		typed, err := v.Typed(types.CharVarLen, nil)
		require.NoError(t, err)
		require.Equal(t, s, typed)
	}
	apply("wxyz", 32)
	apply("0123456789012345678901234567890123456789", 64)
	apply("abcdefgh", 64)

	require.Equal(t, orig, delta.Revert(frame, inverses))
}

func TestFixedUpdateIsOneDelta(t *testing.T) {
	d := mixedDesc(t)
	frame, err := Build(d, randomRow(rand.New(rand.NewSource(4)), d))
	require.NoError(t, err)
	deltas, err := Update(d, frame, 5, types.Printable("42"))
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, uint32(4), deltas[0].Length)

	_, err = Update(d, frame, 9, types.Printable("1"))
	require.Error(t, err)
}

func TestProject(t *testing.T) {
	d := mixedDesc(t)
	row := []types.Datum{
		types.Typed("ann"), types.Typed(int64(7)), types.Typed("xy"),
		types.Typed("n"), types.Typed(1.5), types.Typed(int32(30)),
	}
	frame, err := Build(d, row)
	require.NoError(t, err)

	vals, err := Project(d, frame, []int{5, 0, 2})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0, 0, 0, 30}, []byte("ann"), []byte("xy ")}, vals)

	text, err := Printables(d, frame)
	require.NoError(t, err)
	require.Equal(t, []string{"'ann'", "7", "'xy'", "'n'", "1.5", "30"}, text)

	pd := d.Project([]int{5, 0})
	require.Equal(t, "age", pd.Column(0).Name)
	require.False(t, pd.IsFixed(1))
}

func TestValidateRejectsBadSlot(t *testing.T) {
	d := mixedDesc(t)
	frame, err := Build(d, randomRow(rand.New(rand.NewSource(5)), d))
	require.NoError(t, err)
	putSlot(frame, 1, len(frame)-1, 10)
	require.Error(t, Validate(d, frame))
	_, err = Get(d, frame, 3)
	require.Error(t, err)
	require.Error(t, Validate(d, frame[:3]))
}
