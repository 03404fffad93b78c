package record

import (
	"testing"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/stretchr/testify/require"
)

type wallet struct {
	UserID  int32  `mudu:"user_id"`
	Name    string `mudu:"name"`
	Balance int64
	Note    string `mudu:"-"`
	hidden  int
}

func walletDesc(t *testing.T) *Desc {
	p, err := types.ParamFor(types.CharVarLen, []string{"10"})
	require.NoError(t, err)
	return NewDesc([]types.DatumDesc{
		{Name: "user_id", ID: types.I32},
		{Name: "name", ID: types.CharVarLen, Param: p},
		{Name: "BALANCE", ID: types.I32},
	})
}

func TestRecord(t *testing.T) {
	desc := walletDesc(t)
	r := New(desc)
	require.NoError(t, r.Set("USER_ID", types.Typed(int32(7))))
	require.NoError(t, r.Set("name", types.Printable("'ann'")))
	require.NoError(t, r.Set("balance", types.Typed(int64(40))))
	require.True(t, ec.Is(r.Set("nope", types.Null()), ec.NoSuchElement))

	row, err := r.Row()
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0, 0, 0, 7}, []byte("ann"), {0, 0, 0, 40}}, row)

	back, err := FromRow(desc, row)
	require.NoError(t, err)
	name, err := back.Typed("name")
	require.NoError(t, err)
	require.Equal(t, "ann", name)

	frame, err := r.Frame()
	require.NoError(t, err)
	decoded, err := FromFrame(desc.TupleDesc(), frame)
	require.NoError(t, err)
	balance, err := decoded.Typed("balance")
	require.NoError(t, err)
	require.Equal(t, int32(40), balance)

	r = New(desc)
	_, err = r.Row()
	require.True(t, ec.Is(err, ec.ConvertErr))
}

func TestScanValues(t *testing.T) {
	desc := walletDesc(t)
	in := wallet{UserID: 1, Name: "bob", Balance: 300, Note: "skipped"}
	row, err := Values(desc, in)
	require.NoError(t, err)

	var out wallet
	require.NoError(t, Scan(desc, row, &out))
	in.Note = ""
	require.Equal(t, in, out)

	require.Error(t, Scan(desc, row, out))
	in.Balance = 1 << 40
	_, err = Values(desc, &in)
	require.Error(t, err)

	type partial struct {
		UserID int32 `mudu:"user_id"`
	}
	_, err = Values(desc, partial{})
	require.True(t, ec.Is(err, ec.NoSuchElement))

	type narrow struct {
		UserID  int8   `mudu:"user_id"`
		Name    []byte `mudu:"name"`
		Balance float64
	}
	var n narrow
	require.Error(t, Scan(desc, row, &n))
}
