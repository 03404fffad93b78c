package storage

import (
	"bytes"
	"testing"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/stretchr/testify/require"
)

func walletsDef() TableDef {
	return TableDef{
		Name: "wallets",
		Columns: []ColumnDef{
			{Name: "user_id", Type: "int"},
			{Name: "name", Type: "varchar", Params: []string{"16"}},
			{Name: "balance", Type: "int"},
		},
		PrimaryKey: []string{"user_id"},
	}
}

func TestCatalogPersists(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(dir)
	require.NoError(t, err)
	s, err := cat.Create(walletsDef())
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.ID())
	require.Equal(t, []int{0}, s.Key)

	_, err = cat.Create(walletsDef())
	require.True(t, ec.Is(err, ec.DuplicateElement))

	other := walletsDef()
	other.Name = "scratch"
	_, err = cat.Create(other)
	require.NoError(t, err)
	_, err = cat.Drop("SCRATCH")
	require.NoError(t, err)
	require.NoError(t, cat.Close())

	cat, err = OpenCatalog(dir)
	require.NoError(t, err)
	defer cat.Close()
	s, err = cat.Table("Wallets")
	require.NoError(t, err)
	require.Equal(t, walletsDef().Columns, s.Def.Columns)
	require.Equal(t, 3, s.Desc.Len())
	_, err = cat.Table("scratch")
	require.True(t, ec.Is(err, ec.NoSuchElement))

	// Ids are not reused after a drop.
	next, err := cat.Create(other)
	require.NoError(t, err)
	require.Equal(t, uint64(3), next.ID())
	require.Len(t, cat.Tables(), 2)
}

func TestSchemaErrors(t *testing.T) {
	def := walletsDef()
	def.Columns = append(def.Columns, ColumnDef{Name: "USER_ID", Type: "int"})
	_, err := NewSchema(def)
	require.True(t, ec.Is(err, ec.DuplicateElement))

	def = walletsDef()
	def.Columns[1].Type = "blob"
	_, err = NewSchema(def)
	require.Error(t, err)

	def = walletsDef()
	def.PrimaryKey = []string{"missing"}
	_, err = NewSchema(def)
	require.True(t, ec.Is(err, ec.NoSuchElement))

	_, err = NewSchema(TableDef{Name: "empty"})
	require.Error(t, err)
}

func walletRow(t *testing.T, s *Schema, id int32, name string, balance int32) []byte {
	frame, err := tuple.Build(s.Desc, []types.Datum{types.Typed(id), types.Typed(name), types.Typed(balance)})
	require.NoError(t, err)
	return frame
}

func TestRowKeyOrder(t *testing.T) {
	s, err := NewSchema(walletsDef())
	require.NoError(t, err)
	var prev []byte
	for _, id := range []int32{-50, -1, 0, 3, 1000} {
		key, err := RowKey(s, walletRow(t, s, id, "x", 0), 0)
		require.NoError(t, err)
		if prev != nil {
			require.Equal(t, -1, bytes.Compare(prev, key))
		}
		prev = key
	}

	def := walletsDef()
	def.PrimaryKey = nil
	s, err = NewSchema(def)
	require.NoError(t, err)
	k1, err := RowKey(s, walletRow(t, s, 9, "x", 0), 1)
	require.NoError(t, err)
	k2, err := RowKey(s, walletRow(t, s, 1, "x", 0), 2)
	require.NoError(t, err)
	require.Equal(t, -1, bytes.Compare(k1, k2))
}

func TestReplayApply(t *testing.T) {
	store := NewStore(NewMemCatalog())
	tbl, err := store.CreateTable(walletsDef())
	require.NoError(t, err)
	s := tbl.Schema

	row1 := walletRow(t, s, 1, "ann", 500)
	row2 := walletRow(t, s, 2, "bob", 300)
	k1, err := RowKey(s, row1, 1)
	require.NoError(t, err)
	k2, err := RowKey(s, row2, 2)
	require.NoError(t, err)

	require.NoError(t, store.Apply(1, []wal.Op{
		wal.Insert(s.ID(), 1, k1, row1),
		wal.Insert(s.ID(), 2, k2, row2),
	}))
	deltas, err := tuple.Update(s.Desc, row1, 2, types.Typed(int32(300)))
	require.NoError(t, err)
	require.NoError(t, store.Apply(2, []wal.Op{
		wal.Update(s.ID(), 1, k1, deltas),
		wal.Delete(s.ID(), 2, k2),
		wal.Insert(99, 1, k1, row1),
	}))
	require.NoError(t, store.Apply(3, []wal.Op{wal.Insert(s.ID(), 3, k2, row2)}))

	snap := &mvcc.Snapshot{Xid: 10, LowerUnalloc: 9, UpperFin: 10}
	v, ok := tbl.Get(k1).Chain.Read(snap)
	require.True(t, ok)
	balance, err := tuple.GetDatum(s.Desc, v.Tuple, 2)
	require.NoError(t, err)
	typed, err := balance.Typed(types.I32, nil)
	require.NoError(t, err)
	require.Equal(t, int32(300), typed)

	v, ok = tbl.Get(k2).Chain.Read(snap)
	require.True(t, ok)
	require.Equal(t, row2, v.Tuple)
	require.Equal(t, uint64(3), v.TS.CMin)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, uint64(4), tbl.NextTupleID())

	require.Error(t, store.Apply(4, []wal.Op{wal.Delete(s.ID(), 9, []byte("nope"))}))

	require.NoError(t, store.DropTable("wallets"))
	_, err = store.Table("wallets")
	require.Error(t, err)
}
