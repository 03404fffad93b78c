package session

import (
	"context"
	"testing"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/engine"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *engine.Engine {
	w, err := wal.NewWriter(wal.Options{FS: afero.NewMemMapFs(), Dir: "/xlog", Ext: "xl", Channels: 1, FileSizeLimit: 1 << 20}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return engine.New(storage.NewStore(storage.NewMemCatalog()), mvcc.NewManager(), w)
}

func TestSessionLifecycle(t *testing.T) {
	e := newEngine(t)
	reg := NewRegistry()
	s := New(reg, e)
	other := New(reg, e)
	require.NotEqual(t, s.ID, other.ID)

	c, err := s.Begin()
	require.NoError(t, err)
	_, err = s.Begin()
	require.True(t, ec.Is(err, ec.TxErr))

	c2, err := other.Begin()
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	found, err := reg.Lookup(c.Xid())
	require.NoError(t, err)
	require.Equal(t, c, found)
	require.Equal(t, s.ID, found.Session)

	_, err = c.Txn.Command("CREATE TABLE t (a INT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = c.Txn.Command("INSERT INTO t VALUES (1), (2)")
	require.NoError(t, err)
	rs, err := c.Txn.Query("SELECT a FROM t")
	require.NoError(t, err)
	id := c.OpenCursor(rs)
	got, err := c.Cursor(id)
	require.NoError(t, err)
	row, ok, err := got.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{{0, 0, 0, 1}}, row)
	c.CloseCursor(id)
	_, err = c.Cursor(id)
	require.True(t, ec.Is(err, ec.NoSuchElement))

	require.NoError(t, s.Commit(context.Background()))
	require.Nil(t, s.Current())
	_, err = reg.Lookup(c.Xid())
	require.True(t, ec.Is(err, ec.NoSuchElement))
	require.True(t, ec.Is(s.Commit(context.Background()), ec.TxErr))

	// other began before the commit, so it does not see the rows.
	rs, err = c2.Txn.Query("SELECT a FROM t")
	require.NoError(t, err)
	all, err := rs.All()
	require.NoError(t, err)
	require.Empty(t, all)
	other.Close()
	require.Equal(t, 0, reg.Len())

	c, err = s.Begin()
	require.NoError(t, err)
	rs, err = c.Txn.Query("SELECT a FROM t")
	require.NoError(t, err)
	all, err = rs.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NoError(t, s.Rollback())
}
