package mvcc

import (
	"fmt"
	"testing"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple/delta"
	"github.com/stretchr/testify/require"
)

// update replaces the whole tuple of the writable version under snap.
func update(t *testing.T, c *Chain, snap *Snapshot, value string) {
	tail, ok, err := c.ForWrite(snap)
	require.NoError(t, err)
	require.True(t, ok)
	d := delta.New(0, len(tail.Tuple), []byte(value))
	next, inv := d.Apply(delta.Clone(tail.Tuple))
	if tail.TS.CMin == snap.Xid {
		c.Rewrite(Version{TS: tail.TS, Tuple: next}, []delta.UpdateDelta{inv})
		return
	}
	c.Write(Version{TS: NewTimestamp(snap.Xid), Tuple: next}, &VersionDelta{TS: tail.TS, Deltas: []delta.UpdateDelta{inv}})
}

func read(t *testing.T, c *Chain, snap *Snapshot) string {
	v, ok := c.Read(snap)
	if !ok {
		return "<none>"
	}
	return string(v.Tuple)
}

func TestSnapshotVisibility(t *testing.T) {
	s := &Snapshot{Xid: 10, Running: []uint64{6, 8}, LowerUnalloc: 9, UpperFin: 6}
	for n, want := range map[uint64]bool{
		1: true, 5: true, 6: false, 7: true, 8: false, 9: true, 10: true, 11: false, MaxTS: false,
	} {
		require.Equal(t, want, s.Visible(n), "xid %d", n)
	}
	require.True(t, s.VersionVisible(Timestamp{CMin: 7, CMax: 8}))
	require.False(t, s.VersionVisible(Timestamp{CMin: 7, CMax: 9}))
	require.True(t, s.VersionVisible(NewTimestamp(10)))
}

func TestManager(t *testing.T) {
	m := NewManager()
	m.Seed(4)
	a := m.Begin()
	b := m.Begin()
	require.Equal(t, uint64(5), a.Xid)
	require.Equal(t, uint64(6), b.Xid)
	require.Equal(t, []uint64{5}, b.Running)
	require.Equal(t, uint64(5), b.UpperFin)
	require.Equal(t, uint64(5), b.LowerUnalloc)

	require.NoError(t, m.Commit(a.Xid))
	require.False(t, m.IsRunning(a.Xid))
	require.True(t, ec.Is(m.Commit(a.Xid), ec.TxErr))
	c := m.Begin()
	require.Equal(t, []uint64{6}, c.Running)
	require.NoError(t, m.Abort(b.Xid))
	require.Equal(t, []uint64{7}, m.Running())

	m.Seed(3)
	require.Equal(t, uint64(7), m.LastXid())
}

// A reader that began before a writer committed keeps seeing the old value.
func TestSnapshotIsolation(t *testing.T) {
	m := NewManager()
	m.Seed(8)
	t0 := m.Begin()
	row := NewChain(Version{TS: NewTimestamp(t0.Xid), Tuple: []byte{1}})
	require.NoError(t, m.Commit(t0.Xid))

	t1 := m.Begin()
	require.Equal(t, uint64(10), t1.Xid)
	update(t, row, t1, "\x02")
	require.Equal(t, "\x02", read(t, row, t1))

	t2 := m.Begin()
	require.Equal(t, uint64(11), t2.Xid)
	require.Equal(t, "\x01", read(t, row, t2))

	// t2 cannot write a row t1 holds.
	_, _, err := row.ForWrite(t2)
	require.True(t, ec.Is(err, ec.TxErr))

	require.NoError(t, m.Commit(t1.Xid))
	t3 := m.Begin()
	require.Equal(t, uint64(12), t3.Xid)
	require.Equal(t, "\x02", read(t, row, t3))
	require.Equal(t, "\x01", read(t, row, t2))

	// Still a conflict: t1 committed after t2 began.
	_, _, err = row.ForWrite(t2)
	require.True(t, ec.Is(err, ec.TxErr))
}

func TestOlderVersionsRebuilt(t *testing.T) {
	m := NewManager()
	w := m.Begin()
	row := NewChain(Version{TS: NewTimestamp(w.Xid), Tuple: []byte("version-1")})
	require.NoError(t, m.Commit(w.Xid))

	var readers []*Snapshot
	const n = 3*MaxVersions + 1
	for i := 1; i <= n; i++ {
		readers = append(readers, m.Begin())
		if i == n {
			break
		}
		w := m.Begin()
		// Vary the length so the deltas resize the tuple.
		update(t, row, w, fmt.Sprintf("version-%d%s", i+1, string(make([]byte, i%3))))
		require.NoError(t, m.Commit(w.Xid))
	}
	require.Equal(t, n, row.Len())
	require.Len(t, row.recent, MaxVersions)
	for i, r := range readers {
		want := fmt.Sprintf("version-%d%s", i+1, string(make([]byte, i%3)))
		if i == 0 {
			want = "version-1"
		}
		require.Equal(t, want, read(t, row, r), "reader %d", i)
	}

	early := &Snapshot{Xid: 0, UpperFin: 0}
	require.Equal(t, "<none>", read(t, row, early))
}

func TestUndo(t *testing.T) {
	m := NewManager()
	t0 := m.Begin()
	row := NewChain(Version{TS: NewTimestamp(t0.Xid), Tuple: []byte("a")})
	require.NoError(t, m.Commit(t0.Xid))

	t1 := m.Begin()
	update(t, row, t1, "bb")
	update(t, row, t1, "ccc")
	require.Equal(t, 2, row.Len())
	require.False(t, row.Undo(t1.Xid))
	require.NoError(t, m.Abort(t1.Xid))

	t2 := m.Begin()
	require.Equal(t, "a", read(t, row, t2))
	tail, ok, err := row.ForWrite(t2)
	require.NoError(t, err)
	require.True(t, ok)
	row.Delete(t2.Xid, tail.TS)
	_, ok, err = row.ForWrite(t2)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "<none>", read(t, row, t2))
	require.False(t, row.Undo(t2.Xid))
	require.NoError(t, m.Abort(t2.Xid))

	t3 := m.Begin()
	require.Equal(t, "a", read(t, row, t3))

	fresh := NewChain(Version{TS: NewTimestamp(t3.Xid), Tuple: []byte("x")})
	require.True(t, fresh.Undo(t3.Xid))
}

func TestWriteChecksTail(t *testing.T) {
	row := NewChain(Version{TS: NewTimestamp(1), Tuple: []byte("a")})
	require.Panics(t, func() {
		row.Write(Version{TS: NewTimestamp(2), Tuple: []byte("b")}, &VersionDelta{TS: NewTimestamp(5)})
	})
	require.Panics(t, func() {
		row.Write(Version{TS: NewTimestamp(2), Tuple: []byte("b")}, nil)
	})
	require.Panics(t, func() {
		row.Delete(2, NewTimestamp(7))
	})
}
