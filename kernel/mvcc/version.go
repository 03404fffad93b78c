package mvcc

import (
	"fmt"
	"sync"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple/delta"
)

// MaxVersions bounds how many full tuples a chain keeps.
const MaxVersions = 4

type Version struct {
	TS    Timestamp
	Tuple []byte
}

// VersionDelta is a version kept as the deltas that rebuild it from the tuple
// of its successor.
type VersionDelta struct {
	TS     Timestamp
	Deltas []delta.UpdateDelta
}

type recentVersion struct {
	Version
	// undo rebuilds this version from the next newer one.
	undo []delta.UpdateDelta
}

// Chain is the history of one row: the newest MaxVersions full tuples, then
// older versions as deltas, newest last in both.
type Chain struct {
	mu     sync.Mutex
	recent []recentVersion
	older  []VersionDelta
}

func NewChain(v Version) *Chain {
	c := &Chain{}
	c.Write(v, nil)
	return c
}

// Write appends v. prev carries the timestamp of the current tail as the
// writer read it and the deltas that turn v's tuple back into the tail's.
// The tail is stamped as replaced by v's creator.
func (c *Chain) Write(v Version, prev *VersionDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recent) == 0 {
		if prev != nil {
			panic("first version of a row written with a predecessor")
		}
		c.recent = append(c.recent, recentVersion{Version: v})
		return
	}
	tail := &c.recent[len(c.recent)-1]
	if prev == nil || prev.TS != tail.TS {
		panic(fmt.Sprintf("row tail is %v, writer expected %v", tail.TS, prev))
	}
	if tail.TS.Current() {
		tail.TS.CMax = v.TS.CMin
	}
	tail.undo = prev.Deltas
	c.recent = append(c.recent, recentVersion{Version: v})
	// Keep at least one version older than the writer's in full, Undo needs
	// it as a base.
	if len(c.recent) > MaxVersions && c.recent[1].TS.CMin != v.TS.CMin {
		oldest := c.recent[0]
		c.older = append(c.older, VersionDelta{TS: oldest.TS, Deltas: oldest.undo})
		c.recent[0] = recentVersion{}
		c.recent = c.recent[1:]
	}
}

// Rewrite replaces the tuple of a tail its writer created earlier. inverses
// turn the new tuple back into the old one.
func (c *Chain) Rewrite(v Version, inverses []delta.UpdateDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.recent)
	if n == 0 || c.recent[n-1].TS != v.TS || !v.TS.Current() {
		panic(fmt.Sprintf("rewrite of %v does not match the row tail", v.TS))
	}
	c.recent[n-1].Tuple = v.Tuple
	switch {
	case n >= 2:
		c.recent[n-2].undo = append(c.recent[n-2].undo, inverses...)
	case len(c.older) > 0:
		last := &c.older[len(c.older)-1]
		last.Deltas = append(last.Deltas, inverses...)
	}
}

// Read returns the version visible to s.
func (c *Chain) Read(s *Snapshot) (Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.recent) - 1; i >= 0; i-- {
		if s.VersionVisible(c.recent[i].TS) {
			return Version{TS: c.recent[i].TS, Tuple: delta.Clone(c.recent[i].Tuple)}, true
		}
	}
	if len(c.older) == 0 {
		return Version{}, false
	}
	base := delta.Clone(c.recent[0].Tuple)
	for i := len(c.older) - 1; i >= 0; i-- {
		base = delta.Revert(base, c.older[i].Deltas)
		if s.VersionVisible(c.older[i].TS) {
			return Version{TS: c.older[i].TS, Tuple: base}, true
		}
	}
	return Version{}, false
}

// Tail returns the newest version.
func (c *Chain) Tail() (Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recent) == 0 {
		return Version{}, false
	}
	t := c.recent[len(c.recent)-1]
	return Version{TS: t.TS, Tuple: delta.Clone(t.Tuple)}, true
}

// ForWrite returns the version a writer under s may replace. ok is false when
// the row is deleted as far as s is concerned. Rows created or replaced by a
// transaction s cannot see are a write conflict.
func (c *Chain) ForWrite(s *Snapshot) (v Version, ok bool, err error) {
	tail, exists := c.Tail()
	if !exists {
		return Version{}, false, nil
	}
	if tail.TS.CMin != s.Xid && !s.Visible(tail.TS.CMin) {
		return Version{}, false, ec.Newf(ec.TxErr, "write conflict, row created by transaction %d", tail.TS.CMin)
	}
	if !tail.TS.Current() {
		if tail.TS.CMax == s.Xid || s.Visible(tail.TS.CMax) {
			return Version{}, false, nil
		}
		return Version{}, false, ec.Newf(ec.TxErr, "write conflict, row replaced by transaction %d", tail.TS.CMax)
	}
	return tail, true, nil
}

// Delete stamps the tail as deleted by xid.
func (c *Chain) Delete(xid uint64, expect Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recent) == 0 {
		panic("delete of an empty row")
	}
	tail := &c.recent[len(c.recent)-1]
	if tail.TS != expect || !tail.TS.Current() {
		panic(fmt.Sprintf("row tail is %v, deleter expected %v", tail.TS, expect))
	}
	tail.TS.CMax = xid
}

// Undo removes every trace of xid from the chain and reports whether the row
// is left without versions.
func (c *Chain) Undo(xid uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	popped := false
	for n := len(c.recent); n > 0 && c.recent[n-1].TS.CMin == xid; n-- {
		c.recent[n-1] = recentVersion{}
		c.recent = c.recent[:n-1]
		popped = true
	}
	if len(c.recent) == 0 {
		// Every full tuple was xid's, so the older ones were too.
		c.older = nil
		return true
	}
	tail := &c.recent[len(c.recent)-1]
	if tail.TS.CMax == xid {
		tail.TS.CMax = MaxTS
	}
	if popped {
		tail.undo = nil
	}
	return false
}

// Len is the number of versions in the chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recent) + len(c.older)
}
