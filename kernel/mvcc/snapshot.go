// Package mvcc keeps row versions and decides which of them a transaction
// sees. Transaction ids double as timestamps.
package mvcc

import (
	"fmt"
	"math"
	"sort"
)

// MaxTS marks a version nobody has replaced yet.
const MaxTS uint64 = math.MaxUint64

// Timestamp is the lifetime of a version: created by CMin, replaced or
// deleted by CMax.
type Timestamp struct {
	CMin uint64
	CMax uint64
}

func NewTimestamp(xid uint64) Timestamp {
	return Timestamp{CMin: xid, CMax: MaxTS}
}

func (ts Timestamp) Current() bool { return ts.CMax == MaxTS }

func (ts Timestamp) String() string {
	if ts.Current() {
		return fmt.Sprintf("[%d, inf)", ts.CMin)
	}
	return fmt.Sprintf("[%d, %d)", ts.CMin, ts.CMax)
}

// Snapshot is what a transaction may see: everything finished before its
// oldest concurrent transaction, plus everything allocated before it that was
// not running when it began, plus its own writes.
type Snapshot struct {
	Xid          uint64
	Running      []uint64 // sorted, excludes Xid
	LowerUnalloc uint64
	UpperFin     uint64
}

func (s *Snapshot) running(n uint64) bool {
	i := sort.Search(len(s.Running), func(i int) bool { return s.Running[i] >= n })
	return i < len(s.Running) && s.Running[i] == n
}

// Visible reports whether the effects of transaction n are visible.
func (s *Snapshot) Visible(n uint64) bool {
	return n == s.Xid || n < s.UpperFin || (n <= s.LowerUnalloc && !s.running(n))
}

// VersionVisible reports whether a version with ts is the one s sees.
func (s *Snapshot) VersionVisible(ts Timestamp) bool {
	return s.Visible(ts.CMin) && !s.Visible(ts.CMax)
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot{xid:%d running:%v lower_unalloc:%d upper_fin:%d}",
		s.Xid, s.Running, s.LowerUnalloc, s.UpperFin)
}
