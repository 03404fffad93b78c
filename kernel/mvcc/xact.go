package mvcc

import (
	"sort"
	"sync"

	"github.com/mudu-db/mudu/kernel/ec"
	"go.uber.org/atomic"
)

// Manager allocates xids and tracks the running set.
type Manager struct {
	last *atomic.Uint64

	mu      sync.Mutex
	running []uint64
}

func NewManager() *Manager {
	return &Manager{last: atomic.NewUint64(0)}
}

// Seed makes the next xid larger than xid. Used after replay.
func (m *Manager) Seed(xid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if xid > m.last.Load() {
		m.last.Store(xid)
	}
}

// LastXid is the most recently allocated xid.
func (m *Manager) LastXid() uint64 {
	return m.last.Load()
}

// Begin allocates an xid, registers it as running and takes its snapshot.
func (m *Manager) Begin() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	xid := m.last.Inc()
	snap := &Snapshot{
		Xid:          xid,
		Running:      append([]uint64(nil), m.running...),
		LowerUnalloc: xid - 1,
		UpperFin:     xid,
	}
	if len(m.running) > 0 {
		snap.UpperFin = m.running[0]
	}
	// Xids are allocated in order, so appending keeps the set sorted.
	m.running = append(m.running, xid)
	return snap
}

func (m *Manager) remove(xid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.running), func(i int) bool { return m.running[i] >= xid })
	if i == len(m.running) || m.running[i] != xid {
		return ec.Newf(ec.TxErr, "transaction %d is not running", xid)
	}
	m.running = append(m.running[:i], m.running[i+1:]...)
	return nil
}

// Commit ends xid. The caller must have made its log records durable and
// published its versions first.
func (m *Manager) Commit(xid uint64) error {
	return m.remove(xid)
}

// Abort ends xid. The caller must have undone its versions first.
func (m *Manager) Abort(xid uint64) error {
	return m.remove(xid)
}

func (m *Manager) IsRunning(xid uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.running), func(i int) bool { return m.running[i] >= xid })
	return i < len(m.running) && m.running[i] == xid
}

func (m *Manager) Running() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.running...)
}
