package storage

import (
	"sync"
)

// Latches serialize writers of the same row. A statement latches the row it
// is about to change, checks the tail of its version chain, pushes its
// version and releases the latch. Conflicts between transactions are found on
// the chain; the latch only makes the check and the write atomic.
//
// Each held latch is a WaitGroup that waiters block on until the holder
// releases it.
type Latches struct {
	mu   sync.Mutex
	held map[string]*sync.WaitGroup
}

func NewLatches() *Latches {
	return &Latches{held: make(map[string]*sync.WaitGroup)}
}

// TryLatch takes every row key or none of them. If one is held it returns the
// WaitGroup of its holder.
func (l *Latches) TryLatch(rows ...[]byte) *sync.WaitGroup {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		if holder, ok := l.held[string(row)]; ok {
			return holder
		}
	}
	holder := &sync.WaitGroup{}
	holder.Add(1)
	for _, row := range rows {
		l.held[string(row)] = holder
	}
	return nil
}

// Unlatch releases row keys taken by one TryLatch call.
func (l *Latches) Unlatch(rows ...[]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var holder *sync.WaitGroup
	for _, row := range rows {
		if wg, ok := l.held[string(row)]; ok {
			holder = wg
			delete(l.held, string(row))
		}
	}
	if holder != nil {
		holder.Done()
	}
}

// Latch blocks until the caller holds key and returns the release function.
func (l *Latches) Latch(key []byte) func() {
	for {
		holder := l.TryLatch(key)
		if holder == nil {
			return func() { l.Unlatch(key) }
		}
		holder.Wait()
	}
}

// Held reports how many row keys are latched.
func (l *Latches) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
