package wal

import (
	"container/heap"
	"context"
	"sync"

	"go.uber.org/atomic"
)

type lsnHeap []uint64

func (h lsnHeap) Len() int            { return len(h) }
func (h lsnHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h lsnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lsnHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *lsnHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type waiterHeap []*Waiter

func (h waiterHeap) Len() int            { return len(h) }
func (h waiterHeap) Less(i, j int) bool  { return h[i].lsn < h[j].lsn }
func (h waiterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x interface{}) { *h = append(*h, x.(*Waiter)) }
func (h *waiterHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// Waiter is returned by Append and completes once its LSN is durable.
type Waiter struct {
	lsn  uint64
	done chan struct{}
	err  error
}

func newWaiter(lsn uint64) *Waiter {
	return &Waiter{lsn: lsn, done: make(chan struct{})}
}

func (w *Waiter) LSN() uint64 { return w.lsn }

// Wait blocks until the LSN is durable, the log failed or ctx is done.
func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Waiter) finish(err error) {
	w.err = err
	close(w.done)
}

// Syncer publishes the highest LSN below which every LSN is durable. Channels
// report what they fsynced; the gap-free prefix is promoted and its waiters
// are woken.
type Syncer struct {
	maxFlushed *atomic.Uint64

	mu      sync.Mutex
	ready   lsnHeap
	waiters waiterHeap
	err     error
}

func NewSyncer(flushed uint64) *Syncer {
	return &Syncer{maxFlushed: atomic.NewUint64(flushed)}
}

func (s *Syncer) MaxFlushed() uint64 {
	return s.maxFlushed.Load()
}

// Ready marks lsns durable.
func (s *Syncer) Ready(lsns ...uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flushed := s.maxFlushed.Load()
	for _, l := range lsns {
		if l > flushed {
			heap.Push(&s.ready, l)
		}
	}
	for s.ready.Len() > 0 && s.ready[0] <= flushed+1 {
		if l := heap.Pop(&s.ready).(uint64); l == flushed+1 {
			flushed = l
		}
	}
	s.maxFlushed.Store(flushed)
	for s.waiters.Len() > 0 && s.waiters[0].lsn <= flushed {
		heap.Pop(&s.waiters).(*Waiter).finish(nil)
	}
}

// Waiter returns a waiter for lsn. It is already complete when lsn is durable.
func (s *Syncer) Waiter(lsn uint64) *Waiter {
	w := newWaiter(lsn)
	if lsn <= s.maxFlushed.Load() {
		w.finish(nil)
		return w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.err != nil:
		w.finish(s.err)
	case lsn <= s.maxFlushed.Load():
		w.finish(nil)
	default:
		heap.Push(&s.waiters, w)
	}
	return w
}

// Wait blocks until lsn is durable.
func (s *Syncer) Wait(ctx context.Context, lsn uint64) error {
	return s.Waiter(lsn).Wait(ctx)
}

// Fail wakes every pending and future waiter with err. Durability can no
// longer be promised once a channel failed to write.
func (s *Syncer) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	for s.waiters.Len() > 0 {
		heap.Pop(&s.waiters).(*Waiter).finish(s.err)
	}
}

func (s *Syncer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
