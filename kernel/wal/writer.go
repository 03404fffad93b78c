// Package wal is the write-ahead log. Batches are numbered by LSN, spread
// over several channels that each own a set of files and an fsync loop, and
// reported durable only once every smaller LSN is durable too.
package wal

import (
	"context"
	"sync"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/util/worker"
	"github.com/mudu-db/mudu/log"
	"go.uber.org/atomic"
)

const (
	channelCapacity = 1024
	channelMaxBatch = 128
)

type Writer struct {
	opts     Options
	lsn      *atomic.Uint64
	syncer   *Syncer
	channels []*channel

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWriter starts the channel loops. rec is the outcome of Recover on the
// same Options, nil for an empty log.
func NewWriter(opts Options, rec *Recovered) (*Writer, error) {
	if opts.Channels <= 0 {
		return nil, ec.Newf(ec.DBInternalErr, "invalid channel count %d", opts.Channels)
	}
	if err := opts.FS.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, ec.Newf(ec.IO, "create %s: %v", opts.Dir, err)
	}
	var last uint64
	if rec != nil {
		last = rec.LastLSN
	}
	w := &Writer{
		opts:   opts,
		lsn:    atomic.NewUint64(last),
		syncer: NewSyncer(last),
	}
	for i := 1; i <= opts.Channels; i++ {
		seq := uint32(1)
		if rec != nil && i <= len(rec.NextSeq) {
			seq = rec.NextSeq[i-1]
		}
		c := newChannel(opts, i, last, seq, w.syncer)
		c.worker = worker.NewBatchWorker("wal-channel", &w.wg, channelCapacity, channelMaxBatch)
		c.worker.Start(c)
		w.channels = append(w.channels, c)
	}
	log.Infof("wal writer started in %s with %d channels, last lsn %d", opts.Dir, opts.Channels, last)
	return w, nil
}

// Append logs records as one batch. With wait set the returned waiter
// completes when the batch is durable; without it durability is eventual and
// the waiter is nil.
func (w *Writer) Append(records []Record, wait bool) (uint64, *Waiter, error) {
	body := EncodeRecords(records)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return 0, nil, ec.New(ec.IO, "wal writer is closed")
	}
	if err := w.syncer.Err(); err != nil {
		return 0, nil, ec.Newf(ec.IO, "wal writer failed: %v", err)
	}
	lsn := w.lsn.Inc()
	w.channels[lsn%uint64(len(w.channels))].worker.Sender() <- appendTask{lsn: lsn, body: body}
	if !wait {
		return lsn, nil, nil
	}
	return lsn, w.syncer.Waiter(lsn), nil
}

// Flush waits until every LSN up to lsn is durable.
func (w *Writer) Flush(ctx context.Context, lsn uint64) error {
	return w.syncer.Wait(ctx, lsn)
}

// LastLSN is the most recently allocated LSN.
func (w *Writer) LastLSN() uint64 {
	return w.lsn.Load()
}

func (w *Writer) MaxFlushed() uint64 {
	return w.syncer.MaxFlushed()
}

// Close drains the channels and closes their files.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	for _, c := range w.channels {
		c.worker.Stop()
	}
	w.wg.Wait()
	if err := w.syncer.Err(); err != nil {
		return err
	}
	log.Infof("wal writer closed, max flushed lsn %d", w.syncer.MaxFlushed())
	return nil
}
