package wal

import (
	"container/heap"
	"fmt"
	"os"
	"time"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/util/worker"
	"github.com/mudu-db/mudu/log"
	"github.com/spf13/afero"
)

type appendTask struct {
	lsn  uint64
	body []byte
}

type taskHeap []appendTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].lsn < h[j].lsn }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(appendTask)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// channel owns the files <index>_<seq>.<ext>. It receives the LSNs congruent
// to index-1 modulo the channel count and writes them in LSN order, since
// appenders may hand batches over out of order.
type channel struct {
	opts   Options
	index  int
	stride uint64
	next   uint64

	file    afero.File
	seq     uint32
	written uint64

	pending taskHeap
	syncer  *Syncer
	worker  *worker.Worker
	err     error
}

func newChannel(opts Options, index int, lastLSN uint64, seq uint32, syncer *Syncer) *channel {
	stride := uint64(opts.Channels)
	residue := uint64(index-1) % stride
	next := lastLSN + 1
	for next%stride != residue {
		next++
	}
	return &channel{
		opts:   opts,
		index:  index,
		stride: stride,
		next:   next,
		seq:    seq,
		syncer: syncer,
	}
}

func (c *channel) Start() {
	if err := c.open(); err != nil {
		c.fail(err)
	}
}

func (c *channel) Stop() {
	if c.file == nil {
		return
	}
	if err := c.file.Sync(); err != nil {
		log.Warnf("wal channel %d: sync on stop: %v", c.index, err)
	}
	if err := c.file.Close(); err != nil {
		log.Warnf("wal channel %d: close: %v", c.index, err)
	}
	c.file = nil
}

func (c *channel) open() error {
	path := c.opts.path(c.index, c.seq)
	f, err := c.opts.FS.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return ec.Newf(ec.IO, "open %s: %v", path, err)
	}
	c.file, c.written = f, 0
	log.Debugf("wal channel %d: opened %s", c.index, path)
	return nil
}

func (c *channel) rotate() error {
	if err := c.file.Sync(); err != nil {
		return ec.Newf(ec.IO, "sync %s: %v", c.file.Name(), err)
	}
	if err := c.file.Close(); err != nil {
		return ec.Newf(ec.IO, "close %s: %v", c.file.Name(), err)
	}
	c.seq++
	walRotateCounter.Inc()
	return c.open()
}

func (c *channel) fail(err error) {
	if c.err == nil {
		c.err = err
		log.Errorf("wal channel %d failed: %v", c.index, err)
	}
	c.syncer.Fail(err)
}

func (c *channel) HandleBatch(tasks []worker.Task) {
	for _, t := range tasks {
		heap.Push(&c.pending, t.(appendTask))
	}
	if c.err != nil {
		c.pending = c.pending[:0]
		return
	}
	var written []uint64
	for c.pending.Len() > 0 && c.pending[0].lsn == c.next {
		t := heap.Pop(&c.pending).(appendTask)
		if err := c.write(t); err != nil {
			c.fail(err)
			return
		}
		written = append(written, t.lsn)
		c.next += c.stride
	}
	if len(written) == 0 {
		return
	}
	start := time.Now()
	if err := c.file.Sync(); err != nil {
		c.fail(ec.Newf(ec.IO, "sync %s: %v", c.file.Name(), err))
		return
	}
	walFsyncHistogram.Observe(time.Since(start).Seconds())
	c.syncer.Ready(written...)
}

func (c *channel) write(t appendTask) error {
	plans := planChunks(len(t.body), c.written, c.opts.FileSizeLimit)
	buf := make([]byte, 0, len(t.body)+len(plans)*(HeaderSize+TailSize))
	for _, p := range plans {
		if p.rotate {
			if err := c.flush(buf); err != nil {
				return err
			}
			buf = buf[:0]
			if err := c.rotate(); err != nil {
				return err
			}
		}
		buf = AppendChunk(buf, t.lsn, p.seq, t.body[p.start:p.end])
	}
	if len(plans) > 1 {
		log.Debugf("wal channel %d: lsn %d split into %d parts", c.index, t.lsn, len(plans))
	}
	walBatchCounter.Inc()
	walBytesCounter.Add(float64(len(t.body)))
	return c.flush(buf)
}

func (c *channel) flush(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := c.file.Write(buf)
	c.written += uint64(n)
	if err != nil {
		return ec.Newf(ec.IO, "write %s: %v", c.file.Name(), err)
	}
	if c.written > c.opts.FileSizeLimit {
		panic(fmt.Sprintf("wal channel %d wrote %d bytes past limit %d", c.index, c.written, c.opts.FileSizeLimit))
	}
	return nil
}
