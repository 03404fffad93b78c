package wal

import (
	"github.com/pingcap/errors"
)

// ApplyFunc receives the data ops of one committed transaction.
type ApplyFunc func(xid uint64, ops []Op) error

// Replay walks batches in LSN order and hands every committed transaction to
// apply. Ops of a transaction are held back until its commit; aborted and
// unfinished transactions are dropped. It returns the largest xid seen.
func Replay(batches []Batch, apply ApplyFunc) (uint64, error) {
	var maxXid uint64
	open := make(map[uint64][]Op)
	for _, b := range batches {
		for _, r := range b.Records {
			if r.Xid > maxXid {
				maxXid = r.Xid
			}
			for _, op := range r.Ops {
				switch op.Kind {
				case OpBegin:
					if _, ok := open[r.Xid]; !ok {
						open[r.Xid] = nil
					}
				case OpCommit:
					ops := open[r.Xid]
					delete(open, r.Xid)
					if len(ops) == 0 {
						continue
					}
					if err := apply(r.Xid, ops); err != nil {
						return maxXid, errors.Annotatef(err, "replay xid %d at lsn %d", r.Xid, b.LSN)
					}
				case OpAbort:
					delete(open, r.Xid)
				default:
					open[r.Xid] = append(open[r.Xid], op)
				}
			}
		}
	}
	return maxXid, nil
}
