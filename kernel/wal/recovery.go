package wal

import (
	"bytes"
	"os"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/log"
	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Recovered is the durable prefix of the log.
type Recovered struct {
	// Batches holds LSNs 1..LastLSN in order.
	Batches []Batch
	LastLSN uint64
	// NextSeq is the file seq each channel continues with, channel 1 first.
	NextSeq []uint32
}

// position is where a batch starts on disk.
type position struct {
	file   int
	offset int64
}

type located struct {
	batch Batch
	pos   position
}

type channelScan struct {
	files   []logFile
	batches []located
	// cut is set when the tail of the channel has to go.
	cut *position
}

// Recover reads every channel, truncates torn or corrupt tails and anything
// past the first missing LSN, and returns what survives.
func Recover(opts Options) (*Recovered, error) {
	return recoverLog(opts, false)
}

// Dump is Recover without touching the files.
func Dump(opts Options) (*Recovered, error) {
	return recoverLog(opts, true)
}

func recoverLog(opts Options, readOnly bool) (*Recovered, error) {
	files, err := listFiles(opts)
	if err != nil {
		return nil, err
	}
	scans := make([]*channelScan, len(files))
	var g errgroup.Group
	for i := range files {
		i := i
		scans[i] = &channelScan{files: files[i]}
		g.Go(func() error {
			return scans[i].scan(opts)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byLSN := make(map[uint64]*located)
	for _, s := range scans {
		for i := range s.batches {
			b := &s.batches[i]
			if _, dup := byLSN[b.batch.LSN]; dup {
				return nil, ec.Newf(ec.DBInternalErr, "lsn %d found twice in the log", b.batch.LSN)
			}
			byLSN[b.batch.LSN] = b
		}
	}
	rec := &Recovered{}
	for {
		b, ok := byLSN[rec.LastLSN+1]
		if !ok {
			break
		}
		rec.Batches = append(rec.Batches, b.batch)
		rec.LastLSN++
	}
	for idx, s := range scans {
		for _, b := range s.batches {
			if b.batch.LSN > rec.LastLSN {
				log.Warnf("wal channel %d: lsn %d follows a gap at %d, dropping the rest of the channel",
					idx+1, b.batch.LSN, rec.LastLSN+1)
				if s.cut == nil || b.pos.file < s.cut.file || (b.pos.file == s.cut.file && b.pos.offset < s.cut.offset) {
					pos := b.pos
					s.cut = &pos
				}
				break
			}
		}
		next := uint32(1)
		if n := len(s.files); n > 0 {
			next = s.files[n-1].seq + 1
		}
		rec.NextSeq = append(rec.NextSeq, next)
		if s.cut != nil && !readOnly {
			if err := s.truncate(opts.FS); err != nil {
				return nil, err
			}
		}
	}
	log.Infof("wal recovered %d batches from %s, last lsn %d", len(rec.Batches), opts.Dir, rec.LastLSN)
	return rec, nil
}

func (s *channelScan) corrupt(file int, offset int64, format string, args ...interface{}) {
	err := ec.Newf(ec.DBInternalErr, format, args...)
	log.Errorf("wal %s at offset %d: %v", s.files[file].path, offset, err)
	s.cut = &position{file: file, offset: offset}
}

// scan decodes the channel's batches in order, stopping at the first damage.
func (s *channelScan) scan(opts Options) error {
	var (
		parts    [][]byte
		partsLSN uint64
		partsAt  *position
	)
	for fi, f := range s.files {
		data, err := afero.ReadFile(opts.FS, f.path)
		if err != nil {
			return ec.Newf(ec.IO, "read %s: %v", f.path, err)
		}
		pos := 0
		for pos < len(data) {
			if len(data)-pos < HeaderSize {
				s.corrupt(fi, int64(pos), "torn chunk header, %d bytes left", len(data)-pos)
				return nil
			}
			h := parseHeader(data[pos:])
			end := pos + h.Size()
			if end > len(data) {
				s.corrupt(fi, int64(pos), "torn chunk of lsn %d, needs %d bytes, %d left", h.LSN, h.Size(), len(data)-pos)
				return nil
			}
			body := data[pos+HeaderSize : pos+HeaderSize+int(h.Len)]
			tail := parseTail(data[end-TailSize:])
			if sum := Checksum(body); sum != h.CRC || tail != h.CRC {
				s.corrupt(fi, int64(pos), "crc mismatch in lsn %d: header %x tail %x body %x", h.LSN, h.CRC, tail, sum)
				return nil
			}
			here := position{file: fi, offset: int64(pos)}
			if h.IsWhole() {
				if partsAt != nil {
					s.corrupt(partsAt.file, partsAt.offset, "parts of lsn %d interrupted by lsn %d", partsLSN, h.LSN)
					return nil
				}
				if !s.decode(h.LSN, body, here) {
					return nil
				}
			} else {
				if partsAt == nil {
					at := here
					partsAt, partsLSN, parts = &at, h.LSN, nil
				}
				if h.LSN != partsLSN || int(h.Part()) != len(parts) {
					s.corrupt(partsAt.file, partsAt.offset, "part %d of lsn %d out of sequence", h.Part(), h.LSN)
					return nil
				}
				parts = append(parts, body)
				if h.IsLast() {
					at := *partsAt
					partsAt = nil
					if !s.decode(partsLSN, bytes.Join(parts, nil), at) {
						return nil
					}
				}
			}
			pos = end
		}
	}
	if partsAt != nil {
		s.corrupt(partsAt.file, partsAt.offset, "lsn %d ends with an incomplete part sequence", partsLSN)
	}
	return nil
}

func (s *channelScan) decode(lsn uint64, body []byte, at position) bool {
	records, err := DecodeRecords(body)
	if err != nil {
		s.corrupt(at.file, at.offset, "undecodable batch %d: %v", lsn, err)
		return false
	}
	s.batches = append(s.batches, located{batch: Batch{LSN: lsn, Records: records}, pos: at})
	return true
}

// truncate cuts the file at s.cut and removes every later file of the channel.
// Batches before the cut stay in place.
func (s *channelScan) truncate(fs afero.Fs) error {
	f := s.files[s.cut.file]
	file, err := fs.OpenFile(f.path, os.O_RDWR, 0644)
	if err != nil {
		return ec.Newf(ec.IO, "open %s: %v", f.path, err)
	}
	if err = file.Truncate(s.cut.offset); err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Annotatef(err, "truncate %s", f.path)
	}
	log.Warnf("wal truncated %s to %d bytes", f.path, s.cut.offset)
	for _, later := range s.files[s.cut.file+1:] {
		if err := fs.Remove(later.path); err != nil {
			return ec.Newf(ec.IO, "remove %s: %v", later.path, err)
		}
		log.Warnf("wal removed %s", later.path)
	}
	keep := s.batches[:0]
	for _, b := range s.batches {
		if b.pos.file < s.cut.file || (b.pos.file == s.cut.file && b.pos.offset < s.cut.offset) {
			keep = append(keep, b)
		}
	}
	s.batches = keep
	return nil
}
