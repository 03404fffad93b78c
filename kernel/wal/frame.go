package wal

import (
	"encoding/binary"
	"hash/crc64"
	"math"

	"github.com/mudu-db/mudu/kernel/config"
)

// Chunk layout:
//  header = lsn u64 | crc u64 | len u32 | seq u32
//  body   = len bytes
//  tail   = crc u64
// seq is seqWhole for a chunk holding a full batch. Otherwise the low 31 bits
// number the parts of one batch and lastPart marks the final one.
const (
	HeaderSize = config.ChunkHeaderSize
	TailSize   = 8

	seqWhole = math.MaxUint32
	lastPart = uint32(1) << 31
)

// The ECMA polynomial with Go's reflected, complemented update is CRC-64/XZ.
var crcTable = crc64.MakeTable(crc64.ECMA)

func Checksum(body []byte) uint64 {
	return crc64.Checksum(body, crcTable)
}

type ChunkHeader struct {
	LSN uint64
	CRC uint64
	Len uint32
	Seq uint32
}

func (h ChunkHeader) IsWhole() bool { return h.Seq == seqWhole }

func (h ChunkHeader) IsLast() bool { return h.Seq != seqWhole && h.Seq&lastPart != 0 }

// Part is the index of a part chunk within its batch.
func (h ChunkHeader) Part() uint32 { return h.Seq &^ lastPart }

// Size is the on-disk size of the chunk.
func (h ChunkHeader) Size() int { return HeaderSize + int(h.Len) + TailSize }

func partSeq(idx int, last bool) uint32 {
	s := uint32(idx)
	if last {
		s |= lastPart
	}
	return s
}

func parseHeader(b []byte) ChunkHeader {
	return ChunkHeader{
		LSN: binary.BigEndian.Uint64(b[0:]),
		CRC: binary.BigEndian.Uint64(b[8:]),
		Len: binary.BigEndian.Uint32(b[16:]),
		Seq: binary.BigEndian.Uint32(b[20:]),
	}
}

func parseTail(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// AppendChunk frames body and appends the chunk to dst.
func AppendChunk(dst []byte, lsn uint64, seq uint32, body []byte) []byte {
	crc := Checksum(body)
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:], lsn)
	binary.BigEndian.PutUint64(hdr[8:], crc)
	binary.BigEndian.PutUint32(hdr[16:], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[20:], seq)
	dst = append(dst, hdr[:]...)
	dst = append(dst, body...)
	var tail [TailSize]byte
	binary.BigEndian.PutUint64(tail[:], crc)
	return append(dst, tail[:]...)
}

// chunkPlan is one chunk of a batch. rotate asks for a fresh file before the
// chunk is written.
type chunkPlan struct {
	seq        uint32
	start, end int
	rotate     bool
}

// planChunks splits a body of n bytes for a file holding written bytes out of
// limit. A body that fits goes out whole; otherwise parts fill each file up to
// the limit.
func planChunks(n int, written, limit uint64) []chunkPlan {
	overhead := uint64(HeaderSize + TailSize)
	if written+overhead+uint64(n) <= limit {
		return []chunkPlan{{seq: seqWhole, start: 0, end: n}}
	}
	var plans []chunkPlan
	rotate := false
	for start := 0; start < n || len(plans) == 0; {
		if written+overhead >= limit {
			rotate, written = true, 0
			continue
		}
		room := int(limit - written - overhead)
		end := start + room
		if end > n {
			end = n
		}
		plans = append(plans, chunkPlan{seq: partSeq(len(plans), end == n), start: start, end: end, rotate: rotate})
		written += overhead + uint64(end-start)
		rotate = false
		start = end
	}
	return plans
}
