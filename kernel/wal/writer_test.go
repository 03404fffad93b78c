package wal

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func memOptions(channels int, limit uint64) Options {
	return Options{
		FS:            afero.NewMemMapFs(),
		Dir:           "/db/xlog",
		Ext:           "xl",
		Channels:      channels,
		FileSizeLimit: limit,
	}
}

func appendAll(t *testing.T, w *Writer, batches [][]Record) {
	ctx := context.Background()
	for _, records := range batches {
		_, waiter, err := w.Append(records, true)
		require.NoError(t, err)
		require.NoError(t, waiter.Wait(ctx))
	}
}

// chunkStats counts the whole and part chunks on disk and checks their CRCs.
func chunkStats(t *testing.T, opts Options) (whole, parts int) {
	files, err := listFiles(opts)
	require.NoError(t, err)
	for _, channel := range files {
		for _, f := range channel {
			data, err := afero.ReadFile(opts.FS, f.path)
			require.NoError(t, err)
			require.LessOrEqual(t, uint64(len(data)), opts.FileSizeLimit)
			for pos := 0; pos < len(data); {
				h := parseHeader(data[pos:])
				body := data[pos+HeaderSize : pos+HeaderSize+int(h.Len)]
				require.Equal(t, h.CRC, Checksum(body))
				require.Equal(t, h.CRC, parseTail(data[pos+h.Size()-TailSize:]))
				if h.IsWhole() {
					whole++
				} else {
					parts++
				}
				pos += h.Size()
			}
		}
	}
	return
}

func TestWriteRecoverRotate(t *testing.T) {
	opts := memOptions(2, 4096)
	r := rand.New(rand.NewSource(5))
	w, err := NewWriter(opts, nil)
	require.NoError(t, err)

	var batches [][]Record
	for i := 1; i <= 100; i++ {
		batches = append(batches, testRecords(r, uint64(i), 150))
	}
	appendAll(t, w, batches)
	require.Equal(t, uint64(100), w.MaxFlushed())
	require.NoError(t, w.Close())

	whole, parts := chunkStats(t, opts)
	require.Greater(t, parts, 0)
	require.Greater(t, whole, 0)

	rec, err := Recover(opts)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.LastLSN)
	require.Len(t, rec.Batches, 100)
	for i, b := range rec.Batches {
		require.Equal(t, uint64(i+1), b.LSN)
		require.Equal(t, batches[i], b.Records)
	}
}

func TestBatchSpanningFiles(t *testing.T) {
	const limit = 512
	r := rand.New(rand.NewSource(6))
	for files := 1; files <= 5; files++ {
		opts := memOptions(1, limit)
		w, err := NewWriter(opts, nil)
		require.NoError(t, err)
		// Leave some bytes in the first file so the batch starts mid-file.
		small := testRecords(r, 1, 20)
		size := (limit-HeaderSize-TailSize)*files - 100
		big := testRecords(r, 2, size)
		appendAll(t, w, [][]Record{small, big})
		require.NoError(t, w.Close())

		listed, err := listFiles(opts)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(listed[0]), files)

		rec, err := Recover(opts)
		require.NoError(t, err)
		require.Len(t, rec.Batches, 2)
		require.Equal(t, small, rec.Batches[0].Records)
		require.Equal(t, big, rec.Batches[1].Records)
		require.Equal(t, listed[0][len(listed[0])-1].seq+1, rec.NextSeq[0])
	}
}

func TestConcurrentAppend(t *testing.T) {
	opts := memOptions(3, 8192)
	w, err := NewWriter(opts, nil)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(i)))
			for j := 0; j < 50; j++ {
				_, waiter, err := w.Append(testRecords(r, uint64(i*100+j+1), r.Intn(300)+1), j%5 == 0)
				if err != nil {
					return err
				}
				if waiter != nil {
					if err := waiter.Wait(context.Background()); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, w.Flush(context.Background(), w.LastLSN()))
	require.Equal(t, uint64(400), w.MaxFlushed())
	require.NoError(t, w.Close())

	_, _, err = w.Append(nil, false)
	require.Error(t, err)

	rec, err := Recover(opts)
	require.NoError(t, err)
	require.Equal(t, uint64(400), rec.LastLSN)
}

func truncateFile(t *testing.T, fs afero.Fs, path string, size int64) {
	f, err := fs.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

func TestRecoverAfterTornWrite(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	for round := 0; round < 30; round++ {
		opts := memOptions(1+r.Intn(3), 2048)
		w, err := NewWriter(opts, nil)
		require.NoError(t, err)
		var batches [][]Record
		for i := 1; i <= 60; i++ {
			batches = append(batches, testRecords(r, uint64(i), r.Intn(400)+1))
		}
		appendAll(t, w, batches)
		require.NoError(t, w.Close())

		// Crash inside the last file of one channel.
		files, err := listFiles(opts)
		require.NoError(t, err)
		channel := files[r.Intn(len(files))]
		last := channel[len(channel)-1]
		if last.size > 0 {
			truncateFile(t, opts.FS, last.path, r.Int63n(last.size))
		}

		rec, err := Recover(opts)
		require.NoError(t, err)
		require.LessOrEqual(t, rec.LastLSN, uint64(60))
		for i, b := range rec.Batches {
			require.Equal(t, uint64(i+1), b.LSN)
			require.Equal(t, batches[i], b.Records)
		}

		// A second pass finds nothing left to repair.
		again, err := Recover(opts)
		require.NoError(t, err)
		require.Equal(t, rec.LastLSN, again.LastLSN)
		_, _ = chunkStats(t, opts)

		// The log continues from the recovered prefix.
		w, err = NewWriter(opts, rec)
		require.NoError(t, err)
		more := [][]Record{testRecords(r, 100, 10), testRecords(r, 101, 10)}
		appendAll(t, w, more)
		require.NoError(t, w.Close())

		final, err := Recover(opts)
		require.NoError(t, err)
		require.Equal(t, rec.LastLSN+2, final.LastLSN)
		require.Equal(t, more[1], final.Batches[len(final.Batches)-1].Records)
	}
}

func TestRecoverCorruptChunk(t *testing.T) {
	opts := memOptions(1, 1<<20)
	r := rand.New(rand.NewSource(9))
	w, err := NewWriter(opts, nil)
	require.NoError(t, err)
	var batches [][]Record
	for i := 1; i <= 10; i++ {
		batches = append(batches, testRecords(r, uint64(i), 32))
	}
	appendAll(t, w, batches)
	require.NoError(t, w.Close())

	path := filepath.Join(opts.Dir, fileName(1, 1, "xl"))
	data, err := afero.ReadFile(opts.FS, path)
	require.NoError(t, err)
	chunk := len(data) / 10
	data[6*chunk+HeaderSize+3] ^= 0xff
	require.NoError(t, afero.WriteFile(opts.FS, path, data, 0644))

	dump, err := Dump(opts)
	require.NoError(t, err)
	require.Equal(t, uint64(6), dump.LastLSN)
	info, err := opts.FS.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), info.Size())

	rec, err := Recover(opts)
	require.NoError(t, err)
	require.Equal(t, uint64(6), rec.LastLSN)
	info, err = opts.FS.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(6*chunk), info.Size())
}

func TestRecoverRejectsExtraChannels(t *testing.T) {
	opts := memOptions(2, 4096)
	require.NoError(t, opts.FS.MkdirAll(opts.Dir, 0755))
	require.NoError(t, afero.WriteFile(opts.FS, filepath.Join(opts.Dir, "3_1.xl"), nil, 0644))
	_, err := Recover(opts)
	require.Error(t, err)
}
