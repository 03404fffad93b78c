package wal

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mudu-db/mudu/kernel/config"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/pingcap/errors"
	"github.com/spf13/afero"
)

// Options locate the log and bound its files.
type Options struct {
	FS            afero.Fs
	Dir           string
	Ext           string
	Channels      int
	FileSizeLimit uint64
}

// OptionsFromConfig maps the x_log_* keys onto Options for fs.
func OptionsFromConfig(conf *config.Config, fs afero.Fs) Options {
	return Options{
		FS:            fs,
		Dir:           conf.XLogDir(),
		Ext:           conf.XLogExtName,
		Channels:      int(conf.XLogChannels),
		FileSizeLimit: uint64(conf.XLogFileSizeLimit),
	}
}

func (o Options) path(channel int, seq uint32) string {
	return filepath.Join(o.Dir, fileName(channel, seq, o.Ext))
}

// fileName is "<channel>_<seq>.<ext>", channel counted from 1.
func fileName(channel int, seq uint32, ext string) string {
	return fmt.Sprintf("%d_%d.%s", channel, seq, ext)
}

func parseFileName(name, ext string) (channel int, seq uint32, ok bool) {
	base := strings.TrimSuffix(name, "."+ext)
	if base == name {
		return 0, 0, false
	}
	parts := strings.Split(base, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	c, err := strconv.Atoi(parts[0])
	if err != nil || c <= 0 {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return c, uint32(s), true
}

type logFile struct {
	channel int
	seq     uint32
	path    string
	size    int64
}

// listFiles returns the log files of each channel ordered by seq. Index 0 of
// the result is channel 1.
func listFiles(o Options) ([][]logFile, error) {
	if err := o.FS.MkdirAll(o.Dir, 0755); err != nil {
		return nil, ec.Newf(ec.IO, "create %s: %v", o.Dir, err)
	}
	infos, err := afero.ReadDir(o.FS, o.Dir)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", o.Dir)
	}
	files := make([][]logFile, o.Channels)
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		c, seq, ok := parseFileName(info.Name(), o.Ext)
		if !ok {
			continue
		}
		if c > o.Channels {
			return nil, ec.Newf(ec.DBInternalErr,
				"log file %s belongs to channel %d but only %d channels are configured", info.Name(), c, o.Channels)
		}
		files[c-1] = append(files[c-1], logFile{
			channel: c,
			seq:     seq,
			path:    filepath.Join(o.Dir, info.Name()),
			size:    info.Size(),
		})
	}
	for _, fs := range files {
		sort.Slice(fs, func(i, j int) bool { return fs[i].seq < fs[j].seq })
	}
	return files, nil
}
