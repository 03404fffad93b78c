package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
	require.NoError(t, NewTestConfig().Validate())
}

func TestValidate(t *testing.T) {
	conf := NewTestConfig()
	conf.XLogChannels = 0
	require.Error(t, conf.Validate())

	conf = NewTestConfig()
	conf.XLogFileSizeLimit = 10*ChunkHeaderSize - 1
	require.Error(t, conf.Validate())

	conf = NewTestConfig()
	conf.WasmMemoryPages = 1
	require.Error(t, conf.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mudu.toml")
	content := `
db_path = "` + dir + `"
x_log_channels = 3
x_log_file_size_limit = "4KiB"
x_log_ext_name = "wal"
session_threads = 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	conf, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, dir, conf.DBPath)
	require.Equal(t, uint32(3), conf.XLogChannels)
	require.Equal(t, ByteSize(4096), conf.XLogFileSizeLimit)
	require.Equal(t, "wal", conf.XLogExtName)
	require.Equal(t, uint32(2), conf.SessionThreads)
	// Untouched keys keep their defaults.
	require.Equal(t, "xlog", conf.XLogFolder)
	require.Equal(t, filepath.Join(dir, "xlog"), conf.XLogDir())
}

func TestByteSizeInteger(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("10485760")))
	require.Equal(t, ByteSize(10<<20), b)
	require.Error(t, b.UnmarshalText([]byte("lots")))
}
