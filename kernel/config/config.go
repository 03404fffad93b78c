package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/mudu-db/mudu/log"
	"github.com/pingcap/errors"
)

// ChunkHeaderSize mirrors the WAL chunk header length; the file size limit must
// leave room for at least ten of them.
const ChunkHeaderSize = 24

type Config struct {
	ServerBindAddress string `toml:"server_bind_address"`
	ServerListenPort  uint16 `toml:"server_listen_port"`
	DBPath            string `toml:"db_path"` // Directory to store the data in. Should exist and be writable.
	SessionThreads    uint32 `toml:"session_threads"`

	XLogFolder        string   `toml:"x_log_folder"` // Relative to DBPath.
	XLogExtName       string   `toml:"x_log_ext_name"`
	XLogChannels      uint32   `toml:"x_log_channels"`
	XLogFileSizeLimit ByteSize `toml:"x_log_file_size_limit"`
	// Linux-only fast path. Accepted for compatibility, the portable writer is used.
	XLogUseIOUring bool `toml:"x_log_use_io_uring"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	// Directory holding compiled procedure modules and their descriptors.
	ProcedurePath string `toml:"procedure_path"`
	// Pages each sandbox instance grows its memory by before a call.
	WasmMemoryPages uint32 `toml:"wasm_memory_pages"`
}

// ByteSize is a byte count that may be written either as an integer or as a
// human readable size such as "10MiB".
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Annotatef(err, "invalid size %q", text)
	}
	if n < 0 {
		return errors.Errorf("negative size %q", text)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must be set")
	}
	if c.SessionThreads == 0 {
		return fmt.Errorf("session_threads must be greater than 0")
	}
	if c.XLogChannels == 0 {
		return fmt.Errorf("x_log_channels must be greater than 0")
	}
	if c.XLogExtName == "" {
		return fmt.Errorf("x_log_ext_name must not be empty")
	}
	if uint64(c.XLogFileSizeLimit) < 10*ChunkHeaderSize {
		return fmt.Errorf("x_log_file_size_limit %d is less than %d", c.XLogFileSizeLimit, 10*ChunkHeaderSize)
	}
	if c.WasmMemoryPages < 2 {
		return fmt.Errorf("wasm_memory_pages must be at least 2")
	}
	if c.XLogUseIOUring {
		log.Warnf("x_log_use_io_uring is set, io_uring is not available in this build, using the portable writer")
	}
	return nil
}

// XLogDir is the directory holding the WAL files.
func (c *Config) XLogDir() string {
	return filepath.Join(c.DBPath, c.XLogFolder)
}

// CatalogDir is the directory of the persistent catalog.
func (c *Config) CatalogDir() string {
	return filepath.Join(c.DBPath, "catalog")
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerBindAddress, c.ServerListenPort)
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		ServerBindAddress: "0.0.0.0",
		ServerListenPort:  5432,
		DBPath:            "/tmp/mudu",
		SessionThreads:    8,
		XLogFolder:        "xlog",
		XLogExtName:       "xl",
		XLogChannels:      4,
		XLogFileSizeLimit: ByteSize(10 * MB),
		LogLevel:          getLogLevel(),
		ProcedurePath:     "/tmp/mudu/procedures",
		WasmMemoryPages:   2,
	}
}

func NewTestConfig() *Config {
	return &Config{
		ServerBindAddress: "127.0.0.1",
		ServerListenPort:  0,
		DBPath:            "/tmp/mudu-test",
		SessionThreads:    4,
		XLogFolder:        "xlog",
		XLogExtName:       "xl",
		XLogChannels:      2,
		XLogFileSizeLimit: ByteSize(64 * KB),
		LogLevel:          getLogLevel(),
		WasmMemoryPages:   2,
	}
}

// LoadFile overlays the keys present in a TOML file onto the defaults.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}
