package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LOG_LEVEL_WARN)
	l.Infof("hidden %d", 1)
	l.Warningf("shown %d", 2)
	l.Errorf("shown %d", 3)
	out := buf.String()
	require.False(t, strings.Contains(out, "hidden"))
	require.True(t, strings.Contains(out, "shown 2"))
	require.True(t, strings.Contains(out, "shown 3"))

	buf.Reset()
	l.SetLevelByString("debug")
	l.Debug("now visible")
	require.True(t, strings.Contains(buf.String(), "now visible"))
}

func TestStringToLogLevel(t *testing.T) {
	require.Equal(t, LOG_LEVEL_WARN, StringToLogLevel("warning"))
	require.Equal(t, LOG_LEVEL_WARN, StringToLogLevel("WARN"))
	require.Equal(t, LOG_LEVEL_ERROR, StringToLogLevel("error"))
	require.Equal(t, LOG_LEVEL_ALL, StringToLogLevel("bogus"))
}

func TestSetOutputFileWhileLogging(t *testing.T) {
	prev := logger()
	t.Cleanup(func() { _log.Store(prev) })

	path := filepath.Join(t.TempDir(), "mudu.log")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Debugf("writer %d record %d", i, j)
			}
		}(i)
	}
	SetOutputFile(path, 1, 1)
	wg.Wait()

	Errorf("after swap %d", 7)
	require.NoError(t, Sync())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "after swap 7")
	require.Equal(t, prev.Level(), GetLogLevel())
}
