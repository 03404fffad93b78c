package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryLatch(t *testing.T) {
	l := NewLatches()
	a, b := latchKey(1, []byte("a")), latchKey(1, []byte("b"))
	other := latchKey(2, []byte("a"))

	require.Nil(t, l.TryLatch(a, b))
	require.NotNil(t, l.TryLatch(b))
	// Same primary key in another table.
	require.Nil(t, l.TryLatch(other))
	require.Equal(t, 3, l.Held())

	l.Unlatch(a, b)
	require.Nil(t, l.TryLatch(b))
	require.NotNil(t, l.TryLatch(a, b))
	l.Unlatch(b)
	l.Unlatch(other)
	require.Equal(t, 0, l.Held())
}

func TestLatchSerializes(t *testing.T) {
	l := NewLatches()
	key := latchKey(7, []byte("row"))
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				release := l.Latch(key)
				counter++
				release()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1600, counter)
	require.Equal(t, 0, l.Held())
}
