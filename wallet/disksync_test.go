package wallet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckCreateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CheckCreateDir(dir))
	require.NoError(t, CheckCreateDir(dir))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	require.Error(t, CheckCreateDir(file))
}

func (f *Flusher) flushed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFlushed
}

func TestFlusherTick(t *testing.T) {
	w := newTestWallet(t)
	f := NewFlusher(w)

	start := time.Now()
	count := w.UpdateCount()

	// The first tick only notices the change.
	f.tick(start)
	require.Zero(t, f.flushed())

	// Not idle long enough yet.
	f.tick(start.Add(time.Second))
	require.Zero(t, f.flushed())

	f.tick(start.Add(DefaultFlushIdle))
	require.Equal(t, count, f.flushed())

	_, err := w.NewAddress("")
	require.NoError(t, err)
	now := start.Add(3 * DefaultFlushIdle)
	f.tick(now)
	require.Equal(t, count, f.flushed())
	f.tick(now.Add(DefaultFlushIdle))
	require.Equal(t, w.UpdateCount(), f.flushed())
}

func TestFlusherFinalFlush(t *testing.T) {
	w := newTestWallet(t)
	f := NewFlusher(w)

	f.Flush(false)
	require.Equal(t, w.UpdateCount(), f.flushed())

	f.Flush(true)
	_, err := w.NewAddress("")
	require.Error(t, err)

	// Later flushes and ticks are no-ops.
	f.Flush(true)
	f.Flush(false)
	f.tick(time.Now().Add(time.Hour))
}

func TestFlusherRun(t *testing.T) {
	w := newTestWallet(t)
	f := NewFlusher(w)
	f.SetTimings(5*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	_, err := w.NewAddress("")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.flushed() == w.UpdateCount()
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flusher did not stop")
	}
}
