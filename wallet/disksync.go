package wallet

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// CheckCreateDir creates path when it is missing and fails when it exists
// but is not a directory.
func CheckCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %w", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}
	}

	return nil
}

const (
	// DefaultFlushPoll is how often the flusher looks at the update
	// counter.
	DefaultFlushPoll = 500 * time.Millisecond

	// DefaultFlushIdle is how long the counter must stay unchanged before
	// the database is synced.
	DefaultFlushIdle = 2 * time.Second
)

// Flusher syncs the wallet database to disk once writes have settled.
type Flusher struct {
	w    *Wallet
	poll time.Duration
	idle time.Duration

	mu          sync.Mutex
	lastFlushed uint64
	lastSeen    uint64
	lastChange  time.Time
	closed      bool
}

// NewFlusher returns a Flusher for w with the default timings.
func NewFlusher(w *Wallet) *Flusher {
	return &Flusher{
		w:    w,
		poll: DefaultFlushPoll,
		idle: DefaultFlushIdle,
	}
}

// SetTimings overrides the poll interval and idle period.
func (f *Flusher) SetTimings(poll, idle time.Duration) {
	f.mu.Lock()
	f.poll = poll
	f.idle = idle
	f.mu.Unlock()
}

// Run polls the update counter until ctx is done and then does a last
// flush.
func (f *Flusher) Run(ctx context.Context) {
	f.mu.Lock()
	poll := f.poll
	f.lastSeen = f.w.UpdateCount()
	f.lastChange = time.Now()
	f.mu.Unlock()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.tick(time.Now())
		case <-ctx.Done():
			f.Flush(false)
			return
		}
	}
}

// tick syncs when the counter moved since the last flush and has been
// stable for the idle period.
func (f *Flusher) tick(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	count := f.w.UpdateCount()
	if count != f.lastSeen {
		f.lastSeen = count
		f.lastChange = now
		return
	}
	if count == f.lastFlushed || now.Sub(f.lastChange) < f.idle {
		return
	}

	start := time.Now()
	if err := f.w.db.Sync(); err != nil {
		log.Errorf("Unable to flush wallet database: %v", err)
		return
	}
	f.lastFlushed = count
	log.Debugf("Flushed wallet database in %v", time.Since(start))
}

// Flush syncs the database now. A final flush also closes the wallet, and
// later flushes do nothing.
func (f *Flusher) Flush(final bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if final {
		f.closed = true
		if err := f.w.Close(); err != nil {
			log.Errorf("Unable to close wallet: %v", err)
		}
		log.Infof("Wallet closed")
		return
	}
	if err := f.w.db.Sync(); err != nil {
		log.Errorf("Unable to flush wallet database: %v", err)
		return
	}
	f.lastFlushed = f.w.UpdateCount()
}
