package project

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/lorents/fuse-studio/utils"
)

const (
	DefaultPollInterval = time.Second / 30
	// RetryErrorMessageDelay is how long a file may stay unreadable before
	// the failure is logged.
	RetryErrorMessageDelay = 3 * time.Second
)

// Watcher polls files and reports content changes. Contents are compared
// by hash, so rewriting a file with the same bytes is not a change.
type Watcher struct {
	log      utils.Logger
	interval time.Duration

	wg sync.WaitGroup
}

func NewWatcher(log utils.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{log: log, interval: interval}
}

// Watch calls onChange with the current contents of path as soon as the
// file is readable, and again after every change, until ctx is done.
// Read errors are retried on the next tick.
func (w *Watcher) Watch(ctx context.Context, path string, onChange func(data []byte)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.poll(ctx, path, onChange)
	}()
}

func (w *Watcher) poll(ctx context.Context, path string, onChange func(data []byte)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		seen      bool
		last      uint64
		failSince time.Time
		lastErr   string
	)
	for {
		data, err := os.ReadFile(path)
		switch {
		case err != nil:
			if failSince.IsZero() {
				failSince = time.Now()
			}
			if time.Since(failSince) > RetryErrorMessageDelay && err.Error() != lastErr {
				w.log.Warn("watcher: can't load file, retrying", "path", path, "err", err)
				lastErr = err.Error()
			}
		default:
			failSince, lastErr = time.Time{}, ""
			if sum := xxhash.Sum64(data); !seen || sum != last {
				seen, last = true, sum
				onChange(data)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until every watch has stopped.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
