package utils

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("utils: feed/drain queue is closed")
var ErrOverflow = errors.New("utils: feed/drain queue is overflowed")

// Queue keeps records in Drain order until Feed takes them. It holds at
// most limit bytes; a Drain that would exceed that fails with ErrOverflow
// and leaves the queue as it was.
type Queue[T ~[][]byte] struct {
	limit int
	batch int

	mu     sync.Mutex
	items  T
	size   int
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue makes a queue of at most limit bytes. Feed returns up to batch
// records at a time, or everything queued when batch is 0.
func NewQueue[T ~[][]byte](limit, batch int) *Queue[T] {
	return &Queue[T]{
		limit: limit,
		batch: batch,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue[T]) Drain(ctx context.Context, recs T) error {
	n := 0
	for _, r := range recs {
		n += len(r)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.size+n > q.limit {
		return ErrOverflow
	}
	q.items = append(q.items, recs...)
	q.size += n
	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Feed blocks until records are queued, ctx is done or the queue closes.
func (q *Queue[T]) Feed(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.items) > 0 {
			n := len(q.items)
			if q.batch > 0 {
				n = min(n, q.batch)
			}
			out := make(T, n)
			copy(out, q.items)
			clear(q.items[:n])
			q.items = q.items[n:]
			for _, r := range out {
				q.size -= len(r)
			}
			q.mu.Unlock()
			return out, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-q.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		q.size = 0
		close(q.done)
	}
	return nil
}
