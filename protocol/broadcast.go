package protocol

import (
	"io"
	"sync"
	"sync/atomic"
)

// Sink accepts outgoing messages.
type Sink interface {
	Send(m Message) error
}

type SinkFunc func(m Message) error

func (f SinkFunc) Send(m Message) error {
	return f(m)
}

// StreamSink writes each message as one frame to w.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Send(m Message) error {
	frame := Frame(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(frame)
	return err
}

// Tee sends every message to all sinks and returns the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(m Message) (err error) {
		for _, s := range sinks {
			if e := s.Send(m); e != nil && err == nil {
				err = e
			}
		}
		return
	})
}

// Broadcaster fans envelopes out to any number of subscribers. A subscriber
// that falls behind by more than its buffer loses messages rather than
// stalling the publisher.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Int64
}

type Subscription struct {
	C    <-chan Envelope
	ch   chan Envelope
	b    *Broadcaster
	once sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	ch := make(chan Envelope, buffer)
	s := &Subscription{C: ch, ch: ch, b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		s.once.Do(func() {})
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.ch)
	})
}

func (b *Broadcaster) Publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) Send(m Message) error {
	b.Publish(Encode(m))
	return nil
}

// Dropped counts deliveries lost to full subscriber buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*Subscription]struct{}{}
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
