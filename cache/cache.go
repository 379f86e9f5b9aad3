// Package cache keeps the latest message per logical key and replays a
// compacted snapshot followed by a live tail to each subscriber.
//
// A subscriber that joins at any point observes exactly what a subscriber
// present from the start would have ended up with: one entry per live key,
// in the order keys first appeared, then every later Add in call order,
// tombstones included.
package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

var ErrClosed = errors.New("cache: subscription closed")

const compactEvery = 64

type slot struct {
	entry Entry
	index int64
	order int64
}

type logged struct {
	index int64
	entry Entry
}

type Cache struct {
	log utils.Logger

	mu       sync.Mutex
	seq      int64
	slots    map[string]*slot
	keys     []string
	tail     []logged
	tailFrom int64
	changed  chan struct{}
	subs     map[*Subscription]struct{}
	store    *Store
	live     int
}

func New(log utils.Logger) *Cache {
	return &Cache{
		log:      log,
		slots:    make(map[string]*slot),
		changed:  make(chan struct{}),
		subs:     make(map[*Subscription]struct{}),
		tailFrom: 1,
	}
}

// Persist mirrors every later Add into store.
func (c *Cache) Persist(store *Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// Restore adds the entries saved in store, in their original key order.
func (c *Cache) Restore(store *Store) error {
	entries, err := store.Load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		c.add(e, false)
	}
	c.log.Info("cache: restored", "entries", len(entries))
	return nil
}

// Add stores entry under its key and delivers it to every subscriber.
// It returns the index assigned to the entry.
func (c *Cache) Add(entry Entry) int64 {
	return c.add(entry, true)
}

func (c *Cache) add(entry Entry, persist bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	s, ok := c.slots[entry.Key]
	if !ok {
		s = &slot{order: int64(len(c.keys))}
		c.slots[entry.Key] = s
		c.keys = append(c.keys, entry.Key)
	}
	wasLive := ok && !s.entry.IsTombstone()
	s.entry = entry
	s.index = c.seq

	switch {
	case wasLive && entry.IsTombstone():
		c.live--
	case !wasLive && !entry.IsTombstone():
		c.live++
	}
	LiveKeys.Set(float64(c.live))
	if entry.IsTombstone() {
		EntriesAdded.WithLabelValues("tombstone").Inc()
	} else {
		EntriesAdded.WithLabelValues("live").Inc()
	}

	if len(c.subs) > 0 {
		c.tail = append(c.tail, logged{index: c.seq, entry: entry})
	} else {
		c.tail = c.tail[:0]
		c.tailFrom = c.seq + 1
	}
	if c.seq%compactEvery == 0 {
		c.compact()
	}
	TailLength.Set(float64(len(c.tail)))

	if persist && c.store != nil {
		if err := c.store.Put(s.order, entry); err != nil {
			c.log.Error("cache: couldn't persist entry", "key", entry.Key, "err", err)
		}
	}

	close(c.changed)
	c.changed = make(chan struct{})
	return c.seq
}

// compact drops tail entries every subscriber has already consumed.
func (c *Cache) compact() {
	low := c.seq
	for s := range c.subs {
		low = min(low, s.cursor)
	}
	drop := int(low - c.tailFrom + 1)
	if drop <= 0 {
		return
	}
	drop = min(drop, len(c.tail))
	c.tail = append(c.tail[:0], c.tail[drop:]...)
	c.tailFrom += int64(drop)
}

// ReplayFrom subscribes to the cache. The subscription first yields the
// latest entry of each live key whose last change is newer than
// sinceIndex (-1 for all), in first-appearance order, then every later Add.
func (c *Cache) ReplayFrom(sinceIndex int64) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{cache: c, cursor: c.seq, done: make(chan struct{})}
	for _, key := range c.keys {
		s := c.slots[key]
		if s.entry.IsTombstone() || s.index <= sinceIndex {
			continue
		}
		sub.snapshot = append(sub.snapshot, s.entry)
	}
	if len(c.subs) == 0 {
		c.tail = c.tail[:0]
		c.tailFrom = c.seq + 1
	}
	c.subs[sub] = struct{}{}
	Subscribers.Set(float64(len(c.subs)))
	return sub
}

// Index is the index of the latest Add.
func (c *Cache) Index() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Cache) Entry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		return Entry{}, false
	}
	return s.entry, true
}

// HasEntry reports whether key currently holds a live entry.
func (c *Cache) HasEntry(key string) bool {
	e, ok := c.Entry(key)
	return ok && !e.IsTombstone()
}

// Keys lists live keys in first-appearance order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for _, k := range c.keys {
		if !c.slots[k].entry.IsTombstone() {
			keys = append(keys, k)
		}
	}
	return keys
}

// WaitFor blocks until every key holds a live entry or ctx is done.
func (c *Cache) WaitFor(ctx context.Context, keys ...string) error {
	for {
		c.mu.Lock()
		missing := false
		for _, k := range keys {
			if s, ok := c.slots[k]; !ok || s.entry.IsTombstone() {
				missing = true
				break
			}
		}
		changed := c.changed
		c.mu.Unlock()
		if !missing {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Cache) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sub)
	Subscribers.Set(float64(len(c.subs)))
	c.compact()
}

// Subscription is one consumer's view: a snapshot, then the live tail.
type Subscription struct {
	cache    *Cache
	snapshot []Entry
	cursor   int64
	once     sync.Once
	done     chan struct{}
}

// Next blocks until the next entry is available.
func (s *Subscription) Next(ctx context.Context) (Entry, error) {
	c := s.cache
	for {
		c.mu.Lock()
		select {
		case <-s.done:
			c.mu.Unlock()
			return Entry{}, ErrClosed
		default:
		}
		if len(s.snapshot) > 0 {
			e := s.snapshot[0]
			s.snapshot = s.snapshot[1:]
			c.mu.Unlock()
			return e, nil
		}
		if s.cursor < c.seq {
			s.cursor++
			e := c.tail[s.cursor-c.tailFrom].entry
			c.mu.Unlock()
			return e, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-s.done:
			return Entry{}, ErrClosed
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// TryNext returns the next entry if one is ready without blocking.
func (s *Subscription) TryNext() (Entry, bool) {
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-s.done:
		return Entry{}, false
	default:
	}
	if len(s.snapshot) > 0 {
		e := s.snapshot[0]
		s.snapshot = s.snapshot[1:]
		return e, true
	}
	if s.cursor < c.seq {
		s.cursor++
		return c.tail[s.cursor-c.tailFrom].entry, true
	}
	return Entry{}, false
}

// Feed implements protocol.Feeder: it blocks for at least one entry with a
// payload and returns the frames of everything ready. Tombstones carry no
// payload and are not written.
func (s *Subscription) Feed(ctx context.Context) (protocol.Records, error) {
	var recs protocol.Records
	for len(recs) == 0 {
		e, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		for {
			if !e.IsTombstone() {
				recs = append(recs, protocol.Frame(*e.Blob))
			}
			var ok bool
			if e, ok = s.TryNext(); !ok {
				break
			}
		}
	}
	return recs, nil
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cache.unsubscribe(s)
	})
	return nil
}
