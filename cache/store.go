package cache

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/pkg/errors"
)

const entryPrefix = 'E'

var WriteOptions = pebble.WriteOptions{Sync: false}

// Store persists the latest entry of each key so a restarted host can
// serve late-joining clients without regenerating everything. Records are
// keyed by the order the key first appeared in.
type Store struct {
	db *pebble.DB
}

func OpenStore(dir string) (*Store, error) {
	opts := pebble.Options{
		ErrorIfExists:    false,
		ErrorIfNotExists: false,
	}
	db, err := pebble.Open(dir, &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open cache store %s", dir)
	}
	return &Store{db: db}, nil
}

func storeKey(order int64) []byte {
	key := make([]byte, 9)
	key[0] = entryPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(order))
	return key
}

func (s *Store) Put(order int64, e Entry) error {
	w := protocol.NewWriter(nil)
	w.WriteString(e.Key)
	w.WriteBool(!e.IsTombstone())
	if !e.IsTombstone() {
		w.WriteMessage(*e.Blob)
	}
	return s.db.Set(storeKey(order), w.Bytes(), &WriteOptions)
}

// Load returns the stored entries in first-appearance order, tombstones
// included.
func (s *Store) Load() ([]Entry, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{entryPrefix},
		UpperBound: []byte{entryPrefix + 1},
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []Entry
	for it.First(); it.Valid(); it.Next() {
		r := protocol.NewReader(bytes.NewReader(it.Value()))
		e := Entry{Key: r.ReadString()}
		if r.ReadBool() {
			env := r.ReadMessage()
			e.Blob = &env
		}
		if err := r.Err(); err != nil {
			return nil, errors.Wrapf(err, "corrupt cache record %x", it.Key())
		}
		entries = append(entries, e)
	}
	return entries, it.Error()
}

func (s *Store) Collector() *StoreCollector {
	return NewStoreCollector(s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}
