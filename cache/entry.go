package cache

import (
	"github.com/lorents/fuse-studio/protocol"
)

// Entry is the latest value of one logical slot. A nil Blob is a
// tombstone: consumers clear the slot and new subscribers never see it.
type Entry struct {
	Key  string
	Blob *protocol.Envelope
}

func Put(key string, m protocol.Message) Entry {
	env := protocol.Encode(m)
	return Entry{Key: key, Blob: &env}
}

func Tombstone(key string) Entry {
	return Entry{Key: key}
}

func (e Entry) IsTombstone() bool {
	return e.Blob == nil
}
