package project

import (
	"context"
	"os"
	"sync"

	"github.com/lorents/fuse-studio/utils"
)

// Document is an open file kept in sync with the disk.
type Document struct {
	Path string

	mu       sync.Mutex
	contents []byte
	changed  chan struct{}
	cancel   context.CancelFunc
}

// Contents returns the latest contents and a channel closed on the next
// change.
func (d *Document) Contents() ([]byte, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contents, d.changed
}

func (d *Document) update(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contents = data
	close(d.changed)
	d.changed = make(chan struct{})
}

// Save replaces the file on disk. Contents change first, so the watcher
// sees the saved bytes as already known.
func (d *Document) Save(data []byte) error {
	tmp := d.Path + ".saving"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	d.update(data)
	if err := os.Rename(tmp, d.Path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (d *Document) Close() {
	d.cancel()
}

// Repository owns every document it opens; Close closes them all.
type Repository struct {
	log     utils.Logger
	watcher *Watcher

	mu   sync.Mutex
	docs []*Document
}

func NewRepository(log utils.Logger, watcher *Watcher) *Repository {
	return &Repository{log: log, watcher: watcher}
}

// OpenBinary reads path and keeps the returned document up to date.
func (r *Repository) OpenBinary(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	doc := &Document{Path: path, contents: data, changed: make(chan struct{}), cancel: cancel}
	r.watcher.Watch(ctx, path, func(data []byte) {
		cur, _ := doc.Contents()
		if string(cur) != string(data) {
			doc.update(data)
		}
	})

	r.mu.Lock()
	r.docs = append(r.docs, doc)
	r.mu.Unlock()
	return doc, nil
}

func (r *Repository) Close() {
	r.mu.Lock()
	docs := r.docs
	r.docs = nil
	r.mu.Unlock()
	for _, d := range docs {
		d.Close()
	}
}
