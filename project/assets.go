package project

import (
	"context"
	"sync"

	"github.com/lorents/fuse-studio/cache"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

// Key is the cache key of a file. Dependencies are keyed by bare path so a
// reify program can wait on its dependency paths directly.
func Key(kind protocol.FileKind, path string) string {
	if kind == protocol.DependencyFile {
		return path
	}
	return kind.String() + ":" + path
}

type watched struct {
	kind   protocol.FileKind
	cancel context.CancelFunc
}

// AssetsWatcher publishes the contents of the files a preview needs as
// FileData cache entries, one key per file, and follows changes to them.
type AssetsWatcher struct {
	log     utils.Logger
	cache   *cache.Cache
	watcher *Watcher

	mu      sync.Mutex
	watched map[string]watched
	closed  bool
}

func NewAssetsWatcher(log utils.Logger, c *cache.Cache, watcher *Watcher) *AssetsWatcher {
	return &AssetsWatcher{
		log:     log,
		cache:   c,
		watcher: watcher,
		watched: make(map[string]watched),
	}
}

// SetFiles replaces the set of watched files of one kind. Files that left
// the set stop being watched and their entries are tombstoned.
func (a *AssetsWatcher) SetFiles(kind protocol.FileKind, paths []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[Key(kind, p)] = true
	}
	for key, w := range a.watched {
		if w.kind == kind && !want[key] {
			w.cancel()
			delete(a.watched, key)
			a.cache.Add(cache.Tombstone(key))
		}
	}
	for _, p := range paths {
		key := Key(kind, p)
		if _, ok := a.watched[key]; ok {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		a.watched[key] = watched{kind: kind, cancel: cancel}
		path := p
		a.watcher.Watch(ctx, path, func(data []byte) {
			if ctx.Err() != nil {
				return
			}
			a.log.Debug("assets: file changed", "kind", kind, "path", path, "size", len(data))
			a.cache.Add(cache.Put(key, protocol.FileData{Kind: kind, Path: path, Data: data}))
		})
	}
}

func (a *AssetsWatcher) Watched() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.watched))
	for k := range a.watched {
		keys = append(keys, k)
	}
	return keys
}

func (a *AssetsWatcher) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for _, w := range a.watched {
		w.cancel()
	}
	a.watched = map[string]watched{}
}
