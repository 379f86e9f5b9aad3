package runtime

import (
	"sync"
)

type tagged struct {
	object     *Instance
	generation int64
}

// TagRegistry maps identifier strings to the objects created for them.
// Each reify program starts with Clear, so objects tagged by an earlier
// program are never reached by patches written for a later one.
type TagRegistry struct {
	mu         sync.Mutex
	generation int64
	tags       map[string][]tagged
}

func NewTagRegistry() *TagRegistry {
	return &TagRegistry{tags: make(map[string][]tagged)}
}

func (r *TagRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
}

func (r *TagRegistry) Generation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *TagRegistry) SetTag(obj *Instance, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.tags[tag]
	if len(list) > 0 && list[0].generation != r.generation {
		list = list[:0]
	}
	r.tags[tag] = append(list, tagged{object: obj, generation: r.generation})
}

// ObjectsWithTag returns the objects tagged in the current generation.
func (r *TagRegistry) ObjectsWithTag(tag string) []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.tags[tag]
	if len(list) == 0 {
		return nil
	}
	if list[0].generation != r.generation {
		delete(r.tags, tag)
		return nil
	}
	objs := make([]*Instance, len(list))
	for i, t := range list {
		objs[i] = t.object
	}
	return objs
}
