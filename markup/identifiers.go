package markup

import (
	"github.com/lorents/fuse-studio/protocol"
)

// Identifiers maps elements to the identifiers of one reify. Each document
// is walked depth first, parents before children, numbering from zero.
type Identifiers struct {
	byID  map[protocol.ObjectIdentifier]*Element
	ids   map[*Element]protocol.ObjectIdentifier
	order []protocol.ObjectIdentifier
}

func Identify(docs ...*Document) *Identifiers {
	ids := &Identifiers{
		byID: make(map[protocol.ObjectIdentifier]*Element),
		ids:  make(map[*Element]protocol.ObjectIdentifier),
	}
	for _, d := range docs {
		next := 0
		d.Root.Walk(func(e *Element) bool {
			id := protocol.ObjectIdentifier{Document: d.Path, Index: next}
			next++
			ids.byID[id] = e
			ids.ids[e] = id
			ids.order = append(ids.order, id)
			return true
		})
	}
	return ids
}

func (ids *Identifiers) Lookup(id protocol.ObjectIdentifier) (*Element, bool) {
	e, ok := ids.byID[id]
	return e, ok
}

func (ids *Identifiers) Of(e *Element) (protocol.ObjectIdentifier, bool) {
	id, ok := ids.ids[e]
	return id, ok
}

// All lists identifiers in assignment order.
func (ids *Identifiers) All() []protocol.ObjectIdentifier {
	return ids.order
}

func (ids *Identifiers) Len() int {
	return len(ids.order)
}

// AssignIDs stores fresh identifiers on the document's elements.
func (d *Document) AssignIDs() {
	ids := Identify(d)
	d.Root.Walk(func(e *Element) bool {
		e.ID = ids.ids[e]
		return true
	})
}
