// Package markup holds the UX document model: parsing, editing, writing
// back to text, and the analyses the reifier runs over a parsed project.
package markup

import (
	"strings"

	"github.com/lorents/fuse-studio/protocol"
)

const (
	UXPrefix      = "ux:"
	NameAttribute = "ux:Name"
	// ClassAttribute marks an element as a class declaration rather than an
	// instance.
	ClassAttribute      = "ux:Class"
	InnerClassAttribute = "ux:InnerClass"
)

type Attribute struct {
	Name  string
	Value string
}

// Element is one markup element. Attributes keep document order.
type Element struct {
	Name       string
	Attributes []Attribute
	Text       string
	Children   []*Element
	Parent     *Element
	Source     protocol.SourceReference

	// ID is the identifier the element had at the last identifier
	// assignment, or protocol.UnknownObject once detached.
	ID protocol.ObjectIdentifier
}

func NewElement(name string, attrs ...Attribute) *Element {
	return &Element{Name: name, Attributes: attrs, ID: protocol.UnknownObject}
}

func (e *Element) Attribute(name string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttribute changes or appends an attribute and returns its old value.
func (e *Element) SetAttribute(name, value string) (old *string) {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			prev := e.Attributes[i].Value
			e.Attributes[i].Value = value
			return &prev
		}
	}
	e.Attributes = append(e.Attributes, Attribute{Name: name, Value: value})
	return nil
}

func (e *Element) RemoveAttribute(name string) (old *string) {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			prev := e.Attributes[i].Value
			e.Attributes = append(e.Attributes[:i], e.Attributes[i+1:]...)
			return &prev
		}
	}
	return nil
}

func (e *Element) Rename(name string) {
	e.Name = name
}

// UXName is the ux:Name attribute, if any.
func (e *Element) UXName() string {
	v, _ := e.Attribute(NameAttribute)
	return v
}

// ClassName returns the declared class name for ux:Class or ux:InnerClass
// elements.
func (e *Element) ClassName() (string, bool) {
	if v, ok := e.Attribute(ClassAttribute); ok {
		return v, true
	}
	return e.Attribute(InnerClassAttribute)
}

// InsertChild puts child at index, clamped to the valid range, detaching it
// from any previous parent first.
func (e *Element) InsertChild(index int, child *Element) {
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	index = max(0, min(index, len(e.Children)))
	e.Children = append(e.Children, nil)
	copy(e.Children[index+1:], e.Children[index:])
	e.Children[index] = child
	child.Parent = e
}

func (e *Element) AddChild(child *Element) {
	e.InsertChild(len(e.Children), child)
}

// RemoveChild detaches child. The removed subtree loses its identifiers.
func (e *Element) RemoveChild(child *Element) bool {
	for i, c := range e.Children {
		if c == child {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			child.Parent = nil
			child.Walk(func(n *Element) bool {
				n.ID = protocol.UnknownObject
				return true
			})
			return true
		}
	}
	return false
}

func (e *Element) Detach() {
	if e.Parent != nil {
		e.Parent.RemoveChild(e)
	}
}

func (e *Element) IndexInParent() int {
	if e.Parent == nil {
		return -1
	}
	for i, c := range e.Parent.Children {
		if c == e {
			return i
		}
	}
	return -1
}

// Walk visits the subtree depth first, parents before children. Returning
// false from visit skips the node's children.
func (e *Element) Walk(visit func(*Element) bool) {
	if !visit(e) {
		return
	}
	for _, c := range e.Children {
		c.Walk(visit)
	}
}

// Clone copies the subtree. The copy has no parent.
func (e *Element) Clone() *Element {
	c := &Element{
		Name:       e.Name,
		Attributes: append([]Attribute(nil), e.Attributes...),
		Text:       e.Text,
		Source:     e.Source,
		ID:         e.ID,
	}
	for _, child := range e.Children {
		cc := child.Clone()
		cc.Parent = c
		c.Children = append(c.Children, cc)
	}
	return c
}

func IsUXAttribute(name string) bool {
	return len(name) >= len(UXPrefix) && strings.EqualFold(name[:len(UXPrefix)], UXPrefix)
}

// Document is one parsed markup file.
type Document struct {
	Path string
	Root *Element
}

func (d *Document) Clone() *Document {
	return &Document{Path: d.Path, Root: d.Root.Clone()}
}
