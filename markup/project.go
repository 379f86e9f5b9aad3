package markup

import (
	"github.com/lorents/fuse-studio/protocol"
)

// Class is an element declaring a markup type.
type Class struct {
	Name    string
	Element *Element
	Doc     *Document
}

// BaseType is the element name the class derives from.
func (c Class) BaseType() string {
	return c.Element.Name
}

// Import is one import(...) attribute value.
type Import struct {
	Path     string
	Source   protocol.SourceReference
	Element  *Element
	Property string
}

// Project is a set of parsed documents seen as one program.
type Project struct {
	Directory string
	Documents []*Document
}

// Classes lists class declarations in document order. Nested declarations
// come after their enclosing ones.
func (p *Project) Classes() []Class {
	var classes []Class
	for _, d := range p.Documents {
		d.Root.Walk(func(e *Element) bool {
			if name, ok := e.ClassName(); ok {
				classes = append(classes, Class{Name: name, Element: e, Doc: d})
			}
			return true
		})
	}
	return classes
}

// Roots are the document roots that are instances rather than classes.
func (p *Project) Roots() []*Document {
	var roots []*Document
	for _, d := range p.Documents {
		if _, ok := d.Root.ClassName(); !ok {
			roots = append(roots, d)
		}
	}
	return roots
}

// Imports finds every import(...) value in the project, resolved against
// the project directory, first occurrence of each path only.
func (p *Project) Imports() []Import {
	seen := map[string]bool{}
	var imports []Import
	for _, d := range p.Documents {
		d.Root.Walk(func(e *Element) bool {
			for _, a := range e.Attributes {
				rel, ok := ParseImportExpression(a.Value)
				if !ok {
					continue
				}
				path := ResolvePath(p.Directory, rel)
				if seen[path] {
					continue
				}
				seen[path] = true
				imports = append(imports, Import{Path: path, Source: e.Source, Element: e, Property: a.Name})
			}
			return true
		})
	}
	return imports
}

func (p *Project) Identify() *Identifiers {
	return Identify(p.Documents...)
}

func (p *Project) Document(path string) (*Document, bool) {
	for _, d := range p.Documents {
		if d.Path == path {
			return d, true
		}
	}
	return nil, false
}
