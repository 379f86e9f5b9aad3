package bytecode

import (
	"github.com/lorents/fuse-studio/protocol"
)

// ProjectDependency is an external file the program refers to.
type ProjectDependency struct {
	Name string
	Path string
}

type ElementMetadata struct {
	ID   protocol.ObjectIdentifier
	Type string
	Name string
}

// ClassMetadata describes a type declared in markup with ux:Class.
type ClassMetadata struct {
	Name string
	Base string
}

// SubtypeOracle answers subtype questions about compiled runtime types.
type SubtypeOracle interface {
	IsSubtype(typeName, baseName string) bool
}

// ProjectMetadata is the reflection info shipped with a reify program.
type ProjectMetadata struct {
	Elements []ElementMetadata
	Classes  []ClassMetadata
}

func (m ProjectMetadata) Element(id protocol.ObjectIdentifier) (ElementMetadata, bool) {
	for _, e := range m.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return ElementMetadata{}, false
}

func (m ProjectMetadata) class(name string) (ClassMetadata, bool) {
	for _, c := range m.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return ClassMetadata{}, false
}

// IsSubtype walks markup class bases first and hands the remaining question
// to oracle, which may be nil when only markup classes matter.
func (m ProjectMetadata) IsSubtype(typeName, baseName string, oracle SubtypeOracle) bool {
	seen := map[string]bool{}
	for !seen[typeName] {
		if typeName == baseName {
			return true
		}
		seen[typeName] = true
		c, ok := m.class(typeName)
		if !ok {
			break
		}
		typeName = c.Base
	}
	return oracle != nil && oracle.IsSubtype(typeName, baseName)
}

// IsElementOfType reports whether the element id was created as a subtype
// of baseName.
func (m ProjectMetadata) IsElementOfType(id protocol.ObjectIdentifier, baseName string, oracle SubtypeOracle) bool {
	e, ok := m.Element(id)
	return ok && m.IsSubtype(e.Type, baseName, oracle)
}

// ProjectBytecode is the output of one successful reify.
type ProjectBytecode struct {
	Reify        Lambda
	Dependencies []ProjectDependency
	Metadata     ProjectMetadata
}

func (b ProjectBytecode) DependencyPaths() []string {
	if len(b.Dependencies) == 0 {
		return nil
	}
	paths := make([]string, len(b.Dependencies))
	for i, d := range b.Dependencies {
		paths[i] = d.Path
	}
	return paths
}

func WriteProjectBytecode(w *protocol.Writer, b ProjectBytecode) {
	WriteLambda(w, b.Reify)
	w.WriteInt(len(b.Dependencies))
	for _, d := range b.Dependencies {
		w.WriteString(d.Name)
		w.WriteString(d.Path)
	}
	w.WriteInt(len(b.Metadata.Elements))
	for _, e := range b.Metadata.Elements {
		protocol.WriteObjectIdentifier(w, e.ID)
		w.WriteString(e.Type)
		w.WriteString(e.Name)
	}
	w.WriteInt(len(b.Metadata.Classes))
	for _, c := range b.Metadata.Classes {
		w.WriteString(c.Name)
		w.WriteString(c.Base)
	}
}

func ReadProjectBytecode(r *protocol.Reader) ProjectBytecode {
	b := ProjectBytecode{Reify: ReadLambda(r)}
	n := r.ReadCount()
	for i := 0; i < n && r.Err() == nil; i++ {
		b.Dependencies = append(b.Dependencies, ProjectDependency{Name: r.ReadString(), Path: r.ReadString()})
	}
	n = r.ReadCount()
	for i := 0; i < n && r.Err() == nil; i++ {
		b.Metadata.Elements = append(b.Metadata.Elements, ElementMetadata{
			ID:   protocol.ReadObjectIdentifier(r),
			Type: r.ReadString(),
			Name: r.ReadString(),
		})
	}
	n = r.ReadCount()
	for i := 0; i < n && r.Err() == nil; i++ {
		b.Metadata.Classes = append(b.Metadata.Classes, ClassMetadata{Name: r.ReadString(), Base: r.ReadString()})
	}
	return b
}
