package typeinfo

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind classifies how a property value is written in markup.
type Kind string

const (
	String Kind = "string"
	Float  Kind = "float"
	Int    Kind = "int"
	Bool   Kind = "bool"
	Size   Kind = "size"
	Color  Kind = "color"
	Float2 Kind = "float2"
	Float4 Kind = "float4"
	Enum   Kind = "enum"
	File   Kind = "file"
	Object Kind = "object"
)

type Property struct {
	Name   string
	Kind   Kind
	Values []string
}

type Type struct {
	Name       string
	Base       string
	Content    string
	Properties map[string]Property
}

func (t *Type) Surname() string {
	return t.Name[strings.LastIndexByte(t.Name, '.')+1:]
}

// Table is the type hierarchy of the preview runtime.
type Table struct {
	types   map[string]*Type
	aliases map[string]string
}

type fileProperty struct {
	Kind   Kind     `yaml:"kind"`
	Values []string `yaml:"values"`
}

// UnmarshalYAML accepts both `Opacity: float` and
// `Layer: {kind: enum, values: [...]}`.
func (p *fileProperty) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Kind = Kind(node.Value)
		return nil
	}
	type plain fileProperty
	return node.Decode((*plain)(p))
}

type fileType struct {
	Name       string                  `yaml:"name"`
	Base       string                  `yaml:"base"`
	Content    string                  `yaml:"content"`
	Properties map[string]fileProperty `yaml:"properties"`
}

type file struct {
	Types []fileType `yaml:"types"`
}

//go:embed builtin.yaml
var builtinYAML []byte

func NewTable() *Table {
	return &Table{types: map[string]*Type{}, aliases: map[string]string{}}
}

// Builtin returns a fresh copy of the stock runtime types.
func Builtin() *Table {
	t := NewTable()
	if err := t.Load(strings.NewReader(string(builtinYAML))); err != nil {
		panic(fmt.Sprintf("typeinfo: builtin table: %v", err))
	}
	return t
}

// LoadFile reads a table extension from disk on top of the builtin types.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t := Builtin()
	if err := t.Load(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Load merges type declarations into the table. Later declarations of a
// type replace earlier ones.
func (t *Table) Load(r io.Reader) error {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return err
	}
	for _, ft := range f.Types {
		if ft.Name == "" {
			return fmt.Errorf("type without name")
		}
		typ := &Type{Name: ft.Name, Base: ft.Base, Content: ft.Content, Properties: map[string]Property{}}
		for name, p := range ft.Properties {
			switch p.Kind {
			case String, Float, Int, Bool, Size, Color, Float2, Float4, File, Object:
			case Enum:
				if len(p.Values) == 0 {
					return fmt.Errorf("%s.%s: enum without values", ft.Name, name)
				}
			default:
				return fmt.Errorf("%s.%s: unknown kind %q", ft.Name, name, p.Kind)
			}
			typ.Properties[name] = Property{Name: name, Kind: p.Kind, Values: p.Values}
		}
		t.Add(typ)
	}
	return nil
}

func (t *Table) Add(typ *Type) {
	t.types[typ.Name] = typ
	short := typ.Surname()
	if prev, ok := t.aliases[short]; ok && prev != typ.Name {
		t.aliases[short] = ""
	} else {
		t.aliases[short] = typ.Name
	}
}

// Resolve maps a markup element name to a full type name. Unqualified
// names resolve if exactly one known type has that surname.
func (t *Table) Resolve(name string) (string, bool) {
	if _, ok := t.types[name]; ok {
		return name, true
	}
	full, ok := t.aliases[name]
	return full, ok && full != ""
}

func (t *Table) Lookup(name string) (*Type, bool) {
	full, ok := t.Resolve(name)
	if !ok {
		return nil, false
	}
	return t.types[full], true
}

// IsSubtype reports whether typeName is baseName or derives from it.
func (t *Table) IsSubtype(typeName, baseName string) bool {
	base, ok := t.Resolve(baseName)
	if !ok {
		return false
	}
	seen := map[string]bool{}
	for typ, ok := t.Lookup(typeName); ok && !seen[typ.Name]; typ, ok = t.Lookup(typ.Base) {
		if typ.Name == base {
			return true
		}
		seen[typ.Name] = true
	}
	return false
}

// Property finds a property on the type or any of its bases.
func (t *Table) Property(typeName, property string) (Property, bool) {
	seen := map[string]bool{}
	for typ, ok := t.Lookup(typeName); ok && !seen[typ.Name]; typ, ok = t.Lookup(typ.Base) {
		if p, ok := typ.Properties[property]; ok {
			return p, true
		}
		seen[typ.Name] = true
	}
	return Property{}, false
}

// ContentProperty is the property markup text content is assigned to.
func (t *Table) ContentProperty(typeName string) string {
	seen := map[string]bool{}
	for typ, ok := t.Lookup(typeName); ok && !seen[typ.Name]; typ, ok = t.Lookup(typ.Base) {
		if typ.Content != "" {
			return typ.Content
		}
		seen[typ.Name] = true
	}
	return ""
}
