package reifier

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/markup"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/typeinfo"
	"github.com/pkg/errors"
)

const childrenProperty = "Children"

var (
	ErrUnknownElement = errors.New("reifier: unknown element type")
	ErrTextContent    = errors.New("reifier: element does not take text content")
	ErrClassCycle     = errors.New("reifier: class derives from itself")
)

// SourceError is a code generation failure tied to a markup location.
type SourceError struct {
	Source protocol.SourceReference
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// codegen turns a parsed project into a reify program.
type codegen struct {
	types   *typeinfo.Table
	values  *typeinfo.ValueParser
	ids     *markup.Identifiers
	dir     string
	classes map[string]string

	// propertyTypes records, per element, the runtime type whose
	// properties its attributes are checked against.
	propertyTypes map[*markup.Element]string
	elementTypes  map[*markup.Element]string
}

type scope struct {
	vars []bytecode.Variable
	body []bytecode.Statement
	next int
}

func (s *scope) emit(st bytecode.Statement) {
	s.body = append(s.body, st)
}

func (s *scope) newVar(name string) bytecode.Variable {
	v := bytecode.Variable{Name: "temp" + strconv.Itoa(s.next)}
	if name != "" {
		v.Name = name + "_" + strconv.Itoa(s.next)
	}
	s.next++
	s.vars = append(s.vars, v)
	return v
}

func (s *scope) lambda(sig bytecode.Signature) bytecode.Lambda {
	return bytecode.Lambda{Signature: sig, BoundVariables: s.vars, Body: s.body}
}

func newCodegen(p *markup.Project, types *typeinfo.Table, ids *markup.Identifiers) *codegen {
	g := &codegen{
		types:         types,
		values:        typeinfo.NewValueParser(types),
		ids:           ids,
		dir:           p.Directory,
		classes:       map[string]string{},
		propertyTypes: map[*markup.Element]string{},
		elementTypes:  map[*markup.Element]string{},
	}
	for _, c := range p.Classes() {
		g.classes[c.Name] = c.BaseType()
	}
	return g
}

// generate builds the reify program, its dependencies and metadata.
func generate(p *markup.Project, types *typeinfo.Table, ids *markup.Identifiers) (bytecode.ProjectBytecode, *codegen, error) {
	g := newCodegen(p, types, ids)

	var top scope
	top.emit(bytecode.ClearTagRegistry())

	var metaClasses []bytecode.ClassMetadata
	for _, c := range p.Classes() {
		base, err := g.runtimeType(c.BaseType(), c.Element.Source)
		if err != nil {
			return bytecode.ProjectBytecode{}, nil, err
		}
		factory, err := g.classFactory(c)
		if err != nil {
			return bytecode.ProjectBytecode{}, nil, err
		}
		baseName := c.BaseType()
		if _, isClass := g.classes[baseName]; !isClass {
			baseName = base
		}
		baseType, err := parseTypeName(baseName, c.Element.Source)
		if err != nil {
			return bytecode.ProjectBytecode{}, nil, err
		}
		top.emit(bytecode.DeclareClass(c.Name, baseType, factory))
		metaClasses = append(metaClasses, bytecode.ClassMetadata{Name: c.Name, Base: baseName})
	}

	this := bytecode.ReadVariable{Variable: bytecode.This}
	for _, d := range p.Roots() {
		root, err := g.instance(&top, d.Root)
		if err != nil {
			return bytecode.ProjectBytecode{}, nil, err
		}
		top.emit(bytecode.AddToProperty{Object: this, Property: childrenProperty, Value: root})
	}

	var deps []bytecode.ProjectDependency
	for _, imp := range p.Imports() {
		name, err := filepath.Rel(p.Directory, imp.Path)
		if err != nil {
			name = imp.Path
		}
		deps = append(deps, bytecode.ProjectDependency{Name: filepath.ToSlash(name), Path: imp.Path})
	}

	var elements []bytecode.ElementMetadata
	for _, id := range ids.All() {
		e, _ := ids.Lookup(id)
		elements = append(elements, bytecode.ElementMetadata{ID: id, Type: g.elementTypes[e], Name: e.UXName()})
	}

	return bytecode.ProjectBytecode{
		Reify:        top.lambda(bytecode.Action(bytecode.This)),
		Dependencies: deps,
		Metadata:     bytecode.ProjectMetadata{Elements: elements, Classes: metaClasses},
	}, g, nil
}

func parseTypeName(name string, src protocol.SourceReference) (bytecode.TypeName, error) {
	tn, err := bytecode.ParseTypeName(name)
	if err != nil {
		return bytecode.TypeName{}, &SourceError{Source: src, Err: err}
	}
	return tn, nil
}

// runtimeType follows markup classes down to the runtime type they build on.
func (g *codegen) runtimeType(name string, src protocol.SourceReference) (string, error) {
	seen := map[string]bool{}
	for {
		base, ok := g.classes[name]
		if !ok {
			break
		}
		if seen[name] {
			return "", &SourceError{Source: src, Err: errors.Wrap(ErrClassCycle, name)}
		}
		seen[name] = true
		name = base
	}
	full, ok := g.types.Resolve(name)
	if !ok {
		return "", &SourceError{Source: src, Err: errors.Wrap(ErrUnknownElement, name)}
	}
	return full, nil
}

func (g *codegen) classFactory(c markup.Class) (bytecode.Lambda, error) {
	var s scope
	this := bytecode.ReadVariable{Variable: bytecode.This}
	if err := g.populate(&s, this, c.Element); err != nil {
		return bytecode.Lambda{}, err
	}
	return s.lambda(bytecode.Action(bytecode.This)), nil
}

// instance emits the construction of e into s and returns the expression
// reading the new object.
func (g *codegen) instance(s *scope, e *markup.Element) (bytecode.Expression, error) {
	typeName := e.Name
	if _, isClass := g.classes[e.Name]; !isClass {
		full, ok := g.types.Resolve(e.Name)
		if !ok {
			return nil, &SourceError{Source: e.Source, Err: errors.Wrap(ErrUnknownElement, e.Name)}
		}
		typeName = full
	}
	tn, err := parseTypeName(typeName, e.Source)
	if err != nil {
		return nil, err
	}
	v := s.newVar(e.UXName())
	s.emit(bytecode.WriteVariable{Variable: v, Value: bytecode.Instantiate{Type: tn}})
	obj := bytecode.ReadVariable{Variable: v}
	if err := g.populate(s, obj, e); err != nil {
		return nil, err
	}
	return obj, nil
}

// populate tags obj and writes the attributes, text and children of e.
func (g *codegen) populate(s *scope, obj bytecode.Expression, e *markup.Element) error {
	typeName, err := g.runtimeType(e.Name, e.Source)
	if err != nil {
		return err
	}
	g.propertyTypes[e] = typeName
	g.elementTypes[e] = typeName
	if _, isClass := g.classes[e.Name]; isClass {
		g.elementTypes[e] = e.Name
	}
	if id, ok := g.ids.Of(e); ok {
		s.emit(bytecode.SetTag(obj, id.String()))
	}

	for _, a := range e.Attributes {
		st, err := g.attribute(obj, typeName, a)
		if err != nil {
			return &SourceError{Source: e.Source, Err: err}
		}
		if st != nil {
			s.emit(st)
		}
	}

	if e.Text != "" {
		prop := g.types.ContentProperty(typeName)
		p, ok := g.types.Property(typeName, prop)
		if !ok || p.Kind == typeinfo.Object {
			return &SourceError{Source: e.Source, Err: errors.Wrap(ErrTextContent, e.Name)}
		}
		st, err := g.attribute(obj, typeName, markup.Attribute{Name: prop, Value: e.Text})
		if err != nil {
			return &SourceError{Source: e.Source, Err: err}
		}
		s.emit(st)
	}

	for _, c := range e.Children {
		if _, isClass := c.ClassName(); isClass {
			continue
		}
		child, err := g.instance(s, c)
		if err != nil {
			return err
		}
		s.emit(bytecode.AddToProperty{Object: obj, Property: childrenProperty, Value: child})
	}
	return nil
}

// attribute compiles one attribute into a statement, or nil for markup
// directives that have no runtime effect.
func (g *codegen) attribute(obj bytecode.Expression, typeName string, a markup.Attribute) (bytecode.Statement, error) {
	switch {
	case markup.IsUXAttribute(a.Name):
		return nil, nil
	case markup.ContainsBindingExpression(a.Value):
		return bytecode.Bind(obj, a.Name, a.Value), nil
	case strings.Contains(a.Name, "."):
		// Attached properties belong to another type; pass them through.
		return bytecode.WriteProperty{Object: obj, Property: a.Name, Value: bytecode.StringLiteral{Value: markup.Unescape(a.Value)}}, nil
	}
	value, err := g.value(typeName, a.Name, &a.Value)
	if err != nil {
		return nil, err
	}
	return bytecode.WriteProperty{Object: obj, Property: a.Name, Value: value}, nil
}

// value parses an attribute value. Import paths come out resolved against
// the project directory.
func (g *codegen) value(typeName, property string, raw *string) (bytecode.Expression, error) {
	if raw != nil {
		if rel, ok := markup.ParseImportExpression(*raw); ok {
			return bytecode.Import(markup.ResolvePath(g.dir, rel)), nil
		}
	}
	expr, err := g.values.Parse(typeName, property, raw)
	if err != nil {
		return nil, err
	}
	if call, ok := expr.(bytecode.CallStaticMethod); ok && call.Method.String() == bytecode.ImportMember.String() {
		if lit, ok := call.Arguments[0].(bytecode.StringLiteral); ok {
			return bytecode.Import(markup.ResolvePath(g.dir, lit.Value)), nil
		}
	}
	return expr, nil
}
