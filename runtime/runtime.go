// Package runtime executes reify and patch programs against an in-memory
// object tree. It is what a preview device does with the bytecode stream,
// and lets the host check a program without a device attached.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/typeinfo"
	"github.com/lorents/fuse-studio/utils"
)

var (
	ErrUnknownMethod   = errors.New("runtime: unknown static method")
	ErrUnknownVariable = errors.New("runtime: unknown variable")
	ErrUnknownType     = errors.New("runtime: unknown type")
	ErrNotAnObject     = errors.New("runtime: value is not an object")
	ErrNotCallable     = errors.New("runtime: value is not a lambda")
	ErrArguments       = errors.New("runtime: wrong arguments")
)

// Closure is a lambda value together with the scope it was created in.
type Closure struct {
	Lambda bytecode.Lambda
	scope  *scope
}

type scope struct {
	vars   map[string]Value
	parent *scope
}

func (s *scope) lookup(name string) (*scope, bool) {
	for ; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			return s, true
		}
	}
	return nil, false
}

type class struct {
	base    string
	factory *Closure
}

type static func(r *Runtime, args []Value) (Value, error)

var statics map[string]static

func init() {
	statics = map[string]static{
		bytecode.ClearTags.String():            clearTags,
		bytecode.SetTagMember.String():         setTag,
		bytecode.ExecuteOnTaggedItems.String(): executeOnTagged,
		bytecode.DeclareClassMember.String():   declareClass,
		bytecode.BindMember.String():           bind,
		bytecode.ImportMember.String():         importAsset,
	}
}

type Runtime struct {
	log   utils.Logger
	types *typeinfo.Table
	Tags  *TagRegistry

	mu         sync.Mutex
	rootType   string
	root       *Instance
	classes    map[string]class
	assets     map[string][]byte
	generation int64
	reified    bool
	patches    int
}

// New creates a runtime whose reify programs attach to an object of
// rootType. types may be nil, in which case any type can be instantiated.
func New(log utils.Logger, rootType string, types *typeinfo.Table) *Runtime {
	return &Runtime{
		log:      log,
		types:    types,
		Tags:     NewTagRegistry(),
		rootType: rootType,
		root:     NewInstance(rootType),
		classes:  make(map[string]class),
		assets:   make(map[string][]byte),
	}
}

func (r *Runtime) Root() *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// Generation is the generation of the reify program currently applied.
func (r *Runtime) Generation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Runtime) Patches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patches
}

// Apply executes a reify or patch program and records asset contents.
// Programs older than the applied reify are ignored, as are other messages.
func (r *Runtime) Apply(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Type {
	case bytecode.BytecodeGeneratedType:
		m, err := protocol.Decode(env, bytecode.ReadBytecodeGenerated)
		if err != nil {
			return err
		}
		if r.reified && m.Generation < r.generation {
			r.log.Debug("runtime: stale reify ignored", "generation", m.Generation, "current", r.generation)
			return nil
		}
		return r.reify(m)

	case bytecode.BytecodeUpdatedType:
		m, err := protocol.Decode(env, bytecode.ReadBytecodeUpdated)
		if err != nil {
			return err
		}
		if !r.reified || m.Generation != r.generation {
			r.log.Debug("runtime: patch of another program ignored", "seq", m.Sequence, "generation", m.Generation)
			return nil
		}
		if _, err := r.call(&Closure{Lambda: m.Function}); err != nil {
			return fmt.Errorf("patch %d: %w", m.Sequence, err)
		}
		r.patches++
		return nil

	case protocol.FileDataType:
		m, err := protocol.Decode(env, protocol.ReadFileData)
		if err != nil {
			return err
		}
		r.assets[m.Path] = m.Data
	}
	return nil
}

func (r *Runtime) reify(m bytecode.BytecodeGenerated) error {
	root := NewInstance(r.rootType)
	prevRoot, prevClasses := r.root, r.classes
	r.root, r.classes = root, make(map[string]class)
	if _, err := r.call(&Closure{Lambda: m.Bytecode.Reify}, root); err != nil {
		r.root, r.classes = prevRoot, prevClasses
		return fmt.Errorf("reify: %w", err)
	}
	r.generation = m.Generation
	r.reified = true
	r.patches = 0
	return nil
}

func (r *Runtime) call(c *Closure, args ...Value) (Value, error) {
	params := c.Lambda.Signature.Parameters
	if len(args) != len(params) {
		return nil, fmt.Errorf("%w: lambda takes %d, got %d", ErrArguments, len(params), len(args))
	}
	sc := &scope{vars: make(map[string]Value, len(params)+len(c.Lambda.BoundVariables)), parent: c.scope}
	for i, p := range params {
		sc.vars[p.Name] = args[i]
	}
	for _, v := range c.Lambda.BoundVariables {
		sc.vars[v.Name] = nil
	}
	for _, s := range c.Lambda.Body {
		if err := r.exec(s, sc); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (r *Runtime) exec(s bytecode.Statement, sc *scope) error {
	switch s := s.(type) {
	case bytecode.CallStaticMethod:
		_, err := r.eval(s, sc)
		return err
	case bytecode.CallLambda:
		_, err := r.eval(s, sc)
		return err
	case bytecode.WriteVariable:
		v, err := r.eval(s.Value, sc)
		if err != nil {
			return err
		}
		if owner, ok := sc.lookup(s.Variable.Name); ok {
			owner.vars[s.Variable.Name] = v
		} else {
			sc.vars[s.Variable.Name] = v
		}
		return nil
	case bytecode.WriteProperty:
		obj, v, err := r.evalTarget(s.Object, s.Value, sc)
		if err != nil {
			return err
		}
		obj.Set(s.Property, v)
		return nil
	case bytecode.AddToProperty:
		obj, v, err := r.evalTarget(s.Object, s.Value, sc)
		if err != nil {
			return err
		}
		obj.Add(s.Property, v)
		return nil
	}
	return fmt.Errorf("%w: %T", bytecode.ErrUnknownNode, s)
}

func (r *Runtime) evalTarget(object, value bytecode.Expression, sc *scope) (*Instance, Value, error) {
	o, err := r.eval(object, sc)
	if err != nil {
		return nil, nil, err
	}
	obj, ok := o.(*Instance)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrNotAnObject, o)
	}
	v, err := r.eval(value, sc)
	return obj, v, err
}

func (r *Runtime) evalAll(es []bytecode.Expression, sc *scope) ([]Value, error) {
	vs := make([]Value, len(es))
	for i, e := range es {
		v, err := r.eval(e, sc)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

func (r *Runtime) eval(e bytecode.Expression, sc *scope) (Value, error) {
	switch e := e.(type) {
	case bytecode.StringLiteral:
		return e.Value, nil
	case bytecode.NumberLiteral:
		return e.Value, nil
	case bytecode.BooleanLiteral:
		return e.Value, nil
	case bytecode.NullLiteral:
		return nil, nil
	case bytecode.ReadVariable:
		owner, ok := sc.lookup(e.Variable.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, e.Variable.Name)
		}
		return owner.vars[e.Variable.Name], nil
	case bytecode.Lambda:
		return &Closure{Lambda: e, scope: sc}, nil
	case bytecode.Instantiate:
		return r.instantiate(e.Type.FullName())
	case bytecode.CallStaticMethod:
		fn, ok := statics[e.Method.String()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, e.Method)
		}
		args, err := r.evalAll(e.Arguments, sc)
		if err != nil {
			return nil, err
		}
		return fn(r, args)
	case bytecode.CallLambda:
		l, err := r.eval(e.Lambda, sc)
		if err != nil {
			return nil, err
		}
		c, ok := l.(*Closure)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrNotCallable, l)
		}
		args, err := r.evalAll(e.Arguments, sc)
		if err != nil {
			return nil, err
		}
		return r.call(c, args...)
	}
	return nil, fmt.Errorf("%w: %T", bytecode.ErrUnknownNode, e)
}

func (r *Runtime) instantiate(typeName string) (Value, error) {
	if c, ok := r.classes[typeName]; ok {
		obj := NewInstance(typeName)
		if _, err := r.call(c.factory, obj); err != nil {
			return nil, fmt.Errorf("class %s: %w", typeName, err)
		}
		return obj, nil
	}
	if r.types != nil {
		if _, ok := r.types.Lookup(typeName); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
		}
	}
	return NewInstance(typeName), nil
}

func stringArg(args []Value, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", ErrArguments, i, args[i])
	}
	return s, nil
}

func objectArg(args []Value, i int) (*Instance, error) {
	o, ok := args[i].(*Instance)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d is %T", ErrNotAnObject, i, args[i])
	}
	return o, nil
}

func arity(args []Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d, got %d", ErrArguments, n, len(args))
	}
	return nil
}

func clearTags(r *Runtime, args []Value) (Value, error) {
	r.Tags.Clear()
	return nil, nil
}

func setTag(r *Runtime, args []Value) (Value, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	obj, err := objectArg(args, 0)
	if err != nil {
		return nil, err
	}
	tag, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	r.Tags.SetTag(obj, tag)
	return nil, nil
}

func executeOnTagged(r *Runtime, args []Value) (Value, error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	tag, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	action, ok := args[1].(*Closure)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, args[1])
	}
	for _, obj := range r.Tags.ObjectsWithTag(tag) {
		if _, err := r.call(action, obj); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func declareClass(r *Runtime, args []Value) (Value, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	name, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	base, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	factory, ok := args[2].(*Closure)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, args[2])
	}
	r.classes[name] = class{base: base, factory: factory}
	return nil, nil
}

func bind(r *Runtime, args []Value) (Value, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	obj, err := objectArg(args, 0)
	if err != nil {
		return nil, err
	}
	prop, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	expr, err := stringArg(args, 2)
	if err != nil {
		return nil, err
	}
	obj.bind(prop, expr)
	return nil, nil
}

func importAsset(r *Runtime, args []Value) (Value, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	path, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	return Asset{Path: path, Data: r.assets[path]}, nil
}
