package bytecode

import (
	"errors"
	"fmt"

	"github.com/lorents/fuse-studio/protocol"
)

var ErrUnknownNode = errors.New("bytecode: unknown node kind")

// Node is one element of a program tree. Every node is written as its kind
// tag followed by a kind-specific payload, the same scheme messages use.
type Node interface {
	Kind() string
	writeData(w *protocol.Writer)
}

type Expression interface {
	Node
	expression()
}

type Statement interface {
	Node
	statement()
}

const (
	KindStringLiteral    = "StringLiteral"
	KindNumberLiteral    = "NumberLiteral"
	KindBooleanLiteral   = "BooleanLiteral"
	KindNullLiteral      = "NullLiteral"
	KindReadVariable     = "ReadVariable"
	KindInstantiate      = "Instantiate"
	KindLambda           = "Lambda"
	KindCallStaticMethod = "CallStaticMethod"
	KindCallLambda       = "CallLambda"
	KindWriteVariable    = "WriteVariable"
	KindWriteProperty    = "WriteProperty"
	KindAddToProperty    = "AddToProperty"
)

type Variable struct {
	Name string
}

// This is the conventional name of the object a lambda acts upon.
var This = Variable{Name: "this"}

type Signature struct {
	Parameters []Variable
}

// Action is the signature of a lambda returning nothing.
func Action(params ...Variable) Signature {
	if len(params) == 0 {
		return Signature{}
	}
	return Signature{Parameters: params}
}

type StringLiteral struct{ Value string }
type NumberLiteral struct{ Value float64 }
type BooleanLiteral struct{ Value bool }
type NullLiteral struct{}

type ReadVariable struct{ Variable Variable }

// Instantiate creates an object of Type.
type Instantiate struct {
	Type      TypeName
	Arguments []Expression
}

type Lambda struct {
	Signature      Signature
	BoundVariables []Variable
	Body           []Statement
}

// CallStaticMethod is both an expression and a statement.
type CallStaticMethod struct {
	Method    StaticMemberName
	Arguments []Expression
}

// CallLambda invokes a lambda value. Like CallStaticMethod it can stand
// alone as a statement.
type CallLambda struct {
	Lambda    Expression
	Arguments []Expression
}

type WriteVariable struct {
	Variable Variable
	Value    Expression
}

type WriteProperty struct {
	Object   Expression
	Property string
	Value    Expression
}

// AddToProperty appends Value to a list property of Object.
type AddToProperty struct {
	Object   Expression
	Property string
	Value    Expression
}

func (StringLiteral) Kind() string    { return KindStringLiteral }
func (NumberLiteral) Kind() string    { return KindNumberLiteral }
func (BooleanLiteral) Kind() string   { return KindBooleanLiteral }
func (NullLiteral) Kind() string      { return KindNullLiteral }
func (ReadVariable) Kind() string     { return KindReadVariable }
func (Instantiate) Kind() string      { return KindInstantiate }
func (Lambda) Kind() string           { return KindLambda }
func (CallStaticMethod) Kind() string { return KindCallStaticMethod }
func (CallLambda) Kind() string       { return KindCallLambda }
func (WriteVariable) Kind() string    { return KindWriteVariable }
func (WriteProperty) Kind() string    { return KindWriteProperty }
func (AddToProperty) Kind() string    { return KindAddToProperty }

func (StringLiteral) expression()    {}
func (NumberLiteral) expression()    {}
func (BooleanLiteral) expression()   {}
func (NullLiteral) expression()      {}
func (ReadVariable) expression()     {}
func (Instantiate) expression()      {}
func (Lambda) expression()           {}
func (CallStaticMethod) expression() {}
func (CallLambda) expression()       {}

func (CallStaticMethod) statement() {}
func (CallLambda) statement()       {}
func (WriteVariable) statement()    {}
func (WriteProperty) statement()    {}
func (AddToProperty) statement()    {}

func (n StringLiteral) writeData(w *protocol.Writer)  { w.WriteString(n.Value) }
func (n NumberLiteral) writeData(w *protocol.Writer)  { w.WriteFloat64(n.Value) }
func (n BooleanLiteral) writeData(w *protocol.Writer) { w.WriteBool(n.Value) }
func (n NullLiteral) writeData(w *protocol.Writer)    {}
func (n ReadVariable) writeData(w *protocol.Writer)   { w.WriteString(n.Variable.Name) }

func (n Instantiate) writeData(w *protocol.Writer) {
	w.WriteString(n.Type.FullName())
	writeExpressions(w, n.Arguments)
}

func (n Lambda) writeData(w *protocol.Writer) {
	writeVariables(w, n.Signature.Parameters)
	writeVariables(w, n.BoundVariables)
	w.WriteInt(len(n.Body))
	for _, s := range n.Body {
		WriteStatement(w, s)
	}
}

func (n CallStaticMethod) writeData(w *protocol.Writer) {
	writeStaticMemberName(w, n.Method)
	writeExpressions(w, n.Arguments)
}

func (n CallLambda) writeData(w *protocol.Writer) {
	WriteExpression(w, n.Lambda)
	writeExpressions(w, n.Arguments)
}

func (n WriteVariable) writeData(w *protocol.Writer) {
	w.WriteString(n.Variable.Name)
	WriteExpression(w, n.Value)
}

func (n WriteProperty) writeData(w *protocol.Writer) {
	WriteExpression(w, n.Object)
	w.WriteString(n.Property)
	WriteExpression(w, n.Value)
}

func (n AddToProperty) writeData(w *protocol.Writer) {
	WriteExpression(w, n.Object)
	w.WriteString(n.Property)
	WriteExpression(w, n.Value)
}

func WriteExpression(w *protocol.Writer, e Expression) {
	w.WriteString(e.Kind())
	e.writeData(w)
}

func WriteStatement(w *protocol.Writer, s Statement) {
	w.WriteString(s.Kind())
	s.writeData(w)
}

// WriteLambda writes the lambda payload without its kind tag.
func WriteLambda(w *protocol.Writer, l Lambda) {
	l.writeData(w)
}

func writeExpressions(w *protocol.Writer, es []Expression) {
	w.WriteInt(len(es))
	for _, e := range es {
		WriteExpression(w, e)
	}
}

func writeVariables(w *protocol.Writer, vs []Variable) {
	w.WriteInt(len(vs))
	for _, v := range vs {
		w.WriteString(v.Name)
	}
}

func readVariables(r *protocol.Reader) []Variable {
	n := r.ReadCount()
	var vs []Variable
	for i := 0; i < n && r.Err() == nil; i++ {
		vs = append(vs, Variable{Name: r.ReadString()})
	}
	return vs
}

func readExpressions(r *protocol.Reader) []Expression {
	n := r.ReadCount()
	var es []Expression
	for i := 0; i < n && r.Err() == nil; i++ {
		es = append(es, ReadExpression(r))
	}
	return es
}

func readTypeName(r *protocol.Reader) TypeName {
	s := r.ReadString()
	if r.Err() != nil {
		return TypeName{}
	}
	t, err := ParseTypeName(s)
	if err != nil {
		r.Fail(err)
	}
	return t
}

func ReadLambda(r *protocol.Reader) Lambda {
	l := Lambda{
		Signature:      Signature{Parameters: readVariables(r)},
		BoundVariables: readVariables(r),
	}
	n := r.ReadCount()
	for i := 0; i < n && r.Err() == nil; i++ {
		l.Body = append(l.Body, ReadStatement(r))
	}
	return l
}

func readCallStaticMethod(r *protocol.Reader) CallStaticMethod {
	return CallStaticMethod{
		Method:    readStaticMemberName(r),
		Arguments: readExpressions(r),
	}
}

func readCallLambda(r *protocol.Reader) CallLambda {
	return CallLambda{
		Lambda:    ReadExpression(r),
		Arguments: readExpressions(r),
	}
}

// ReadExpression reads a kind-tagged expression. Failures are recorded on
// r and yield nil.
func ReadExpression(r *protocol.Reader) Expression {
	kind := r.ReadString()
	if r.Err() != nil {
		return nil
	}
	var e Expression
	switch kind {
	case KindStringLiteral:
		e = StringLiteral{Value: r.ReadString()}
	case KindNumberLiteral:
		e = NumberLiteral{Value: r.ReadFloat64()}
	case KindBooleanLiteral:
		e = BooleanLiteral{Value: r.ReadBool()}
	case KindNullLiteral:
		e = NullLiteral{}
	case KindReadVariable:
		e = ReadVariable{Variable: Variable{Name: r.ReadString()}}
	case KindInstantiate:
		e = Instantiate{Type: readTypeName(r), Arguments: readExpressions(r)}
	case KindLambda:
		e = ReadLambda(r)
	case KindCallStaticMethod:
		e = readCallStaticMethod(r)
	case KindCallLambda:
		e = readCallLambda(r)
	default:
		r.Fail(fmt.Errorf("%w: expression %q", ErrUnknownNode, kind))
		return nil
	}
	if r.Err() != nil {
		return nil
	}
	return e
}

// ReadStatement reads a kind-tagged statement.
func ReadStatement(r *protocol.Reader) Statement {
	kind := r.ReadString()
	if r.Err() != nil {
		return nil
	}
	var s Statement
	switch kind {
	case KindCallStaticMethod:
		s = readCallStaticMethod(r)
	case KindCallLambda:
		s = readCallLambda(r)
	case KindWriteVariable:
		s = WriteVariable{Variable: Variable{Name: r.ReadString()}, Value: ReadExpression(r)}
	case KindWriteProperty:
		s = WriteProperty{Object: ReadExpression(r), Property: r.ReadString(), Value: ReadExpression(r)}
	case KindAddToProperty:
		s = AddToProperty{Object: ReadExpression(r), Property: r.ReadString(), Value: ReadExpression(r)}
	default:
		r.Fail(fmt.Errorf("%w: statement %q", ErrUnknownNode, kind))
		return nil
	}
	if r.Err() != nil {
		return nil
	}
	return s
}
