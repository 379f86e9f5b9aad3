package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// Instance is an object created by a program. Properties keep the order
// they were first written in.
type Instance struct {
	Type     string
	Bindings map[string]string

	names  []string
	values map[string]Value
}

// Value is anything a program expression can evaluate to: nil, string,
// float64, bool, *Instance, *Closure, Asset or []Value.
type Value = any

// Asset is the result of an import expression.
type Asset struct {
	Path string
	Data []byte
}

func NewInstance(typeName string) *Instance {
	return &Instance{Type: typeName, values: make(map[string]Value)}
}

func (o *Instance) Get(property string) (Value, bool) {
	v, ok := o.values[property]
	return v, ok
}

// Set writes a property. Writing nil removes it.
func (o *Instance) Set(property string, v Value) {
	if v == nil {
		if _, ok := o.values[property]; ok {
			delete(o.values, property)
			for i, n := range o.names {
				if n == property {
					o.names = append(o.names[:i], o.names[i+1:]...)
					break
				}
			}
		}
		return
	}
	if _, ok := o.values[property]; !ok {
		o.names = append(o.names, property)
	}
	o.values[property] = v
}

func (o *Instance) Add(property string, v Value) {
	list, _ := o.values[property].([]Value)
	o.Set(property, append(list, v))
}

func (o *Instance) Properties() []string {
	return append([]string(nil), o.names...)
}

func (o *Instance) Children() []*Instance {
	list, _ := o.values["Children"].([]Value)
	var out []*Instance
	for _, v := range list {
		if c, ok := v.(*Instance); ok {
			out = append(out, c)
		}
	}
	return out
}

func (o *Instance) bind(property, expression string) {
	if o.Bindings == nil {
		o.Bindings = make(map[string]string)
	}
	o.Bindings[property] = expression
}

// Dump renders the object tree in a markup-like form, one object per line.
func (o *Instance) Dump() string {
	var sb strings.Builder
	o.dump(&sb, 0)
	return sb.String()
}

func (o *Instance) dump(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(o.Type)
	var nested []*Instance
	for _, name := range o.names {
		switch v := o.values[name].(type) {
		case []Value:
			for _, item := range v {
				if c, ok := item.(*Instance); ok {
					nested = append(nested, c)
				}
			}
		case *Instance:
			nested = append(nested, v)
		default:
			fmt.Fprintf(sb, " %s=%s", name, formatValue(v))
		}
	}
	bound := make([]string, 0, len(o.Bindings))
	for name := range o.Bindings {
		bound = append(bound, name)
	}
	sort.Strings(bound)
	for _, name := range bound {
		fmt.Fprintf(sb, " %s=%s", name, o.Bindings[name])
	}
	sb.WriteByte('\n')
	for _, c := range nested {
		c.dump(sb, depth+1)
	}
}

func formatValue(v Value) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case Asset:
		return "import(" + v.Path + ")"
	case *Closure:
		return "lambda"
	default:
		return fmt.Sprint(v)
	}
}
