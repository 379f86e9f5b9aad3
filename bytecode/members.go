package bytecode

import (
	"github.com/lorents/fuse-studio/protocol"
)

// StaticMemberName names a static method of a runtime type.
type StaticMemberName struct {
	Type   TypeName
	Member string
}

func (m StaticMemberName) String() string {
	return m.Type.FullName() + "." + m.Member
}

func writeStaticMemberName(w *protocol.Writer, m StaticMemberName) {
	w.WriteString(m.Type.FullName())
	w.WriteString(m.Member)
}

func readStaticMemberName(r *protocol.Reader) StaticMemberName {
	return StaticMemberName{Type: readTypeName(r), Member: r.ReadString()}
}

var (
	tagRegistry  = SimpleTypeName("Outracks.Simulator.ObjectTagRegistry")
	typeRegistry = SimpleTypeName("Outracks.Simulator.TypeRegistry")
	bindings     = SimpleTypeName("Outracks.Simulator.Bindings")
	assets       = SimpleTypeName("Outracks.Simulator.Assets")
)

// Members the runtime is expected to provide.
var (
	ClearTags            = StaticMemberName{Type: tagRegistry, Member: "Clear"}
	SetTagMember         = StaticMemberName{Type: tagRegistry, Member: "SetTag"}
	ExecuteOnTaggedItems = StaticMemberName{Type: tagRegistry, Member: "TryExecuteOnObjectsWithTag"}
	DeclareClassMember   = StaticMemberName{Type: typeRegistry, Member: "DeclareClass"}
	BindMember           = StaticMemberName{Type: bindings, Member: "Bind"}
	ImportMember         = StaticMemberName{Type: assets, Member: "Import"}
)

// ClearTagRegistry invalidates every tag issued by an earlier program.
func ClearTagRegistry() CallStaticMethod {
	return CallStaticMethod{Method: ClearTags}
}

func SetTag(object Expression, tag string) CallStaticMethod {
	return CallStaticMethod{Method: SetTagMember, Arguments: []Expression{object, StringLiteral{Value: tag}}}
}

// ExecuteOnObjectsWithTag runs action(obj) for every live object currently
// tagged with tag.
func ExecuteOnObjectsWithTag(tag string, action Lambda) CallStaticMethod {
	return CallStaticMethod{Method: ExecuteOnTaggedItems, Arguments: []Expression{StringLiteral{Value: tag}, action}}
}

// DeclareClass registers a markup class: its name, base type and a factory
// lambda building its contents on a fresh instance.
func DeclareClass(name string, base TypeName, factory Lambda) CallStaticMethod {
	return CallStaticMethod{Method: DeclareClassMember, Arguments: []Expression{
		StringLiteral{Value: name},
		StringLiteral{Value: base.FullName()},
		factory,
	}}
}

func Bind(object Expression, property, expression string) CallStaticMethod {
	return CallStaticMethod{Method: BindMember, Arguments: []Expression{
		object,
		StringLiteral{Value: property},
		StringLiteral{Value: expression},
	}}
}

func Import(path string) CallStaticMethod {
	return CallStaticMethod{Method: ImportMember, Arguments: []Expression{StringLiteral{Value: path}}}
}
