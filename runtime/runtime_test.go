package runtime

import (
	"log/slog"
	"testing"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/typeinfo"
	"github.com/lorents/fuse-studio/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	this  = bytecode.ReadVariable{Variable: bytecode.This}
	panel = bytecode.MustParseTypeName("Fuse.Controls.Panel")
	text  = bytecode.MustParseTypeName("Fuse.Controls.Text")
)

func newRuntime() *Runtime {
	return New(utils.NewDefaultLogger(slog.LevelError), "Fuse.App", typeinfo.Builtin())
}

// <Panel><Text Value="hi"/></Panel> in doc "a.ux".
func reifyProgram(generation int64) protocol.Envelope {
	p := bytecode.Variable{Name: "p"}
	t := bytecode.Variable{Name: "t"}
	reify := bytecode.Lambda{
		Signature:      bytecode.Action(bytecode.This),
		BoundVariables: []bytecode.Variable{p, t},
		Body: []bytecode.Statement{
			bytecode.ClearTagRegistry(),
			bytecode.WriteVariable{Variable: p, Value: bytecode.Instantiate{Type: panel}},
			bytecode.SetTag(bytecode.ReadVariable{Variable: p}, "a.ux:0"),
			bytecode.WriteVariable{Variable: t, Value: bytecode.Instantiate{Type: text}},
			bytecode.SetTag(bytecode.ReadVariable{Variable: t}, "a.ux:1"),
			bytecode.WriteProperty{Object: bytecode.ReadVariable{Variable: t}, Property: "Value", Value: bytecode.StringLiteral{Value: "hi"}},
			bytecode.AddToProperty{Object: bytecode.ReadVariable{Variable: p}, Property: "Children", Value: bytecode.ReadVariable{Variable: t}},
			bytecode.AddToProperty{Object: this, Property: "Children", Value: bytecode.ReadVariable{Variable: p}},
		},
	}
	return protocol.Encode(bytecode.BytecodeGenerated{Generation: generation, Bytecode: bytecode.ProjectBytecode{Reify: reify}})
}

func patch(seq int, generation int64, tag, prop string, value bytecode.Expression) protocol.Envelope {
	fn := bytecode.Lambda{
		Signature: bytecode.Action(),
		Body: []bytecode.Statement{
			bytecode.ExecuteOnObjectsWithTag(tag, bytecode.Lambda{
				Signature: bytecode.Action(bytecode.This),
				Body: []bytecode.Statement{
					bytecode.WriteProperty{Object: this, Property: prop, Value: value},
				},
			}),
		},
	}
	return protocol.Encode(bytecode.BytecodeUpdated{Sequence: seq, Generation: generation, Function: fn})
}

func textOf(t *testing.T, r *Runtime) Value {
	t.Helper()
	roots := r.Root().Children()
	require.Len(t, roots, 1)
	kids := roots[0].Children()
	require.Len(t, kids, 1)
	v, _ := kids[0].Get("Value")
	return v
}

func TestRuntime_ReifyAndPatch(t *testing.T) {
	r := newRuntime()
	require.NoError(t, r.Apply(reifyProgram(1)))
	assert.Equal(t, "hi", textOf(t, r))
	assert.Equal(t, int64(1), r.Generation())

	require.NoError(t, r.Apply(patch(1, 1, "a.ux:1", "Value", bytecode.StringLiteral{Value: "yo"})))
	assert.Equal(t, "yo", textOf(t, r))
	assert.Equal(t, 1, r.Patches())

	require.NoError(t, r.Apply(patch(2, 1, "a.ux:1", "Value", bytecode.NullLiteral{})))
	assert.Nil(t, textOf(t, r))

	assert.Equal(t, "Fuse.App\n  Fuse.Controls.Panel\n    Fuse.Controls.Text\n", r.Root().Dump())
}

func TestRuntime_PatchMissingTagIsNoop(t *testing.T) {
	r := newRuntime()
	require.NoError(t, r.Apply(reifyProgram(1)))
	require.NoError(t, r.Apply(patch(1, 1, "b.ux:7", "Value", bytecode.StringLiteral{Value: "x"})))
	assert.Equal(t, "hi", textOf(t, r))
}

func TestRuntime_StaleProgramsIgnored(t *testing.T) {
	r := newRuntime()
	require.NoError(t, r.Apply(patch(1, 1, "a.ux:1", "Value", bytecode.StringLiteral{Value: "early"})))
	assert.Empty(t, r.Root().Children())

	require.NoError(t, r.Apply(reifyProgram(2)))
	require.NoError(t, r.Apply(reifyProgram(1)))
	assert.Equal(t, int64(2), r.Generation())

	require.NoError(t, r.Apply(patch(1, 1, "a.ux:1", "Value", bytecode.StringLiteral{Value: "old"})))
	assert.Equal(t, "hi", textOf(t, r))
	assert.Equal(t, 0, r.Patches())
}

func TestRuntime_PatchAheadOfReifyIgnored(t *testing.T) {
	r := newRuntime()
	require.NoError(t, r.Apply(reifyProgram(1)))

	// targets a program this runtime never applied
	require.NoError(t, r.Apply(patch(2, 2, "a.ux:1", "Value", bytecode.StringLiteral{Value: "ahead"})))
	assert.Equal(t, "hi", textOf(t, r))
	assert.Equal(t, 0, r.Patches())

	require.NoError(t, r.Apply(reifyProgram(2)))
	require.NoError(t, r.Apply(patch(3, 2, "a.ux:1", "Value", bytecode.StringLiteral{Value: "now"})))
	assert.Equal(t, "now", textOf(t, r))
	assert.Equal(t, 1, r.Patches())
}

func TestRuntime_TagsFromEarlierReifyAreDead(t *testing.T) {
	r := newRuntime()
	require.NoError(t, r.Apply(reifyProgram(1)))
	first := r.Root().Children()[0].Children()[0]
	require.NoError(t, r.Apply(reifyProgram(2)))

	require.NoError(t, r.Apply(patch(1, 2, "a.ux:1", "Value", bytecode.StringLiteral{Value: "new"})))
	assert.Equal(t, "new", textOf(t, r))
	v, _ := first.Get("Value")
	assert.Equal(t, "hi", v)
}

func TestRuntime_ClassesAndBindings(t *testing.T) {
	factory := bytecode.Lambda{
		Signature: bytecode.Action(bytecode.This),
		Body: []bytecode.Statement{
			bytecode.WriteProperty{Object: this, Property: "Opacity", Value: bytecode.NumberLiteral{Value: 0.5}},
			bytecode.Bind(this, "Width", "{width}"),
			bytecode.WriteProperty{Object: this, Property: "File", Value: bytecode.Import("img/logo.png")},
		},
	}
	reify := bytecode.Lambda{
		Signature: bytecode.Action(bytecode.This),
		Body: []bytecode.Statement{
			bytecode.ClearTagRegistry(),
			bytecode.DeclareClass("MyBox", panel, factory),
			bytecode.AddToProperty{Object: this, Property: "Children", Value: bytecode.Instantiate{Type: bytecode.SimpleTypeName("MyBox")}},
		},
	}
	r := newRuntime()
	require.NoError(t, r.Apply(protocol.Encode(protocol.FileData{Kind: protocol.BundleFile, Path: "img/logo.png", Data: []byte{1, 2}})))
	require.NoError(t, r.Apply(protocol.Encode(bytecode.BytecodeGenerated{Generation: 1, Bytecode: bytecode.ProjectBytecode{Reify: reify}})))

	box := r.Root().Children()[0]
	assert.Equal(t, "MyBox", box.Type)
	v, _ := box.Get("Opacity")
	assert.Equal(t, 0.5, v)
	assert.Equal(t, "{width}", box.Bindings["Width"])
	asset, _ := box.Get("File")
	assert.Equal(t, Asset{Path: "img/logo.png", Data: []byte{1, 2}}, asset)
}

func TestRuntime_FailedReifyKeepsPreviousTree(t *testing.T) {
	r := newRuntime()
	require.NoError(t, r.Apply(reifyProgram(1)))
	bad := bytecode.Lambda{
		Signature: bytecode.Action(bytecode.This),
		Body: []bytecode.Statement{
			bytecode.AddToProperty{Object: this, Property: "Children", Value: bytecode.Instantiate{Type: bytecode.SimpleTypeName("Nope.Widget")}},
		},
	}
	err := r.Apply(protocol.Encode(bytecode.BytecodeGenerated{Generation: 2, Bytecode: bytecode.ProjectBytecode{Reify: bad}}))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "hi", textOf(t, r))
	assert.Equal(t, int64(1), r.Generation())
}

func TestTagRegistry_Generations(t *testing.T) {
	reg := NewTagRegistry()
	a := NewInstance("A")
	reg.SetTag(a, "x")
	assert.Equal(t, []*Instance{a}, reg.ObjectsWithTag("x"))
	reg.Clear()
	assert.Empty(t, reg.ObjectsWithTag("x"))
	b := NewInstance("B")
	reg.SetTag(b, "x")
	assert.Equal(t, []*Instance{b}, reg.ObjectsWithTag("x"))
}
