package bytecode

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReify() Lambda {
	panel := Variable{Name: "e1"}
	return Lambda{
		Signature: Action(This),
		Body: []Statement{
			ClearTagRegistry(),
			WriteVariable{Variable: panel, Value: Instantiate{Type: SimpleTypeName("Fuse.Controls.Panel")}},
			SetTag(ReadVariable{Variable: panel}, "MainView.ux:1"),
			WriteProperty{Object: ReadVariable{Variable: panel}, Property: "Opacity", Value: NumberLiteral{Value: 0.5}},
			WriteProperty{Object: ReadVariable{Variable: panel}, Property: "Visible", Value: BooleanLiteral{Value: true}},
			WriteProperty{Object: ReadVariable{Variable: panel}, Property: "Tag", Value: NullLiteral{}},
			Bind(ReadVariable{Variable: panel}, "Width", "{Size}"),
			AddToProperty{Object: ReadVariable{Variable: This}, Property: "Children", Value: ReadVariable{Variable: panel}},
			CallLambda{Lambda: Lambda{Signature: Action(This), BoundVariables: []Variable{panel}}, Arguments: []Expression{ReadVariable{Variable: This}}},
			DeclareClass("MyButton", SimpleTypeName("Fuse.Controls.Button"), Lambda{Signature: Action(This)}),
		},
	}
}

func decodeAs[T protocol.Message](t *testing.T, m T, read func(*protocol.Reader) T) T {
	env, err := protocol.NewReader(bytes.NewReader(protocol.Frame(m))).ReadEnvelope()
	require.NoError(t, err)
	back, err := protocol.Decode(env, read)
	require.NoError(t, err)
	return back
}

func TestBytecodeGeneratedRoundTrip(t *testing.T) {
	m := BytecodeGenerated{
		ID:         uuid.New(),
		Generation: 7,
		Bytecode: ProjectBytecode{
			Reify: sampleReify(),
			Dependencies: []ProjectDependency{
				{Name: "logo.png", Path: "/proj/assets/logo.png"},
				{Name: "main.js", Path: "/proj/main.js"},
			},
			Metadata: ProjectMetadata{
				Elements: []ElementMetadata{
					{ID: protocol.ObjectIdentifier{Document: "MainView.ux", Index: 0}, Type: "Fuse.App"},
					{ID: protocol.ObjectIdentifier{Document: "MainView.ux", Index: 1}, Type: "Fuse.Controls.Panel", Name: "p"},
				},
				Classes: []ClassMetadata{{Name: "MyButton", Base: "Fuse.Controls.Button"}},
			},
		},
	}
	back := decodeAs(t, m, ReadBytecodeGenerated)
	if diff := cmp.Diff(m, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	empty := decodeAs(t, BytecodeGenerated{}, ReadBytecodeGenerated)
	assert.Empty(t, cmp.Diff(BytecodeGenerated{}, empty))
}

func TestBytecodeUpdatedRoundTrip(t *testing.T) {
	m := BytecodeUpdated{
		Sequence:   3,
		Generation: 2,
		Function: Lambda{
			Signature: Action(),
			Body: []Statement{
				ExecuteOnObjectsWithTag("MainView.ux:1", Lambda{
					Signature: Action(This),
					Body: []Statement{
						WriteProperty{Object: ReadVariable{Variable: This}, Property: "Opacity", Value: StringLiteral{Value: "0.5"}},
					},
				}),
			},
		},
	}
	back := decodeAs(t, m, ReadBytecodeUpdated)
	assert.Empty(t, cmp.Diff(m, back))
}

func TestGenerateBytecodeRoundTrip(t *testing.T) {
	m := GenerateBytecode{ID: uuid.New(), UxFilePaths: []string{"a.ux", "b/c.ux"}}
	assert.Equal(t, m, decodeAs(t, m, ReadGenerateBytecode))
	assert.Equal(t, GenerateBytecode{}, decodeAs(t, GenerateBytecode{}, ReadGenerateBytecode))
}

func TestUnknownNodeKind(t *testing.T) {
	w := protocol.NewWriter(nil)
	w.WriteString("Goto")
	r := protocol.NewReader(bytes.NewReader(w.Bytes()))
	assert.Nil(t, ReadStatement(r))
	assert.ErrorIs(t, r.Err(), ErrUnknownNode)

	// a statement-only node is not an expression
	w = protocol.NewWriter(nil)
	WriteStatement(w, WriteVariable{Variable: This, Value: NullLiteral{}})
	r = protocol.NewReader(bytes.NewReader(w.Bytes()))
	assert.Nil(t, ReadExpression(r))
	assert.ErrorIs(t, r.Err(), ErrUnknownNode)
}

func TestParseTypeName(t *testing.T) {
	tn, err := ParseTypeName("Fuse.Controls.Panel")
	require.NoError(t, err)
	assert.Equal(t, "Panel", tn.Surname)
	assert.Equal(t, "Fuse.Controls", tn.ContainingType.FullName())
	assert.False(t, tn.IsParameterizedGenericType())

	tn, err = ParseTypeName("Fuse.Animation.Change`1<float>")
	require.NoError(t, err)
	assert.Equal(t, "Fuse.Animation.Change<float>", tn.FullName())
	assert.True(t, tn.IsParameterizedGenericType())
	assert.Equal(t, "Fuse.Animation.Change`1", tn.WithGenericSuffix().FullName())

	tn, err = ParseTypeName("Outer<A.B, List<int>>.Inner")
	require.NoError(t, err)
	assert.Equal(t, "Outer<A.B,List<int>>.Inner", tn.FullName())
	assert.True(t, tn.IsParameterizedGenericType())
	assert.Equal(t, "Outer`2.Inner", tn.WithGenericSuffix().FullName())

	for _, bad := range []string{"", "A.", "List<int", ".A", "A<,>"} {
		_, err := ParseTypeName(bad)
		assert.Error(t, err, bad)
	}
}

type oracle map[string]string

func (o oracle) IsSubtype(typeName, baseName string) bool {
	for typeName != "" {
		if typeName == baseName {
			return true
		}
		typeName = o[typeName]
	}
	return false
}

func TestMetadataIsSubtype(t *testing.T) {
	m := ProjectMetadata{
		Elements: []ElementMetadata{{ID: protocol.ObjectIdentifier{Document: "a.ux", Index: 2}, Type: "FancyButton"}},
		Classes: []ClassMetadata{
			{Name: "FancyButton", Base: "MyButton"},
			{Name: "MyButton", Base: "Fuse.Controls.Button"},
			{Name: "Loop", Base: "Loop"},
		},
	}
	runtime := oracle{"Fuse.Controls.Button": "Fuse.Controls.Control", "Fuse.Controls.Control": "Fuse.Node"}

	assert.True(t, m.IsSubtype("FancyButton", "MyButton", nil))
	assert.True(t, m.IsSubtype("FancyButton", "Fuse.Node", runtime))
	assert.False(t, m.IsSubtype("FancyButton", "Fuse.Node", nil))
	assert.False(t, m.IsSubtype("Loop", "Fuse.Node", runtime))
	assert.True(t, m.IsElementOfType(protocol.ObjectIdentifier{Document: "a.ux", Index: 2}, "Fuse.Controls.Control", runtime))
	assert.False(t, m.IsElementOfType(protocol.ObjectIdentifier{Document: "a.ux", Index: 3}, "Fuse.Node", runtime))
}
