package markup

import (
	"path/filepath"
	"testing"

	"github.com/lorents/fuse-studio/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainView = `<App>
	<JavaScript File="main.js" />
	<StackPanel ux:Name="stack">
		<Text Value="Hello" />
		<Image File="import('assets/logo.png')" />
		<Panel ux:Name="p" Opacity="0.5" />
	</StackPanel>
	<Text>  Some {Binding} text </Text>
</App>`

func TestParse(t *testing.T) {
	doc, err := Parse("MainView.ux", []byte(mainView))
	require.NoError(t, err)

	assert.Equal(t, "App", doc.Root.Name)
	require.Len(t, doc.Root.Children, 3)
	stack := doc.Root.Children[1]
	assert.Equal(t, "stack", stack.UXName())
	assert.Equal(t, doc.Root, stack.Parent)
	assert.Equal(t, "Some {Binding} text", doc.Root.Children[2].Text)
	assert.Equal(t, 3, stack.Source.Location.Line)

	v, ok := stack.Children[2].Attribute("Opacity")
	assert.True(t, ok)
	assert.Equal(t, "0.5", v)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		`<App><Panel></App>`,
		`<App>`,
		``,
		`<App/><Other/>`,
		`text<App/>`,
	} {
		_, err := Parse("Bad.ux", []byte(src))
		var perr *ParseError
		if assert.ErrorAs(t, err, &perr, src) {
			assert.Equal(t, "Bad.ux", perr.Source.File)
		}
	}
}

func TestIdentifiers(t *testing.T) {
	doc, err := Parse("a.ux", []byte(`<App><Panel ux:Name="p"/></App>`))
	require.NoError(t, err)
	other, err := Parse("b.ux", []byte(`<Panel ux:Class="MyPanel"><Rectangle/></Panel>`))
	require.NoError(t, err)

	ids := Identify(doc, other)
	id, ok := ids.Of(doc.Root.Children[0])
	assert.True(t, ok)
	assert.Equal(t, protocol.ObjectIdentifier{Document: "a.ux", Index: 1}, id)
	id, _ = ids.Of(doc.Root)
	assert.Equal(t, protocol.ObjectIdentifier{Document: "a.ux", Index: 0}, id)
	id, _ = ids.Of(other.Root)
	assert.Equal(t, protocol.ObjectIdentifier{Document: "b.ux", Index: 0}, id)

	e, ok := ids.Lookup(protocol.ObjectIdentifier{Document: "b.ux", Index: 1})
	assert.True(t, ok)
	assert.Equal(t, "Rectangle", e.Name)
	_, ok = ids.Lookup(protocol.ObjectIdentifier{Document: "b.ux", Index: 2})
	assert.False(t, ok)

	assert.Equal(t, ids.All(), Identify(doc, other).All())
}

func TestIdentifiersStableForPrecedingElements(t *testing.T) {
	doc, err := Parse("MainView.ux", []byte(mainView))
	require.NoError(t, err)
	before := Identify(doc).All()

	stack := doc.Root.Children[1]
	stack.AddChild(NewElement("Circle"))
	after := Identify(doc).All()

	require.Len(t, after, len(before)+1)
	circle, _ := Identify(doc).Of(stack.Children[3])
	for _, id := range before[:circle.Index] {
		assert.Contains(t, after[:circle.Index], id)
	}
	e1, _ := Identify(doc).Lookup(before[circle.Index-1])
	assert.Equal(t, "Panel", e1.Name)
}

func TestEditing(t *testing.T) {
	doc, err := Parse("MainView.ux", []byte(mainView))
	require.NoError(t, err)
	doc.AssignIDs()

	stack := doc.Root.Children[1]
	panel := stack.Children[2]
	assert.Equal(t, 5, panel.ID.Index)

	old := panel.SetAttribute("Opacity", "1")
	require.NotNil(t, old)
	assert.Equal(t, "0.5", *old)
	assert.Nil(t, panel.SetAttribute("Color", "Red"))
	assert.Nil(t, panel.RemoveAttribute("Missing"))
	assert.Equal(t, "Red", *panel.RemoveAttribute("Color"))

	stack.Detach()
	assert.False(t, stack.ID.IsKnown())
	assert.False(t, panel.ID.IsKnown())
	assert.True(t, doc.Root.ID.IsKnown())

	doc.Root.InsertChild(0, stack)
	assert.Equal(t, 0, stack.IndexInParent())
	stack.Rename("Grid")
	doc.Root.InsertChild(99, panel)
	assert.Equal(t, 3, panel.IndexInParent())
	assert.Len(t, stack.Children, 2)
}

func TestMarshalRoundTrip(t *testing.T) {
	doc, err := Parse("MainView.ux", []byte(mainView))
	require.NoError(t, err)
	doc.Root.Children[0].SetAttribute("Note", `a "quoted" <value> & more`)

	back, err := Parse("MainView.ux", doc.Marshal())
	require.NoError(t, err)

	var names, backNames []string
	doc.Root.Walk(func(e *Element) bool { names = append(names, e.Name); return true })
	back.Root.Walk(func(e *Element) bool { backNames = append(backNames, e.Name); return true })
	assert.Equal(t, names, backNames)

	note, _ := back.Root.Children[0].Attribute("Note")
	assert.Equal(t, `a "quoted" <value> & more`, note)
	assert.Equal(t, "p", back.Root.Children[1].Children[2].UXName())
	assert.Equal(t, "Some {Binding} text", back.Root.Children[2].Text)
}

func TestContainsBindingExpression(t *testing.T) {
	cases := map[string]bool{
		"{Foo.Bar}":        true,
		"a\\{escaped\\}b":  false,
		"plain":            false,
		"":                 false,
		"{":                false,
		"}{":               false,
		"x {a} y":          true,
		"\\{a}":            false,
		"{a\\}":            false,
		"{a\\}}":           true,
		"Size: {Width}px":  true,
		"\\\\{a}":          true,
		"{ unterminated":   false,
		"prefix } {suffix": false,
	}
	for s, want := range cases {
		assert.Equal(t, want, ContainsBindingExpression(s), s)
	}
	assert.Equal(t, "a{escaped}b", Unescape("a\\{escaped\\}b"))
}

func TestImports(t *testing.T) {
	a, err := Parse("/proj/a.ux", []byte(`<App><Image File="import('assets/logo.png')"/><Image File="import(&quot;assets/logo.png&quot;)"/></App>`))
	require.NoError(t, err)
	b, err := Parse("/proj/b.ux", []byte(`<Panel ux:Class="Card" Background="import(bg.jpg)"><Image File="import('assets/logo.png')" Other="import()"/></Panel>`))
	require.NoError(t, err)

	p := &Project{Directory: "/proj", Documents: []*Document{a, b}}
	imports := p.Imports()
	require.Len(t, imports, 2)
	assert.Equal(t, filepath.Join("/proj", "assets", "logo.png"), imports[0].Path)
	assert.Equal(t, filepath.Join("/proj", "bg.jpg"), imports[1].Path)
	assert.Equal(t, "Background", imports[1].Property)

	classes := p.Classes()
	require.Len(t, classes, 1)
	assert.Equal(t, "Card", classes[0].Name)
	assert.Equal(t, "Panel", classes[0].BaseType())
	assert.Equal(t, []*Document{a}, p.Roots())
}
