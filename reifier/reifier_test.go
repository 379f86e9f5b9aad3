package reifier

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/preview_errors"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/runtime"
	"github.com/lorents/fuse-studio/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = utils.NewDefaultLogger(slog.LevelError)

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Envelope
}

func (r *recorder) Send(m protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, protocol.Encode(m))
	return nil
}

func (r *recorder) ofType(typ string) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Envelope
	for _, m := range r.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) lastReify(t *testing.T) bytecode.BytecodeGenerated {
	t.Helper()
	envs := r.ofType(bytecode.BytecodeGeneratedType)
	require.NotEmpty(t, envs)
	m, err := protocol.Decode(envs[len(envs)-1], bytecode.ReadBytecodeGenerated)
	require.NoError(t, err)
	return m
}

func (r *recorder) lastUpdate(t *testing.T) bytecode.BytecodeUpdated {
	t.Helper()
	envs := r.ofType(bytecode.BytecodeUpdatedType)
	require.NotEmpty(t, envs)
	m, err := protocol.Decode(envs[len(envs)-1], bytecode.ReadBytecodeUpdated)
	require.NoError(t, err)
	return m
}

const mainView = `<App>
	<Panel ux:Name="panel" Opacity="0.5">
		<Text Value="hi" />
		<Text Value="{greeting}" />
	</Panel>
</App>
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files["App.unoproj"] = `{"Includes": ["*"]}`
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newReifier(out *recorder, states *[]State) *Reifier {
	return New(Options{
		Output: out,
		Logger: testLog,
		OnState: func(s State) {
			if states != nil {
				*states = append(*states, s)
			}
		},
	})
}

func build(t *testing.T, r *Reifier, dir string) {
	t.Helper()
	assembly, err := r.Build(context.Background(), BuildProject{ProjectPath: filepath.Join(dir, "App.unoproj")})
	require.NoError(t, err)
	assert.FileExists(t, assembly)
}

func TestReifier_BuildPublishesReify(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": mainView})
	out := &recorder{}
	var states []State
	r := newReifier(out, &states)
	build(t, r, dir)

	assert.Len(t, out.ofType(protocol.AssemblyBuiltType), 1)
	assert.NotEmpty(t, out.ofType(protocol.LogMessageType))
	assert.Equal(t, []State{Parsing, Parsed, CodeGenerating, Published}, states)

	m := out.lastReify(t)
	assert.Equal(t, int64(1), m.Generation)
	path := filepath.Join(dir, "MainView.ux")
	assert.Equal(t, []bytecode.ElementMetadata{
		{ID: protocol.ObjectIdentifier{Document: path, Index: 0}, Type: "Fuse.App"},
		{ID: protocol.ObjectIdentifier{Document: path, Index: 1}, Type: "Fuse.Controls.Panel", Name: "panel"},
		{ID: protocol.ObjectIdentifier{Document: path, Index: 2}, Type: "Fuse.Controls.Text"},
		{ID: protocol.ObjectIdentifier{Document: path, Index: 3}, Type: "Fuse.Controls.Text"},
	}, m.Bytecode.Metadata.Elements)
	assert.Equal(t, bytecode.KindCallStaticMethod, m.Bytecode.Reify.Body[0].Kind())

	rt := runtime.New(testLog, "Fuse.App", nil)
	require.NoError(t, rt.Apply(out.ofType(bytecode.BytecodeGeneratedType)[0]))
	app := rt.Root().Children()[0]
	panel := app.Children()[0]
	opacity, _ := panel.Get("Opacity")
	assert.Equal(t, 0.5, opacity)
	texts := panel.Children()
	require.Len(t, texts, 2)
	v, _ := texts[0].Get("Value")
	assert.Equal(t, "hi", v)
	assert.Equal(t, "{greeting}", texts[1].Bindings["Value"])
}

func TestReifier_FastPatch(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": mainView})
	out := &recorder{}
	r := newReifier(out, nil)
	build(t, r, dir)

	id := protocol.ObjectIdentifier{Document: filepath.Join(dir, "MainView.ux"), Index: 2}
	value := "yo"
	ok, err := r.TryUpdateAttribute(context.Background(), id, "Value", &value)
	require.NoError(t, err)
	require.True(t, ok)

	m := out.lastUpdate(t)
	assert.Equal(t, 1, m.Sequence)
	assert.Equal(t, int64(1), m.Generation)
	want := patchFunction(id, "Value", bytecode.StringLiteral{Value: "yo"})
	assert.Empty(t, cmp.Diff(want, m.Function))

	rt := runtime.New(testLog, "Fuse.App", nil)
	require.NoError(t, rt.Apply(out.lastReifyEnvelope()))
	require.NoError(t, rt.Apply(protocol.Encode(m)))
	text := rt.Root().Children()[0].Children()[0].Children()[0]
	v, _ := text.Get("Value")
	assert.Equal(t, "yo", v)

	// Removal writes null.
	ok, err = r.TryUpdateAttribute(context.Background(), id, "Value", nil)
	require.NoError(t, err)
	require.True(t, ok)
	m = out.lastUpdate(t)
	assert.Equal(t, 2, m.Sequence)
	assert.Empty(t, cmp.Diff(patchFunction(id, "Value", bytecode.NullLiteral{}), m.Function))

	// Sequence numbers keep counting across reifies.
	require.NoError(t, r.Refresh(context.Background()))
	ok, err = r.TryUpdateAttribute(context.Background(), id, "Value", &value)
	require.NoError(t, err)
	require.True(t, ok)
	m = out.lastUpdate(t)
	assert.Equal(t, 3, m.Sequence)
	assert.Equal(t, int64(2), m.Generation)
}

func (r *recorder) lastReifyEnvelope() protocol.Envelope {
	envs := r.ofType(bytecode.BytecodeGeneratedType)
	return envs[len(envs)-1]
}

func TestReifier_UpdateRejections(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": mainView})
	out := &recorder{}
	r := newReifier(out, nil)
	build(t, r, dir)
	path := filepath.Join(dir, "MainView.ux")
	panel := protocol.ObjectIdentifier{Document: path, Index: 1}
	text := protocol.ObjectIdentifier{Document: path, Index: 2}
	bound := protocol.ObjectIdentifier{Document: path, Index: 3}

	str := func(s string) *string { return &s }
	cases := []struct {
		name     string
		id       protocol.ObjectIdentifier
		property string
		value    *string
	}{
		{"binding value", text, "Value", str("{name}")},
		{"ux attribute", panel, "ux:Name", str("other")},
		{"ux attribute any case", panel, "UX:Name", str("other")},
		{"dotted property", panel, "Grid.Row", str("1")},
		{"layer", panel, "Layer", str("Background")},
		{"unknown object", protocol.ObjectIdentifier{Document: path, Index: 99}, "Opacity", str("1")},
		{"unknown document", protocol.ObjectIdentifier{Document: "nope.ux", Index: 0}, "Opacity", str("1")},
		{"previous binding", bound, "Value", str("plain")},
		{"invalid value", panel, "Opacity", str("very")},
		{"unknown property", panel, "Wobble", str("1")},
	}
	before := out.count()
	for _, c := range cases {
		ok, err := r.TryUpdateAttribute(context.Background(), c.id, c.property, c.value)
		assert.NoError(t, err, c.name)
		assert.False(t, ok, c.name)
	}
	assert.Equal(t, before, out.count())

	ok, err := r.TryUpdateAttribute(context.Background(), panel, "Opacity", str("0.25"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, out.lastUpdate(t).Sequence)

	// escaped braces are text, not a binding
	ok, err = r.TryUpdateAttribute(context.Background(), text, "Value", str(`a\{escaped\}b`))
	require.NoError(t, err)
	assert.True(t, ok)
	m := out.lastUpdate(t)
	assert.Equal(t, 2, m.Sequence)
	assert.Empty(t, cmp.Diff(patchFunction(text, "Value", bytecode.StringLiteral{Value: "a{escaped}b"}), m.Function))
}

func TestReifier_ParseFailure(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": mainView})
	out := &recorder{}
	var states []State
	r := newReifier(out, &states)
	build(t, r, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "MainView.ux"), []byte("<App><Panel></App>"), 0o644))
	states = nil
	err := r.Refresh(context.Background())
	assert.ErrorIs(t, err, preview_errors.ErrCantReify)
	assert.Equal(t, []State{Parsing, ParseFailed}, states)
	assert.Equal(t, ParseFailed, r.State())

	errs := out.ofType(protocol.MarkupErrorType)
	require.Len(t, errs, 1)
	me, err := protocol.Decode(errs[0], protocol.ReadMarkupError)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "MainView.ux"), me.Source.File)
	assert.Len(t, out.ofType(bytecode.BytecodeGeneratedType), 1)

	value := "yo"
	ok, err := r.TryUpdateAttribute(context.Background(), protocol.ObjectIdentifier{Document: filepath.Join(dir, "MainView.ux"), Index: 2}, "Value", &value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReifier_CodegenFailure(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": `<App><Wibble /></App>`})
	out := &recorder{}
	r := newReifier(out, nil)
	_, err := r.Build(context.Background(), BuildProject{ProjectPath: filepath.Join(dir, "App.unoproj")})
	assert.ErrorIs(t, err, preview_errors.ErrCantReify)
	assert.ErrorIs(t, err, ErrUnknownElement)
	assert.Equal(t, CodeGenFailed, r.State())
	assert.Len(t, out.ofType(protocol.MarkupErrorType), 1)
	assert.Empty(t, out.ofType(bytecode.BytecodeGeneratedType))
}

func TestReifier_ClassesTextAndImports(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"MainView.ux": `<App>
	<MyCard Opacity="0.75" />
	<Image File="import('logo.png')" />
	<Text>Hello</Text>
</App>`,
		"MyCard.ux": `<Panel ux:Class="MyCard" Opacity="0.5"><Text Value="card" /></Panel>`,
		"logo.png":  "png",
	})
	out := &recorder{}
	r := newReifier(out, nil)
	build(t, r, dir)

	m := out.lastReify(t)
	assert.Equal(t, []bytecode.ProjectDependency{{Name: "logo.png", Path: filepath.Join(dir, "logo.png")}}, m.Bytecode.Dependencies)
	assert.Equal(t, []bytecode.ClassMetadata{{Name: "MyCard", Base: "Fuse.Controls.Panel"}}, m.Bytecode.Metadata.Classes)
	card := protocol.ObjectIdentifier{Document: filepath.Join(dir, "MainView.ux"), Index: 1}
	assert.True(t, m.Bytecode.Metadata.IsElementOfType(card, "Fuse.Controls.Panel", nil))

	rt := runtime.New(testLog, "Fuse.App", nil)
	require.NoError(t, rt.Apply(protocol.Encode(protocol.FileData{Kind: protocol.DependencyFile, Path: filepath.Join(dir, "logo.png"), Data: []byte("png")})))
	require.NoError(t, rt.Apply(out.lastReifyEnvelope()))
	kids := rt.Root().Children()[0].Children()
	require.Len(t, kids, 3)

	assert.Equal(t, "MyCard", kids[0].Type)
	opacity, _ := kids[0].Get("Opacity")
	assert.Equal(t, 0.75, opacity)
	require.Len(t, kids[0].Children(), 1)

	file, _ := kids[1].Get("File")
	assert.Equal(t, runtime.Asset{Path: filepath.Join(dir, "logo.png"), Data: []byte("png")}, file)

	hello, _ := kids[2].Get("Value")
	assert.Equal(t, "Hello", hello)

	// Patching the class body reaches every instance.
	classText := protocol.ObjectIdentifier{Document: filepath.Join(dir, "MyCard.ux"), Index: 1}
	value := "patched"
	ok, err := r.TryUpdateAttribute(context.Background(), classText, "Value", &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, rt.Apply(protocol.Encode(out.lastUpdate(t))))
	v, _ := kids[0].Children()[0].Get("Value")
	assert.Equal(t, "patched", v)
}

func TestReifier_Clean(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": mainView})
	out := &recorder{}
	r := newReifier(out, nil)
	assembly, err := r.Build(context.Background(), BuildProject{ProjectPath: filepath.Join(dir, "App.unoproj")})
	require.NoError(t, err)

	require.NoError(t, r.Clean(context.Background()))
	assert.NoFileExists(t, assembly)
	assert.Equal(t, Idle, r.State())
	assert.ErrorIs(t, r.Refresh(context.Background()), preview_errors.ErrCantReify)

	value := "yo"
	ok, err := r.TryUpdateAttribute(context.Background(), protocol.ObjectIdentifier{Document: filepath.Join(dir, "MainView.ux"), Index: 2}, "Value", &value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReifier_RefreshWithoutBuild(t *testing.T) {
	out := &recorder{}
	r := newReifier(out, nil)
	assert.NoError(t, r.Refresh(context.Background()))
	assert.Zero(t, out.count())
}

func TestReifier_BuildFailure(t *testing.T) {
	out := &recorder{}
	r := newReifier(out, nil)
	_, err := r.Build(context.Background(), BuildProject{ProjectPath: filepath.Join(t.TempDir(), "Missing.unoproj")})
	assert.ErrorIs(t, err, preview_errors.ErrCantReify)
	assert.Len(t, out.ofType(protocol.LogMessageType), 1)
}

func TestReifier_ParseCacheReusesDocuments(t *testing.T) {
	dir := writeProject(t, map[string]string{"MainView.ux": mainView})
	p := newParser(8)
	path := filepath.Join(dir, "MainView.ux")
	first, err := p.parseAll(context.Background(), []string{path})
	require.NoError(t, err)
	second, err := p.parseAll(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Same(t, first[0], second[0])

	require.NoError(t, os.WriteFile(path, []byte("<App />"), 0o644))
	third, err := p.parseAll(context.Background(), []string{path})
	require.NoError(t, err)
	assert.NotSame(t, first[0], third[0])
}
