package preview

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/cache"
	"github.com/lorents/fuse-studio/command"
	"github.com/lorents/fuse-studio/markup"
	"github.com/lorents/fuse-studio/preview_errors"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
	"github.com/lorents/fuse-studio/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = utils.NewDefaultLogger(slog.LevelError)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func writeProject(t *testing.T, project string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files["App.unoproj"] = project
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return filepath.Join(dir, "App.unoproj")
}

func open(t *testing.T, projectPath string, opts Options) *ProjectPreview {
	t.Helper()
	opts.Logger = testLog
	opts.PollInterval = tick
	p, err := New(projectPath, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func reifyOf(t *testing.T, c *cache.Cache) bytecode.BytecodeGenerated {
	t.Helper()
	e, ok := c.Entry(ReifyKey)
	require.True(t, ok)
	require.False(t, e.IsTombstone())
	m, err := protocol.Decode(*e.Blob, bytecode.ReadBytecodeGenerated)
	require.NoError(t, err)
	return m
}

func waitReify(t *testing.T, c *cache.Cache, generation int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		e, ok := c.Entry(ReifyKey)
		if !ok || e.IsTombstone() {
			return false
		}
		m, err := protocol.Decode(*e.Blob, bytecode.ReadBytecodeGenerated)
		return err == nil && m.Generation == generation
	}, waitFor, tick)
}

func strptr(s string) *string { return &s }

const plainProject = `{"Includes": ["*"]}`

func TestProjectPreview_HappyPath(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{
		"MainView.ux": `<App><Panel ux:Name="p"/></App>`,
	})
	p := open(t, path, Options{})
	ctx := context.Background()

	assembly, err := p.Build(ctx, reifier.BuildProject{})
	require.NoError(t, err)
	assert.FileExists(t, assembly)
	waitReify(t, p.Cache(), 1)

	doc := filepath.Join(filepath.Dir(path), "MainView.ux")
	m := reifyOf(t, p.Cache())
	require.Len(t, m.Bytecode.Metadata.Elements, 2)
	assert.Equal(t, protocol.ObjectIdentifier{Document: doc, Index: 0}, m.Bytecode.Metadata.Elements[0].ID)
	assert.Equal(t, protocol.ObjectIdentifier{Document: doc, Index: 1}, m.Bytecode.Metadata.Elements[1].ID)
	assert.Equal(t, "p", m.Bytecode.Metadata.Elements[1].Name)

	ok, err := p.TryUpdateAttribute(ctx, protocol.ObjectIdentifier{Document: doc, Index: 1}, "Opacity", strptr("0.5"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(1)) }, waitFor, tick)

	ok, err = p.TryUpdateAttribute(ctx, protocol.ObjectIdentifier{Document: doc, Index: 1}, "Layer", strptr("0.5"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectPreview_TombstonesOnReify(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{
		"MainView.ux": `<App><Panel ux:Name="p"/></App>`,
	})
	p := open(t, path, Options{})
	ctx := context.Background()
	_, err := p.Build(ctx, reifier.BuildProject{})
	require.NoError(t, err)
	waitReify(t, p.Cache(), 1)

	doc := filepath.Join(filepath.Dir(path), "MainView.ux")
	for _, v := range []string{"0.1", "0.2"} {
		ok, err := p.TryUpdateAttribute(ctx, protocol.ObjectIdentifier{Document: doc, Index: 1}, "Opacity", strptr(v))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(2)) }, waitFor, tick)

	// distinct sequence keys do not supersede each other
	sub := p.Cache().ReplayFrom(-1)
	defer sub.Close()
	var keys []string
	for {
		e, ok := sub.TryNext()
		if !ok {
			break
		}
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{ReifyKey, UpdateKey(1), UpdateKey(2)}, keys)

	require.NoError(t, p.Refresh(ctx))
	waitReify(t, p.Cache(), 2)
	assert.False(t, p.Cache().HasEntry(UpdateKey(1)))
	assert.False(t, p.Cache().HasEntry(UpdateKey(2)))

	// the live subscriber sees both tombstones before the new program
	var live []cache.Entry
	for len(live) < 3 {
		nctx, cancel := context.WithTimeout(ctx, waitFor)
		e, err := sub.Next(nctx)
		cancel()
		require.NoError(t, err)
		live = append(live, e)
	}
	assert.Equal(t, UpdateKey(1), live[0].Key)
	assert.True(t, live[0].IsTombstone())
	assert.Equal(t, UpdateKey(2), live[1].Key)
	assert.True(t, live[1].IsTombstone())
	assert.Equal(t, ReifyKey, live[2].Key)
	assert.False(t, live[2].IsTombstone())

	late := p.Cache().ReplayFrom(-1)
	defer late.Close()
	e, ok := late.TryNext()
	require.True(t, ok)
	assert.Equal(t, ReifyKey, e.Key)
	_, ok = late.TryNext()
	assert.False(t, ok)
}

func TestProjectPreview_ClientJoinsMidSession(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{
		"MainView.ux": `<App><Panel ux:Name="p"/></App>`,
	})
	added := make(chan protocol.RegisterName, 1)
	removed := make(chan string, 1)
	p := open(t, path, Options{
		ClientAdded:   func(reg protocol.RegisterName) { added <- reg },
		ClientRemoved: func(id string) { removed <- id },
	})
	ctx := context.Background()
	_, err := p.Build(ctx, reifier.BuildProject{})
	require.NoError(t, err)
	waitReify(t, p.Cache(), 1)

	doc := filepath.Join(filepath.Dir(path), "MainView.ux")
	const n = 3
	for i := 1; i <= n; i++ {
		ok, err := p.TryUpdateAttribute(ctx, protocol.ObjectIdentifier{Document: doc, Index: 1}, "Opacity", strptr("0."+strconv.Itoa(i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(n)) }, waitFor, tick)

	require.NotZero(t, p.Port())
	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(p.Port()))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(waitFor))
	r := protocol.NewReader(conn)

	env, err := r.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, bytecode.BytecodeGeneratedType, env.Type)
	for i := 1; i <= n; i++ {
		env, err := r.ReadEnvelope()
		require.NoError(t, err)
		require.Equal(t, bytecode.BytecodeUpdatedType, env.Type)
		m, err := protocol.Decode(env, bytecode.ReadBytecodeUpdated)
		require.NoError(t, err)
		assert.Equal(t, i, m.Sequence)
	}

	msgs := p.Messages(16)
	defer msgs.Close()
	reg := protocol.RegisterName{DeviceID: "dev-1", DeviceName: "Phone"}
	_, err = conn.Write(protocol.Frame(reg))
	require.NoError(t, err)
	select {
	case got := <-added:
		assert.Equal(t, reg, got)
	case <-time.After(waitFor):
		t.Fatal("client not added")
	}
	assert.Equal(t, []protocol.RegisterName{reg}, p.Clients())
	env = awaitMessage(t, msgs, protocol.RegisterNameType)
	got, err := protocol.Decode(env, protocol.ReadRegisterName)
	require.NoError(t, err)
	assert.Equal(t, reg, got)

	conn.Close()
	select {
	case id := <-removed:
		assert.Equal(t, "dev-1", id)
	case <-time.After(waitFor):
		t.Fatal("client not removed")
	}
	assert.Empty(t, p.Clients())
}

func TestProjectPreview_WaitsForDependencies(t *testing.T) {
	path := writeProject(t, `{"Includes": ["*", "Assets/*.json:Bundle"]}`, map[string]string{
		"MainView.ux":      `<App><Image File="import('logo.png')"/></App>`,
		"logo.png":         "not really a png",
		"Assets/data.json": `{"a": 1}`,
	})
	p := open(t, path, Options{})
	_, err := p.Build(context.Background(), reifier.BuildProject{})
	require.NoError(t, err)
	waitReify(t, p.Cache(), 1)

	dir := filepath.Dir(path)
	logo := filepath.Join(dir, "logo.png")
	keys := p.Cache().Keys()
	assert.Equal(t, ReifyKey, keys[len(keys)-1], "program comes after its assets")
	assert.Contains(t, keys, logo)
	assert.Contains(t, keys, "bundle:"+filepath.Join(dir, "Assets", "data.json"))

	e, ok := p.Cache().Entry(logo)
	require.True(t, ok)
	fd, err := protocol.Decode(*e.Blob, protocol.ReadFileData)
	require.NoError(t, err)
	assert.Equal(t, protocol.FileData{Kind: protocol.DependencyFile, Path: logo, Data: []byte("not really a png")}, fd)
}

func TestProjectPreview_DependencyTimeout(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{
		"MainView.ux": `<App><Image File="import('missing.png')"/></App>`,
	})
	p := open(t, path, Options{DependencyTimeout: 100 * time.Millisecond})
	msgs := p.Messages(64)
	defer msgs.Close()

	_, err := p.Build(context.Background(), reifier.BuildProject{})
	require.NoError(t, err)

	for {
		env := awaitMessage(t, msgs, protocol.LogMessageType)
		m, err := protocol.Decode(env, protocol.ReadLogMessage)
		require.NoError(t, err)
		if strings.HasPrefix(m.Message, "Failed to refresh because") {
			assert.Contains(t, m.Message, preview_errors.ErrDependencyTimeout.Error())
			break
		}
	}
	assert.False(t, p.Cache().HasEntry(ReifyKey))
}

func awaitMessage(t *testing.T, sub *protocol.Subscription, typ string) protocol.Envelope {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case env, ok := <-sub.C:
			require.True(t, ok, "messages closed")
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s message", typ)
		}
	}
}

type fakeProcess struct {
	mu      sync.Mutex
	out     protocol.Sink
	accept  bool
	err     error
	updates []string
	calls   []string
}

func (f *fakeProcess) factory(ctx context.Context, out protocol.Sink) (command.Process, error) {
	f.out = out
	return f, nil
}

func (f *fakeProcess) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProcess) Build(ctx context.Context, args reifier.BuildProject) (string, error) {
	f.record("Build")
	return "App.preview.yaml", f.err
}

func (f *fakeProcess) Refresh(ctx context.Context) error {
	f.record("Refresh")
	return f.err
}

func (f *fakeProcess) Clean(ctx context.Context) error {
	f.record("Clean")
	return f.err
}

func (f *fakeProcess) TryUpdateAttribute(ctx context.Context, id protocol.ObjectIdentifier, property string, value *string) (bool, error) {
	f.record("TryUpdateAttribute")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id.String()+" "+property)
	return f.accept, f.err
}

func generated(gen int64, deps ...string) bytecode.BytecodeGenerated {
	m := bytecode.BytecodeGenerated{Generation: gen, Bytecode: bytecode.ProjectBytecode{
		Reify: bytecode.Lambda{Signature: bytecode.Action(bytecode.This)},
	}}
	for _, d := range deps {
		m.Bytecode.Dependencies = append(m.Bytecode.Dependencies, bytecode.ProjectDependency{Name: filepath.Base(d), Path: d})
	}
	return m
}

func updated(seq int, gen int64) bytecode.BytecodeUpdated {
	return bytecode.BytecodeUpdated{Sequence: seq, Generation: gen, Function: bytecode.Lambda{Signature: bytecode.Action()}}
}

func TestPipeline_IgnoresStalePrograms(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{})
	f := &fakeProcess{}
	p := open(t, path, Options{Process: f.factory})

	f.out.Send(generated(2))
	f.out.Send(generated(1))
	f.out.Send(updated(4, 1))
	f.out.Send(updated(5, 2))

	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(5)) }, waitFor, tick)
	assert.Equal(t, int64(2), reifyOf(t, p.Cache()).Generation)
	assert.False(t, p.Cache().HasEntry(UpdateKey(4)))
}

func TestPipeline_AbandonedReifyKeepsPublishedProgram(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{
		"logo.png": "png",
	})
	dir := filepath.Dir(path)
	logo := filepath.Join(dir, "logo.png")
	f := &fakeProcess{}
	p := open(t, path, Options{Process: f.factory, DependencyTimeout: 100 * time.Millisecond})
	msgs := p.Messages(64)
	defer msgs.Close()

	f.out.Send(generated(1, logo))
	f.out.Send(updated(1, 1))
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(1)) }, waitFor, tick)

	f.out.Send(generated(2, logo, filepath.Join(dir, "missing.png")))
	f.out.Send(updated(2, 2))
	// still a patch of the published program
	f.out.Send(updated(3, 1))

	for {
		env := awaitMessage(t, msgs, protocol.LogMessageType)
		m, err := protocol.Decode(env, protocol.ReadLogMessage)
		require.NoError(t, err)
		if strings.HasPrefix(m.Message, "Failed to refresh because") {
			break
		}
	}
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(3)) }, waitFor, tick)

	assert.Equal(t, int64(1), reifyOf(t, p.Cache()).Generation)
	assert.True(t, p.Cache().HasEntry(UpdateKey(1)))
	assert.False(t, p.Cache().HasEntry(UpdateKey(2)))
	assert.True(t, p.Cache().HasEntry(logo), "assets of the published program stay")
	assert.Equal(t, []string{logo, ReifyKey, UpdateKey(1), UpdateKey(3)}, p.Cache().Keys())

	// the next complete program replaces the patches all at once
	f.out.Send(generated(3))
	waitReify(t, p.Cache(), 3)
	assert.False(t, p.Cache().HasEntry(UpdateKey(1)))
	assert.False(t, p.Cache().HasEntry(UpdateKey(3)))
	assert.Eventually(t, func() bool { return !p.Cache().HasEntry(logo) }, waitFor, tick)
}

func TestPipeline_GenerationsSurviveRestart(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{})
	cacheDir := t.TempDir()

	f := &fakeProcess{}
	p := open(t, path, Options{Process: f.factory, CacheDir: cacheDir})
	f.out.Send(generated(5))
	f.out.Send(updated(1, 5))
	f.out.Send(updated(2, 5))
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(2)) }, waitFor, tick)
	require.NoError(t, p.Close())

	f = &fakeProcess{}
	p = open(t, path, Options{Process: f.factory, CacheDir: cacheDir})
	assert.Equal(t, []string{ReifyKey, UpdateKey(1), UpdateKey(2)}, p.Cache().Keys())

	// a fresh process counts from 1 again
	f.out.Send(generated(1))
	waitReify(t, p.Cache(), 6)
	assert.Equal(t, []string{ReifyKey}, p.Cache().Keys())

	f.out.Send(updated(1, 1))
	require.Eventually(t, func() bool { return p.Cache().HasEntry(UpdateKey(1)) }, waitFor, tick)
	e, _ := p.Cache().Entry(UpdateKey(1))
	m, err := protocol.Decode(*e.Blob, bytecode.ReadBytecodeUpdated)
	require.NoError(t, err)
	assert.Equal(t, int64(6), m.Generation)
}

func TestPipeline_InvalidBytecode(t *testing.T) {
	path := writeProject(t, plainProject, map[string]string{})
	f := &fakeProcess{}
	p := open(t, path, Options{Process: f.factory})

	f.out.Send(protocol.Envelope{Type: bytecode.BytecodeGeneratedType, Data: []byte{1, 2, 3}})
	require.Eventually(t, func() bool { return p.Cache().HasEntry(InvalidBytecodeKey) }, waitFor, tick)
	assert.False(t, p.Cache().HasEntry(ReifyKey))
}

type status struct {
	mu     sync.Mutex
	events []string
	retry  func()
}

func (s *status) Busy(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "busy "+message)
}

func (s *status) Ready() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "ready")
}

func (s *status) Error(title, details string, retry func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "error "+title)
	s.retry = retry
}

func (s *status) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return ""
	}
	return s.events[len(s.events)-1]
}

func (f *fakeProcess) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testDocument() (*markup.Document, *markup.Element) {
	text := markup.NewElement("Text", markup.Attribute{Name: "Value", Value: "hi"})
	root := markup.NewElement("App")
	root.AddChild(text)
	doc := &markup.Document{Path: "MainView.ux", Root: root}
	doc.AssignIDs()
	return doc, text
}

func TestController_FastPathUntilRejected(t *testing.T) {
	ctx := context.Background()
	f := &fakeProcess{accept: true}
	s := &status{}
	c := NewController(f, s)
	_, text := testDocument()

	// nothing reified yet
	assert.True(t, c.NeedsFlush())
	c.ElementAttributeChanged(ctx, text, "Value")
	assert.Empty(t, f.called())

	c.Build(ctx)
	assert.Equal(t, "ready", s.last())
	assembly, ok := c.AvailableBuild()
	assert.True(t, ok)
	assert.Equal(t, "App.preview.yaml", assembly)
	assert.False(t, c.NeedsFlush())

	c.ElementAttributeChanged(ctx, text, "Value")
	assert.False(t, c.NeedsFlush())
	assert.Equal(t, []string{"MainView.ux:1 Value"}, f.updates)

	f.mu.Lock()
	f.accept = false
	f.mu.Unlock()
	c.ElementAttributeChanged(ctx, text, "Value")
	assert.True(t, c.NeedsFlush())

	// stale until flushed
	c.ElementAttributeChanged(ctx, text, "Value")
	assert.Len(t, f.updates, 2)

	c.Flush(ctx)
	assert.False(t, c.NeedsFlush())
	assert.Equal(t, []string{"Build", "TryUpdateAttribute", "TryUpdateAttribute", "Refresh"}, f.called())
	assert.Equal(t, "ready", s.last())
}

func TestController_StructuralChangesRemap(t *testing.T) {
	ctx := context.Background()
	f := &fakeProcess{accept: true}
	c := NewController(f, &status{})
	c.Build(ctx)
	doc, text := testDocument()

	added := markup.NewElement("Panel")
	doc.Root.InsertChild(0, added)
	c.ElementChildrenChanged(doc)
	assert.True(t, c.NeedsFlush())
	assert.Equal(t, protocol.UnknownObject, added.ID)

	c.Flush(ctx)
	assert.False(t, c.NeedsFlush())
	assert.Equal(t, protocol.ObjectIdentifier{Document: "MainView.ux", Index: 1}, added.ID)
	assert.Equal(t, protocol.ObjectIdentifier{Document: "MainView.ux", Index: 2}, text.ID)

	c.ElementNameChanged(text)
	assert.True(t, c.NeedsFlush())
}

func TestController_Failures(t *testing.T) {
	ctx := context.Background()
	f := &fakeProcess{err: preview_errors.ErrCantReify}
	s := &status{}
	c := NewController(f, s)

	c.Build(ctx)
	assert.Equal(t, "error Failed to build project", s.last())
	assert.NotNil(t, s.retry)
	_, ok := c.AvailableBuild()
	assert.False(t, ok)

	c.Flush(ctx)
	assert.Equal(t, "error Auto-reload failed", s.last())
	assert.Nil(t, s.retry)
	assert.True(t, c.NeedsFlush())

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	c.Refresh(ctx)
	assert.Equal(t, "ready", s.last())
}

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))
}
