// Package preview hosts a live preview of one project.
//
// A ProjectPreview drives a reifier process through Build, Refresh, Clean
// and TryUpdateAttribute. The programs the process emits go through a
// pipeline into a coalescing cache, together with the asset files they
// depend on, and every viewer connected to the preview socket gets a
// replay of that cache followed by everything added to it.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/lorents/fuse-studio/cache"
	"github.com/lorents/fuse-studio/command"
	"github.com/lorents/fuse-studio/network"
	"github.com/lorents/fuse-studio/preview_errors"
	"github.com/lorents/fuse-studio/project"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
	"github.com/lorents/fuse-studio/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultListenAddr        = "tcp://127.0.0.1:0"
	DefaultDependencyTimeout = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second

	messageBuffer = 1024
)

// ProcessFactory starts the reifier. Everything the process reports must
// be sent to out. A process implementing io.Closer is closed with the
// preview.
type ProcessFactory func(ctx context.Context, out protocol.Sink) (command.Process, error)

// InProcess runs the reifier inside the host.
func InProcess(opts reifier.Options) ProcessFactory {
	return func(ctx context.Context, out protocol.Sink) (command.Process, error) {
		opts.Output = out
		return reifier.New(opts), nil
	}
}

// Spawned runs the reifier as `<exe> start <guid>` and talks to it over the
// command and messages streams in dir.
func Spawned(exe, dir string, log utils.Logger) ProcessFactory {
	return func(ctx context.Context, out protocol.Sink) (command.Process, error) {
		remote, err := command.Spawn(ctx, exe, dir, log)
		if err != nil {
			return nil, err
		}
		go func() {
			err := command.ReadMessages(ctx, remote.Messages, func(env protocol.Envelope) {
				out.Send(env)
			})
			if err != nil && !errors.Is(err, net.ErrClosed) {
				log.Warn("preview: messages stream broken", "err", err)
			}
		}()
		return remote, nil
	}
}

type Options struct {
	ListenAddr        string
	CacheDir          string
	DependencyTimeout time.Duration
	WriteTimeout      time.Duration
	PollInterval      time.Duration
	Logger            utils.Logger
	Registerer        prometheus.Registerer
	Process           ProcessFactory

	ClientAdded   func(reg protocol.RegisterName)
	ClientRemoved func(deviceID string)
}

func (o *Options) SetDefaults() {
	if o.ListenAddr == "" {
		o.ListenAddr = DefaultListenAddr
	}
	if o.DependencyTimeout == 0 {
		o.DependencyTimeout = DefaultDependencyTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = project.DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.Process == nil {
		o.Process = InProcess(reifier.Options{Logger: o.Logger})
	}
}

type ProjectPreview struct {
	opts        Options
	log         utils.Logger
	projectPath string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cache    *cache.Cache
	store    *cache.Store
	messages *protocol.Broadcaster
	pipeline *pipeline
	process  command.Process

	watcher     *project.Watcher
	repo        *project.Repository
	projectFile *project.Document
	assets      *project.AssetsWatcher
	assetsMu    sync.Mutex
	assetKeys   []string

	net     *network.Net
	clients *xsync.MapOf[string, protocol.RegisterName]

	closeOnce sync.Once
}

// New opens a preview of the project file at projectPath and starts
// listening for viewers.
func New(projectPath string, opts Options) (_ *ProjectPreview, err error) {
	opts.SetDefaults()
	projectPath, err = filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ProjectPreview{
		opts:        opts,
		log:         opts.Logger,
		projectPath: projectPath,
		ctx:         ctx,
		cancel:      cancel,
		cache:       cache.New(opts.Logger),
		messages:    protocol.NewBroadcaster(),
		clients:     xsync.NewMapOf[string, protocol.RegisterName](),
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	if opts.Registerer != nil {
		if err := RegisterMetrics(opts.Registerer); err != nil {
			p.log.Warn("preview: metrics not registered", "err", err)
		}
	}
	if opts.CacheDir != "" {
		if p.store, err = cache.OpenStore(opts.CacheDir); err != nil {
			return nil, err
		}
		if err = p.cache.Restore(p.store); err != nil {
			return nil, err
		}
		p.cache.Persist(p.store)
		if opts.Registerer != nil {
			opts.Registerer.Register(p.store.Collector())
		}
	}

	p.watcher = project.NewWatcher(p.log, opts.PollInterval)
	p.repo = project.NewRepository(p.log, p.watcher)
	if p.projectFile, err = p.repo.OpenBinary(projectPath); err != nil {
		return nil, fmt.Errorf("preview: open project: %w", err)
	}
	p.assets = project.NewAssetsWatcher(p.log, p.cache, p.watcher)
	p.pipeline = newPipeline(p)
	p.pipeline.restore(p.cache)
	p.assets.SetFiles(protocol.DependencyFile, p.pipeline.deps)

	p.process, err = opts.Process(ctx, protocol.SinkFunc(p.fromProcess))
	if err != nil {
		return nil, fmt.Errorf("preview: start process: %w", err)
	}

	p.net = network.NewNet(p.log, p.installSession, func(string, protocol.Traced) {},
		&network.NetWriteTimeoutOpt{Timeout: opts.WriteTimeout})
	if err = p.net.Listen(opts.ListenAddr); err != nil {
		return nil, err
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.pipeline.run(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.followProject(ctx)
	}()
	return p, nil
}

// fromProcess receives every message the reifier reports.
func (p *ProjectPreview) fromProcess(m protocol.Message) error {
	env := protocol.Encode(m)
	p.messages.Publish(env)
	p.pipeline.push(env)
	return nil
}

func (p *ProjectPreview) installSession(name string) protocol.FeedDrainCloserTraced {
	return network.NewSession(name, p.cache, network.SessionHooks{
		Upstream: func(ctx context.Context, env protocol.Envelope) error {
			p.messages.Publish(env)
			return nil
		},
		ClientAdded: func(reg protocol.RegisterName) {
			p.clients.Store(reg.DeviceID, reg)
			ClientsConnected.Inc()
			if p.opts.ClientAdded != nil {
				p.opts.ClientAdded(reg)
			}
		},
		ClientRemoved: func(deviceID string) {
			p.clients.Delete(deviceID)
			ClientsConnected.Dec()
			if p.opts.ClientRemoved != nil {
				p.opts.ClientRemoved(deviceID)
			}
		},
	}, p.log)
}

// followProject keeps the bundle and script assets in line with the
// project file.
func (p *ProjectPreview) followProject(ctx context.Context) {
	for {
		data, changed := p.projectFile.Contents()
		if proj, err := project.Parse(p.projectPath, data); err != nil {
			p.log.Warn("preview: can't parse project file", "path", p.projectPath, "err", err)
		} else {
			p.scanAssets(proj)
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

func (p *ProjectPreview) scanAssets(proj *project.Project) {
	bundle, err := proj.BundleFiles()
	if err != nil {
		p.log.Warn("preview: can't list bundle files", "err", err)
		return
	}
	scripts, err := proj.FuseJsFiles()
	if err != nil {
		p.log.Warn("preview: can't list script files", "err", err)
		return
	}
	keys := make([]string, 0, len(bundle)+len(scripts))
	for _, f := range bundle {
		keys = append(keys, project.Key(protocol.BundleFile, f))
	}
	for _, f := range scripts {
		keys = append(keys, project.Key(protocol.ScriptFile, f))
	}

	p.assetsMu.Lock()
	defer p.assetsMu.Unlock()
	p.assets.SetFiles(protocol.BundleFile, bundle)
	p.assets.SetFiles(protocol.ScriptFile, scripts)
	p.assetKeys = keys
}

// requiredAssets are the cache keys of the bundle and script files every
// program waits for.
func (p *ProjectPreview) requiredAssets() []string {
	p.assetsMu.Lock()
	defer p.assetsMu.Unlock()
	return append([]string(nil), p.assetKeys...)
}

// Build builds the project with the process and refreshes the preview.
// The project path and output directory default to the previewed project.
func (p *ProjectPreview) Build(ctx context.Context, args reifier.BuildProject) (string, error) {
	if args.ProjectPath == "" {
		args.ProjectPath = p.projectPath
	}
	proj, err := project.Load(args.ProjectPath)
	if err != nil {
		return "", err
	}
	if args.ProjectPath == p.projectPath {
		p.scanAssets(proj)
	}
	if args.OutputDir == "" {
		args.OutputDir = filepath.Join(proj.BuildOutputDirectory(), "Local", "Designer")
	}
	return p.process.Build(ctx, args)
}

func (p *ProjectPreview) Refresh(ctx context.Context) error {
	if proj, err := project.Load(p.projectPath); err == nil {
		p.scanAssets(proj)
	}
	return p.process.Refresh(ctx)
}

func (p *ProjectPreview) Clean(ctx context.Context) error {
	return p.process.Clean(ctx)
}

func (p *ProjectPreview) TryUpdateAttribute(ctx context.Context, id protocol.ObjectIdentifier, property string, value *string) (bool, error) {
	return p.process.TryUpdateAttribute(ctx, id, property, value)
}

// Messages subscribes to everything the process and the viewers report.
// A subscriber that falls more than buffer messages behind loses messages.
func (p *ProjectPreview) Messages(buffer int) *protocol.Subscription {
	if buffer <= 0 {
		buffer = messageBuffer
	}
	return p.messages.Subscribe(buffer)
}

// Cache is what viewers are served.
func (p *ProjectPreview) Cache() *cache.Cache {
	return p.cache
}

// Clients lists the registered viewers.
func (p *ProjectPreview) Clients() []protocol.RegisterName {
	var list []protocol.RegisterName
	p.clients.Range(func(_ string, reg protocol.RegisterName) bool {
		list = append(list, reg)
		return true
	})
	return list
}

// Port is the TCP port viewers connect to.
func (p *ProjectPreview) Port() int {
	if addr, ok := p.net.Addr(p.opts.ListenAddr).(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// SessionHandler serves viewers over websocket.
func (p *ProjectPreview) SessionHandler() *network.WebsocketHandler {
	return network.NewWebsocketHandler(p.log, p.installSession, func(string, protocol.Traced) {}, p.opts.WriteTimeout)
}

func (p *ProjectPreview) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		if p.net != nil {
			p.net.Close()
		}
		if c, ok := p.process.(interface{ Close() error }); ok {
			err = c.Close()
		}
		if p.assets != nil {
			p.assets.Close()
		}
		if p.repo != nil {
			p.repo.Close()
		}
		p.wg.Wait()
		if p.watcher != nil {
			p.watcher.Wait()
		}
		p.messages.Close()
		if p.store != nil {
			err = errors.Join(err, p.store.Close())
		}
	})
	return err
}

var _ command.Process = (*ProjectPreview)(nil)

// errDependencies wraps a dependency wait failure.
func errDependencies(err error) error {
	return fmt.Errorf("%w: %w", preview_errors.ErrDependencyTimeout, err)
}
