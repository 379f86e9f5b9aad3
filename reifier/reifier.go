// Package reifier turns a project's markup into reify programs and small
// attribute edits into patch programs.
//
// A Reifier is driven through four operations: Build, Refresh, Clean and
// TryUpdateAttribute. Programs are sent to the output sink; callers decide
// where they go from there.
package reifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/markup"
	"github.com/lorents/fuse-studio/preview_errors"
	"github.com/lorents/fuse-studio/project"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
	"github.com/pkg/errors"
)

type Options struct {
	Builder        Builder
	Output         protocol.Sink
	Logger         utils.Logger
	ParseCacheSize int
	// OnState, if set, sees every state transition.
	OnState func(State)
}

func (o *Options) SetDefaults() {
	if o.Builder == nil {
		o.Builder = LocalBuilder{}
	}
	if o.Output == nil {
		o.Output = protocol.SinkFunc(func(protocol.Message) error { return nil })
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.ParseCacheSize == 0 {
		o.ParseCacheSize = 256
	}
}

type reifyStrategy interface {
	generateReify(ctx context.Context, dir string, paths []string, generation int64) (*canUpdate, bytecode.ProjectBytecode, error)
}

type cantReify struct{}

func (cantReify) generateReify(context.Context, string, []string, int64) (*canUpdate, bytecode.ProjectBytecode, error) {
	return nil, bytecode.ProjectBytecode{}, preview_errors.ErrCantReify
}

type canReify struct {
	build  *ProjectBuild
	parser *parser
	state  func(State)
}

func (c *canReify) generateReify(ctx context.Context, dir string, paths []string, generation int64) (*canUpdate, bytecode.ProjectBytecode, error) {
	c.state(Parsing)
	docs, err := c.parser.parseAll(ctx, paths)
	if err != nil {
		c.state(ParseFailed)
		return nil, bytecode.ProjectBytecode{}, errors.Wrap(err, "parse")
	}
	c.state(Parsed)

	p := &markup.Project{Directory: dir, Documents: docs}
	ids := p.Identify()
	c.state(CodeGenerating)
	bc, g, err := generate(p, c.build.Types, ids)
	if err != nil {
		c.state(CodeGenFailed)
		return nil, bytecode.ProjectBytecode{}, errors.Wrap(err, "codegen")
	}
	return &canUpdate{generation: generation, ids: ids, gen: g}, bc, nil
}

type reifySlot struct{ s reifyStrategy }
type updateSlot struct{ u updater }

type Reifier struct {
	log    utils.Logger
	opts   Options
	parser *parser

	// mu serializes the operations; the slots can be read without it.
	mu          sync.Mutex
	projectPath string
	outputDir   string

	reifier    atomic.Pointer[reifySlot]
	updater    atomic.Pointer[updateSlot]
	state      atomic.Int32
	generation atomic.Int64
	sequence   atomic.Int64
}

func New(opts Options) *Reifier {
	opts.SetDefaults()
	r := &Reifier{
		log:    opts.Logger,
		opts:   opts,
		parser: newParser(opts.ParseCacheSize),
	}
	r.reifier.Store(&reifySlot{cantReify{}})
	r.updater.Store(&updateSlot{cantUpdate{}})
	return r
}

func (r *Reifier) State() State {
	return State(r.state.Load())
}

// Generation is the generation of the latest reify attempt.
func (r *Reifier) Generation() int64 {
	return r.generation.Load()
}

func (r *Reifier) setState(s State) {
	r.state.Store(int32(s))
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

// Build builds the project and, when that works, reifies it. It returns
// the path of the built assembly.
func (r *Reifier) Build(ctx context.Context, args BuildProject) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if args.ID == uuid.Nil {
		args.ID = uuid.New()
	}
	build, err := r.opts.Builder.TryBuild(ctx, args, func(line string) {
		r.send(protocol.LogMessage{BuildID: args.ID, Message: line})
	})
	if err != nil {
		r.reifier.Store(&reifySlot{cantReify{}})
		r.log.Warn("reifier: build failed", "project", args.ProjectPath, "err", err)
		r.send(protocol.LogMessage{BuildID: args.ID, Message: err.Error()})
		return "", fmt.Errorf("%w: build: %w", preview_errors.ErrCantReify, err)
	}

	r.reifier.Store(&reifySlot{&canReify{build: build, parser: r.parser, state: r.setState}})
	r.projectPath = args.ProjectPath
	r.outputDir = build.OutputDir
	r.send(protocol.AssemblyBuilt{BuildID: args.ID, Assembly: build.Assembly})

	return build.Assembly, r.refresh(ctx)
}

// Refresh reifies the project of the last successful build and sends the
// program. Without a build it does nothing.
func (r *Reifier) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh(ctx)
}

func (r *Reifier) refresh(ctx context.Context) error {
	if r.projectPath == "" {
		return nil
	}
	start := time.Now()
	id := uuid.New()
	generation := r.generation.Add(1)

	ready, bc, err := r.reify(ctx, generation)
	if err != nil {
		r.updater.Store(&updateSlot{cantUpdate{}})
		r.report(id, err)
		ReifyDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		if errors.Is(err, preview_errors.ErrCantReify) {
			return err
		}
		return fmt.Errorf("%w: %w", preview_errors.ErrCantReify, err)
	}

	if err := r.opts.Output.Send(bytecode.BytecodeGenerated{ID: id, Generation: generation, Bytecode: bc}); err != nil {
		r.updater.Store(&updateSlot{cantUpdate{}})
		return errors.Wrap(err, "send reify")
	}
	r.updater.Store(&updateSlot{ready})
	r.setState(Published)
	ReifyDuration.WithLabelValues("published").Observe(time.Since(start).Seconds())
	r.log.Debug("reifier: published", "generation", generation, "elements", len(bc.Metadata.Elements))
	return nil
}

func (r *Reifier) reify(ctx context.Context, generation int64) (*canUpdate, bytecode.ProjectBytecode, error) {
	proj, err := project.Load(r.projectPath)
	if err != nil {
		return nil, bytecode.ProjectBytecode{}, errors.Wrap(err, "load project")
	}
	paths, err := proj.UxFiles()
	if err != nil {
		return nil, bytecode.ProjectBytecode{}, err
	}
	return r.reifier.Load().s.generateReify(ctx, proj.RootDirectory(), paths, generation)
}

// report turns a reify failure into messages for whoever shows errors.
func (r *Reifier) report(id uuid.UUID, err error) {
	r.log.Warn("reifier: reify failed", "err", err)
	var pe *markup.ParseError
	var se *SourceError
	switch {
	case errors.As(err, &pe):
		r.send(protocol.MarkupError{BuildID: id, Source: pe.Source, Message: pe.Err.Error()})
	case errors.As(err, &se):
		r.send(protocol.MarkupError{BuildID: id, Source: se.Source, Message: se.Err.Error()})
	default:
		r.send(protocol.LogMessage{BuildID: id, Message: err.Error()})
	}
}

func (r *Reifier) send(m protocol.Message) {
	if err := r.opts.Output.Send(m); err != nil {
		r.log.Warn("reifier: can't send message", "type", m.MessageType(), "err", err)
	}
}

// Clean forgets the build and removes its output.
func (r *Reifier) Clean(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reifier.Store(&reifySlot{cantReify{}})
	r.updater.Store(&updateSlot{cantUpdate{}})
	r.setState(Idle)
	if r.outputDir == "" {
		return nil
	}
	dir := r.outputDir
	r.outputDir = ""
	return os.RemoveAll(dir)
}

// TryUpdateAttribute patches one attribute of a reified element without a
// full reify. It reports false when the change needs a reify instead.
func (r *Reifier) TryUpdateAttribute(ctx context.Context, id protocol.ObjectIdentifier, property string, value *string) (bool, error) {
	return r.Update(ctx, protocol.UpdateAttribute{
		ID:       uuid.New(),
		Object:   id,
		Property: property,
		Value:    value,
		Source:   protocol.SourceReference{File: "N/A"},
	})
}

func (r *Reifier) Update(ctx context.Context, args protocol.UpdateAttribute) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	published := r.State() == Published
	if published {
		r.setState(Patching)
	}
	fn, generation, reason := r.updater.Load().u.generateUpdate(args)
	if reason != "" {
		UpdateOutcomes.WithLabelValues(reason).Inc()
		if published {
			r.setState(PatchRejected)
			r.setState(Published)
		}
		return false, nil
	}

	seq := r.sequence.Add(1)
	if err := r.opts.Output.Send(bytecode.BytecodeUpdated{Sequence: int(seq), Generation: generation, Function: fn}); err != nil {
		if published {
			r.setState(Published)
		}
		return false, errors.Wrap(err, "send update")
	}
	UpdateOutcomes.WithLabelValues("accepted").Inc()
	if published {
		r.setState(PatchPublished)
		r.setState(Published)
	}
	return true, nil
}
