package preview

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/cache"
	"github.com/lorents/fuse-studio/project"
	"github.com/lorents/fuse-studio/protocol"
)

// Cache keys of the programs.
const (
	ReifyKey           = bytecode.BytecodeGeneratedType
	InvalidBytecodeKey = "invalid-byte-code"
)

// UpdateKey is the cache key of the patch with the given sequence number.
func UpdateKey(sequence int) string {
	return bytecode.BytecodeUpdatedType + strconv.Itoa(sequence)
}

// pipeline moves programs from the process into the cache, one at a time
// and in the order the process sent them. Generations in the cache are the
// process generations plus base, so they keep growing across host restarts
// that restore a cache.
type pipeline struct {
	p  *ProjectPreview
	in chan protocol.Envelope

	// owned by run
	base       int64
	generation int64
	deps       []string
	updateKeys []string
}

func newPipeline(p *ProjectPreview) *pipeline {
	return &pipeline{p: p, in: make(chan protocol.Envelope, messageBuffer)}
}

// restore adopts the programs c already holds: their patches are
// tombstoned by the next reify and new generations count on from theirs.
func (pl *pipeline) restore(c *cache.Cache) {
	for _, key := range c.Keys() {
		e, _ := c.Entry(key)
		switch {
		case key == ReifyKey:
			if m, err := protocol.Decode(*e.Blob, bytecode.ReadBytecodeGenerated); err == nil {
				pl.base = max(pl.base, m.Generation)
				pl.deps = m.Bytecode.DependencyPaths()
			}
		case strings.HasPrefix(key, bytecode.BytecodeUpdatedType):
			pl.updateKeys = append(pl.updateKeys, key)
			if m, err := protocol.Decode(*e.Blob, bytecode.ReadBytecodeUpdated); err == nil {
				pl.base = max(pl.base, m.Generation)
			}
		}
	}
	pl.generation = pl.base
}

func (pl *pipeline) push(env protocol.Envelope) {
	switch env.Type {
	case bytecode.BytecodeGeneratedType, bytecode.BytecodeUpdatedType:
	default:
		return
	}
	select {
	case pl.in <- env:
	case <-pl.p.ctx.Done():
	}
}

func (pl *pipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-pl.in:
			switch env.Type {
			case bytecode.BytecodeGeneratedType:
				pl.reify(ctx, env)
			case bytecode.BytecodeUpdatedType:
				pl.update(env)
			}
		}
	}
}

// reify publishes a program once its assets are in the cache. Until then
// the published program, its patches and its assets stay as they are.
func (pl *pipeline) reify(ctx context.Context, env protocol.Envelope) {
	log := pl.p.log
	msg, err := protocol.Decode(env, bytecode.ReadBytecodeGenerated)
	if err != nil {
		log.Error("pipeline: invalid bytecode", "err", err)
		PipelineOutcomes.WithLabelValues("invalid").Inc()
		pl.p.cache.Add(cache.Put(InvalidBytecodeKey, bytecode.BytecodeUpdated{
			Generation: pl.generation,
			Function:   bytecode.Lambda{Signature: bytecode.Action()},
		}))
		return
	}
	generation := pl.base + msg.Generation
	if generation <= pl.generation {
		log.Debug("pipeline: stale reify dropped", "generation", generation, "current", pl.generation)
		PipelineOutcomes.WithLabelValues("stale").Inc()
		return
	}

	deps := msg.Bytecode.DependencyPaths()
	pl.p.assets.SetFiles(protocol.DependencyFile, union(pl.deps, deps))

	wait := make([]string, 0, len(deps))
	for _, d := range deps {
		wait = append(wait, project.Key(protocol.DependencyFile, d))
	}
	wait = append(wait, pl.p.requiredAssets()...)
	wctx, cancel := context.WithTimeout(ctx, pl.p.opts.DependencyTimeout)
	defer cancel()
	if err := pl.p.cache.WaitFor(wctx, wait...); err != nil {
		if ctx.Err() != nil {
			return
		}
		pl.p.assets.SetFiles(protocol.DependencyFile, pl.deps)
		err = errDependencies(err)
		log.Error("pipeline: reify abandoned", "generation", generation, "err", err)
		PipelineOutcomes.WithLabelValues("timeout").Inc()
		pl.p.messages.Send(protocol.LogMessage{
			BuildID: msg.ID,
			Message: "Failed to refresh because: " + err.Error(),
		})
		return
	}

	// earlier patches target a tree this reify replaces
	for _, key := range pl.updateKeys {
		pl.p.cache.Add(cache.Tombstone(key))
	}
	pl.updateKeys = nil
	pl.generation = generation
	if pl.base != 0 {
		msg.Generation = generation
		env = protocol.Encode(msg)
	}
	pl.p.cache.Add(cache.Put(ReifyKey, env))
	pl.p.assets.SetFiles(protocol.DependencyFile, deps)
	pl.deps = deps
	PipelineOutcomes.WithLabelValues("reify").Inc()
	log.Info("pipeline: reify published", "generation", generation, "dependencies", len(deps))
}

// update publishes a patch of the published program. Patches of any other
// program, older or abandoned, are dropped.
func (pl *pipeline) update(env protocol.Envelope) {
	msg, err := protocol.Decode(env, bytecode.ReadBytecodeUpdated)
	if err != nil {
		pl.p.log.Error("pipeline: invalid update", "err", err)
		PipelineOutcomes.WithLabelValues("invalid").Inc()
		return
	}
	generation := pl.base + msg.Generation
	if generation != pl.generation {
		pl.p.log.Debug("pipeline: patch dropped", "seq", msg.Sequence, "generation", generation, "current", pl.generation)
		PipelineOutcomes.WithLabelValues("stale").Inc()
		return
	}
	if pl.base != 0 {
		msg.Generation = generation
		env = protocol.Encode(msg)
	}
	key := UpdateKey(msg.Sequence)
	pl.updateKeys = append(pl.updateKeys, key)
	pl.p.cache.Add(cache.Put(key, env))
	PipelineOutcomes.WithLabelValues("update").Inc()
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
