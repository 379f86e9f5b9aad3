package preview

import (
	"context"
	"sync"

	"github.com/lorents/fuse-studio/command"
	"github.com/lorents/fuse-studio/markup"
	"github.com/lorents/fuse-studio/reifier"
)

// Status is where a Controller reports progress.
type Status interface {
	Busy(message string)
	Ready()
	// Error reports a failure; retry, when not nil, repeats the operation.
	Error(title, details string, retry func())
}

// Controller turns editor changes into preview operations. Attribute edits
// take the fast path while it keeps succeeding; anything else, or the first
// rejected edit, leaves the preview stale until Flush.
type Controller struct {
	preview command.Process
	status  Status

	// BuildOptions are passed to every Build.
	BuildOptions reifier.BuildProject

	mu         sync.Mutex
	needsFlush bool
	toRemap    map[*markup.Document]struct{}
	assembly   string
}

func NewController(p command.Process, status Status) *Controller {
	return &Controller{
		preview:    p,
		status:     status,
		needsFlush: true,
		toRemap:    make(map[*markup.Document]struct{}),
	}
}

func (c *Controller) NeedsFlush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsFlush
}

// AvailableBuild is the assembly of the last successful Build.
func (c *Controller) AvailableBuild() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assembly, c.assembly != ""
}

func (c *Controller) Build(ctx context.Context) {
	c.status.Busy("Building...")
	assembly, err := c.preview.Build(ctx, c.BuildOptions)
	if err != nil {
		c.status.Error("Failed to build project", err.Error(), func() { c.Build(ctx) })
		return
	}
	c.mu.Lock()
	c.assembly = assembly
	// a successful build reifies
	c.remapLocked()
	c.mu.Unlock()
	c.status.Ready()
}

func (c *Controller) Clean(ctx context.Context) {
	c.status.Busy("Cleaning...")
	c.mu.Lock()
	c.assembly = ""
	c.mu.Unlock()
	if err := c.preview.Clean(ctx); err != nil {
		c.status.Error("Failed to clean project", err.Error(), func() { c.Clean(ctx) })
		return
	}
	c.status.Ready()
}

func (c *Controller) Refresh(ctx context.Context) {
	c.status.Busy("Refreshing...")
	if err := c.preview.Refresh(ctx); err != nil {
		c.status.Error("Failed to refresh preview", err.Error(), func() { c.Refresh(ctx) })
		return
	}
	c.status.Ready()
}

// ElementAttributeChanged patches the preview unless it is already stale.
func (c *Controller) ElementAttributeChanged(ctx context.Context, e *markup.Element, attribute string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.needsFlush {
		return
	}
	var value *string
	if v, ok := e.Attribute(attribute); ok {
		value = &v
	}
	ok, err := c.preview.TryUpdateAttribute(ctx, e.ID, attribute, value)
	c.needsFlush = err != nil || !ok
}

// ElementChildrenChanged marks doc for identifier reassignment; its
// identifiers are stale until the next Flush.
func (c *Controller) ElementChildrenChanged(doc *markup.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toRemap[doc] = struct{}{}
	c.needsFlush = true
}

func (c *Controller) ElementNameChanged(*markup.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needsFlush = true
}

// Flush refreshes a stale preview and renumbers the changed documents to
// match the new reify.
func (c *Controller) Flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.needsFlush {
		return
	}

	c.status.Busy("Reloading...")
	if err := c.preview.Refresh(ctx); err != nil {
		c.status.Error("Auto-reload failed", err.Error(), nil)
		return
	}
	c.remapLocked()
	c.status.Ready()
}

func (c *Controller) remapLocked() {
	for doc := range c.toRemap {
		doc.AssignIDs()
	}
	clear(c.toRemap)
	c.needsFlush = false
}
