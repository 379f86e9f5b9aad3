package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lorents/fuse-studio/preview_errors"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Client invokes a remote Process. Calls block until the response arrives
// and at most one is in flight. A call that fails without a response, by
// cancellation or a broken stream, leaves the stream out of step, so the
// client closes it and every later call returns ErrClosed.
type Client struct {
	mu     sync.Mutex
	w      io.Writer
	r      *protocol.Reader
	broken error
}

func NewClient(rw io.ReadWriter) *Client {
	return &Client{w: rw, r: protocol.NewReader(rw)}
}

func (c *Client) call(ctx context.Context, call Call) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil, c.broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := c.w.(deadliner); ok {
		deadline, _ := ctx.Deadline()
		d.SetDeadline(deadline)
		if ctx.Done() != nil {
			stop := interrupt(ctx, d)
			defer stop()
		}
	}
	w := protocol.NewWriter(nil)
	if err := call.writeTo(w); err != nil {
		return nil, err
	}
	if _, err := c.w.Write(w.Bytes()); err != nil {
		clientCalls.WithLabelValues(call.Kind.String(), "broken").Inc()
		return nil, c.fail(ctx, err)
	}
	v, err := readResponse(c.r)
	switch err.(type) {
	case nil:
		clientCalls.WithLabelValues(call.Kind.String(), "ok").Inc()
	case *RemoteError:
		clientCalls.WithLabelValues(call.Kind.String(), "remote_error").Inc()
	default:
		clientCalls.WithLabelValues(call.Kind.String(), "broken").Inc()
		return nil, c.fail(ctx, err)
	}
	return v, err
}

// interrupt expires the deadline of d once ctx is done, failing any read
// or write in progress. stop returns after the watcher has exited.
func interrupt(ctx context.Context, d deadliner) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			d.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (c *Client) fail(ctx context.Context, err error) error {
	cerr := ctx.Err()
	if dl, ok := ctx.Deadline(); ok && cerr == nil && !time.Now().Before(dl) {
		// the stream deadline can fire before the context's own timer
		cerr = context.DeadlineExceeded
	}
	if cerr != nil && !errors.Is(err, cerr) {
		err = errors.Join(cerr, err)
	}
	c.broken = fmt.Errorf("%w: %w", preview_errors.ErrClosed, err)
	if cl, ok := c.w.(io.Closer); ok {
		cl.Close()
	}
	return c.broken
}

func (c *Client) Build(ctx context.Context, args reifier.BuildProject) (string, error) {
	v, err := c.call(ctx, Call{Kind: Build, Args: args})
	if err != nil {
		return "", err
	}
	return protocol.ValueAs[string](v)
}

func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.call(ctx, Call{Kind: Refresh})
	return err
}

func (c *Client) Clean(ctx context.Context) error {
	_, err := c.call(ctx, Call{Kind: Clean})
	return err
}

func (c *Client) TryUpdateAttribute(ctx context.Context, id protocol.ObjectIdentifier, property string, value *string) (bool, error) {
	v, err := c.call(ctx, Call{Kind: TryUpdateAttribute, ID: id, Property: property, Value: value})
	if err != nil {
		return false, err
	}
	return protocol.ValueAs[bool](v)
}
