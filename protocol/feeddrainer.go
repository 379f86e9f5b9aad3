package protocol

import (
	"context"
	"io"
)

// Feeder produces outgoing frames. The EoF convention follows that of
// io.Reader: either `records, EoF` or `records, nil` followed by
// `nil/{}, EoF`.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

// Drainer consumes incoming frames.
type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

// Traced is an interface for objects that can provide a trace ID
// for debugging and monitoring purposes.
type Traced interface {
	GetTraceId() string
}

type FeedDrainCloserTraced interface {
	FeedDrainCloser
	Traced
}

// Relay performs a single feed-drain operation between a feeder and drainer.
func Relay(ctx context.Context, feeder Feeder, drainer Drainer) error {
	recs, err := feeder.Feed(ctx)
	if err != nil {
		if len(recs) > 0 {
			_ = drainer.Drain(ctx, recs)
		}
		return err
	}
	return drainer.Drain(ctx, recs)
}

// PumpCtx relays frames until either side fails or ctx is done.
func PumpCtx(ctx context.Context, feeder Feeder, drainer Drainer) (err error) {
	for err == nil && ctx.Err() == nil {
		err = Relay(ctx, feeder, drainer)
	}
	return
}

// EnvelopeDrainer adapts a per-envelope callback to Drainer.
type EnvelopeDrainer func(ctx context.Context, env Envelope) error

func (f EnvelopeDrainer) Drain(ctx context.Context, recs Records) error {
	for _, rec := range recs {
		env, err := ParseRecord(rec)
		if err != nil {
			return err
		}
		if err := f(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
