package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

// Serve answers requests read from rw one at a time until the stream ends
// or ctx is done. A clean EOF between requests returns nil.
func Serve(ctx context.Context, rw io.ReadWriter, process Process, log utils.Logger) error {
	r := protocol.NewReader(rw)
	for ctx.Err() == nil {
		method, err := r.NextString()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		kind, err := ParseKind(method)
		if err != nil {
			// the arguments of an unknown method cannot be skipped
			log.WarnCtx(ctx, "command: unknown method", "method", method)
			w := protocol.NewWriter(nil)
			writeFailure(w, KindNotSupported, err.Error())
			rw.Write(w.Bytes())
			return err
		}
		call, err := readArgs(r, kind)
		if r.Err() != nil {
			return r.Err()
		}
		w := protocol.NewWriter(nil)
		if err != nil {
			writeFailure(w, KindNotSupported, err.Error())
		} else {
			start := time.Now()
			result, err := invoke(ctx, process, call)
			callDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
			if err != nil {
				log.DebugCtx(ctx, "command: call failed", "method", method, "err", err)
				if re, ok := err.(*RemoteError); ok {
					writeFailure(w, re.Kind, re.Message)
				} else {
					writeFailure(w, errorKind(err), err.Error())
				}
			} else if err := writeResult(w, result); err != nil {
				w = protocol.NewWriter(nil)
				writeFailure(w, KindException, err.Error())
			}
		}
		if _, err := rw.Write(w.Bytes()); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func invoke(ctx context.Context, p Process, c Call) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &RemoteError{Kind: KindException, Message: fmt.Sprint(v)}
		}
	}()
	switch c.Kind {
	case Build:
		return p.Build(ctx, c.Args)
	case Refresh:
		return nil, p.Refresh(ctx)
	case Clean:
		return nil, p.Clean(ctx)
	case TryUpdateAttribute:
		return p.TryUpdateAttribute(ctx, c.ID, c.Property, c.Value)
	}
	return nil, fmt.Errorf("command: no handler for %s", c.Kind)
}
