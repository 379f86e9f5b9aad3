package command

import (
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
)

// Call is one decoded request.
type Call struct {
	Kind     Kind
	Args     reifier.BuildProject
	ID       protocol.ObjectIdentifier
	Property string
	Value    *string
}

func (c Call) writeTo(w *protocol.Writer) error {
	w.WriteString(c.Kind.String())
	switch c.Kind {
	case Build:
		return w.WriteValue(c.Args)
	case TryUpdateAttribute:
		if err := w.WriteValue(c.ID); err != nil {
			return err
		}
		w.WriteValue(c.Property)
		return w.WriteValue(c.Value)
	}
	return nil
}

// readArgs reads the arguments that follow the method name.
func readArgs(r *protocol.Reader, kind Kind) (c Call, err error) {
	c.Kind = kind
	switch kind {
	case Build:
		c.Args, err = protocol.ValueAs[reifier.BuildProject](r.ReadValue())
	case TryUpdateAttribute:
		if c.ID, err = protocol.ValueAs[protocol.ObjectIdentifier](r.ReadValue()); err != nil {
			break
		}
		if c.Property, err = protocol.ValueAs[string](r.ReadValue()); err != nil {
			break
		}
		var v any
		if v = r.ReadValue(); v != nil {
			s, e := protocol.ValueAs[string](v)
			c.Value, err = &s, e
		}
	}
	if r.Err() != nil {
		return c, r.Err()
	}
	return c, err
}

func writeResult(w *protocol.Writer, result any) error {
	w.WriteBool(false)
	return w.WriteValue(result)
}

func writeFailure(w *protocol.Writer, kind, message string) {
	w.WriteBool(true)
	w.WriteString(kind)
	w.WriteString(message)
}

// readResponse returns the tagged result, or the remote failure.
func readResponse(r *protocol.Reader) (any, error) {
	failed := r.ReadBool()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if failed {
		e := &RemoteError{Kind: r.ReadString(), Message: r.ReadString()}
		if r.Err() != nil {
			return nil, r.Err()
		}
		return nil, e
	}
	v := r.ReadValue()
	return v, r.Err()
}
