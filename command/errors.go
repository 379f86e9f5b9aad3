package command

import (
	"errors"
	"strings"

	"github.com/lorents/fuse-studio/preview_errors"
)

// Remote failure kinds as they appear on the wire.
const (
	KindNotSupported     = "NotSupportedException"
	KindTargetInvocation = "TargetInvocationException"
	KindException        = "Exception"
)

// RemoteError is a failure reported by the other end of the command
// channel.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return "remote " + e.Kind + ": " + e.Message
}

// Is matches the failure category, and the reifier sentinels whose text
// the message carries.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case preview_errors.ErrNotSupported:
		return e.Kind == KindNotSupported
	case preview_errors.ErrRemoteInvocation:
		return e.Kind == KindTargetInvocation || e.Kind == KindException
	case preview_errors.ErrCantReify, preview_errors.ErrCantUpdate:
		return strings.Contains(e.Message, target.Error())
	}
	return false
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, preview_errors.ErrNotSupported), errors.Is(err, preview_errors.ErrUnknownCommand):
		return KindNotSupported
	default:
		return KindTargetInvocation
	}
}
