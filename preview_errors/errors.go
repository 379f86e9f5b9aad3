// Provides common preview errors definitions.
package preview_errors

import "errors"

var (
	ErrCantReify         = errors.New("preview: can't reify project")
	ErrCantUpdate        = errors.New("preview: no reify to update")
	ErrDependencyTimeout = errors.New("preview: dependencies did not become available in time")
	ErrClosed            = errors.New("preview: session closed")

	// Remote failure categories of the command channel.
	ErrNotSupported     = errors.New("preview: operation not supported by remote")
	ErrRemoteInvocation = errors.New("preview: remote invocation failed")
	ErrUnknownCommand   = errors.New("preview: unknown command")
)
