// Package command runs the reifier in a separate process and talks to it
// over a command/response stream plus a one-way messages stream.
package command

import (
	"context"
	"fmt"

	"github.com/lorents/fuse-studio/preview_errors"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
)

// Kind is the closed set of remote operations.
type Kind int

const (
	Build Kind = iota + 1
	Refresh
	Clean
	TryUpdateAttribute
)

var kindNames = map[Kind]string{
	Build:              "Build",
	Refresh:            "Refresh",
	Clean:              "Clean",
	TryUpdateAttribute: "TryUpdateAttribute",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(method string) (Kind, error) {
	for k, s := range kindNames {
		if s == method {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", preview_errors.ErrUnknownCommand, method)
}

// Process is what the command channel drives: the reifier in the child
// process, a Client in the host.
type Process interface {
	Build(ctx context.Context, args reifier.BuildProject) (string, error)
	Refresh(ctx context.Context) error
	Clean(ctx context.Context) error
	TryUpdateAttribute(ctx context.Context, id protocol.ObjectIdentifier, property string, value *string) (bool, error)
}

var (
	_ Process = (*reifier.Reifier)(nil)
	_ Process = (*Client)(nil)
)

const TagBuildProject = "BuildProject"

func init() {
	protocol.RegisterValue(TagBuildProject, writeBuildProject, readBuildProject)
}

func writeBuildProject(w *protocol.Writer, b reifier.BuildProject) {
	w.WriteGUID(b.ID)
	w.WriteString(b.ProjectPath)
	w.WriteStrings(b.Defines)
	w.WriteBool(b.BuildLibraries)
	w.WriteBool(b.Verbose)
	w.WriteString(b.OutputDir)
}

func readBuildProject(r *protocol.Reader) reifier.BuildProject {
	return reifier.BuildProject{
		ID:             r.ReadGUID(),
		ProjectPath:    r.ReadString(),
		Defines:        r.ReadStrings(),
		BuildLibraries: r.ReadBool(),
		Verbose:        r.ReadBool(),
		OutputDir:      r.ReadString(),
	}
}
