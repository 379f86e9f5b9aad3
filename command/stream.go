package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

const (
	CommandsStream = "commands"
	MessagesStream = "messages"

	// StreamDirEnv tells a spawned process where the stream sockets live.
	StreamDirEnv = "FUSE_PREVIEW_STREAMS"

	AcceptTimeout = 30 * time.Second
)

func StreamPath(dir string, id uuid.UUID, name string) string {
	return filepath.Join(dir, id.String()+"."+name)
}

// Listen creates the named stream socket, replacing a stale one.
func Listen(dir string, id uuid.UUID, name string) (*net.UnixListener, error) {
	path := StreamPath(dir, id, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
}

func Dial(ctx context.Context, dir string, id uuid.UUID, name string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", StreamPath(dir, id, name))
}

func accept(l *net.UnixListener, timeout time.Duration) (net.Conn, error) {
	if err := l.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return l.Accept()
}

// Remote is a spawned reifier process: a Client for its commands and the
// stream of messages it sends.
type Remote struct {
	*Client
	Messages net.Conn

	commands net.Conn
	cmd      *exec.Cmd
}

// Spawn starts `<exe> start <guid>` and waits for the process to connect
// both streams.
func Spawn(ctx context.Context, exe, dir string, log utils.Logger) (*Remote, error) {
	id := uuid.New()
	lc, err := Listen(dir, id, CommandsStream)
	if err != nil {
		return nil, err
	}
	defer lc.Close()
	lm, err := Listen(dir, id, MessagesStream)
	if err != nil {
		return nil, err
	}
	defer lm.Close()

	cmd := exec.CommandContext(ctx, exe, "start", id.String())
	cmd.Env = append(os.Environ(), StreamDirEnv+"="+dir)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.Info("command: process started", "pid", cmd.Process.Pid, "id", id)

	commands, err := accept(lc, AcceptTimeout)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("command: %s stream: %w", CommandsStream, err)
	}
	messages, err := accept(lm, AcceptTimeout)
	if err != nil {
		commands.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("command: %s stream: %w", MessagesStream, err)
	}
	return &Remote{
		Client:   NewClient(commands),
		Messages: messages,
		commands: commands,
		cmd:      cmd,
	}, nil
}

// Close hangs up both streams; the process exits when it sees EOF.
func (r *Remote) Close() error {
	err := errors.Join(r.commands.Close(), r.Messages.Close())
	done := make(chan error, 1)
	go func() { done <- r.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		r.cmd.Process.Kill()
		<-done
	}
	return err
}

// RunProcess is the child side of Spawn: it connects both streams, builds
// the process around the messages sink and serves commands until the host
// hangs up.
func RunProcess(ctx context.Context, dir string, id uuid.UUID, newProcess func(out protocol.Sink) Process, log utils.Logger) error {
	commands, err := Dial(ctx, dir, id, CommandsStream)
	if err != nil {
		return err
	}
	defer commands.Close()
	messages, err := Dial(ctx, dir, id, MessagesStream)
	if err != nil {
		return err
	}
	defer messages.Close()
	stop := context.AfterFunc(ctx, func() { commands.Close() })
	defer stop()

	process := newProcess(protocol.NewStreamSink(messages))
	err = Serve(ctx, commands, process, log)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadMessages decodes frames from r and hands each to out until r ends.
func ReadMessages(ctx context.Context, r io.Reader, out func(protocol.Envelope)) error {
	pr := protocol.NewReader(r)
	for ctx.Err() == nil {
		env, err := pr.ReadEnvelope()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		out(env)
	}
	return ctx.Err()
}
