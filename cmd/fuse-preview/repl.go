package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	preview "github.com/lorents/fuse-studio"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
)

// REPL drives a preview from the console.
type REPL struct {
	Preview *preview.ProjectPreview
	ctx     context.Context
	rl      *readline.Instance
}

var (
	HelpUpdate = errors.New("update <document>:<index> <property> [value]")
	HelpBuild  = errors.New("build [-D DEFINE]... [--verbose]")
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("build"),
	readline.PcItem("refresh"),
	readline.PcItem("clean"),
	readline.PcItem("update"),

	readline.PcItem("clients"),
	readline.PcItem("keys"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     filepath.Join(os.TempDir(), ".fuse_preview_history"),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// Run reads commands until exit or end of input.
func (repl *REPL) Run() error {
	for {
		err := repl.REPL()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s\n", err.Error())
		}
	}
}

func (repl *REPL) REPL() (err error) {
	var line string
	line, err = repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return io.EOF
	}

	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	return repl.Command(args[0], args[1:], os.Stdout)
}

// Command runs one console command, printing its result to out.
func (repl *REPL) Command(cmd string, args []string, out io.Writer) error {
	ctx := repl.ctx
	switch cmd {
	case "build":
		b, err := parseBuild(args)
		if err != nil {
			return err
		}
		assembly, err := repl.Preview.Build(ctx, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "built %s\n", assembly)
	case "refresh":
		return repl.Preview.Refresh(ctx)
	case "clean":
		return repl.Preview.Clean(ctx)
	case "update":
		return repl.CommandUpdate(args, out)
	case "clients":
		for _, c := range repl.Preview.Clients() {
			fmt.Fprintf(out, "%s\t%s\n", c.DeviceID, c.DeviceName)
		}
	case "keys":
		for _, k := range repl.Preview.Cache().Keys() {
			fmt.Fprintln(out, k)
		}
	case "help":
		fmt.Fprintln(out, "build, refresh, clean, update, clients, keys, exit")
	case "exit", "quit":
		return io.EOF
	default:
		fmt.Fprintf(out, "command unknown: %s\n", cmd)
	}
	return nil
}

func parseBuild(args []string) (b reifier.BuildProject, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-D":
			if i+1 == len(args) {
				return b, HelpBuild
			}
			i++
			b.Defines = append(b.Defines, args[i])
		case "--verbose":
			b.Verbose = true
		default:
			return b, HelpBuild
		}
	}
	return b, nil
}

func (repl *REPL) CommandUpdate(args []string, out io.Writer) error {
	if len(args) < 2 {
		return HelpUpdate
	}
	id, err := protocol.ParseObjectIdentifier(args[0])
	if err != nil {
		return err
	}
	var value *string
	if len(args) > 2 {
		v := strings.Join(args[2:], " ")
		value = &v
	}
	ok, err := repl.Preview.TryUpdateAttribute(repl.ctx, id, args[1], value)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(out, "patched")
	} else {
		fmt.Fprintln(out, "needs refresh")
	}
	return nil
}

// printMessages echoes log and markup error messages to the console.
func (repl *REPL) printMessages(ctx context.Context) {
	sub := repl.Preview.Messages(0)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			switch env.Type {
			case protocol.LogMessageType:
				if m, err := protocol.Decode(env, protocol.ReadLogMessage); err == nil {
					fmt.Fprintln(os.Stdout, strings.TrimRight(m.Message, "\n"))
				}
			case protocol.MarkupErrorType:
				if m, err := protocol.Decode(env, protocol.ReadMarkupError); err == nil {
					fmt.Fprintf(os.Stdout, "%s: %s\n", m.Source, m.Message)
				}
			}
		}
	}
}
