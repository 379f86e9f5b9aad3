// Command fuse-preview hosts a live preview of a project, runs the reifier
// process it spawns, or acts as a viewer.
//
//	fuse-preview [flags] App.unoproj   host a preview with a console
//	fuse-preview start <guid>          reifier process, spawned by the host
//	fuse-preview view <addr>           viewer printing the reified tree
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	preview "github.com/lorents/fuse-studio"
	"github.com/lorents/fuse-studio/command"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/reifier"
	"github.com/lorents/fuse-studio/utils"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	listenAddr = flag.String("listen", preview.DefaultListenAddr, "address viewers connect to")
	httpAddr   = flag.String("http", "", "address serving /metrics, /ws and the command endpoints")
	cacheDir   = flag.String("cache", "", "directory persisting the preview cache")
	depTimeout = flag.Duration("dependency-timeout", preview.DefaultDependencyTimeout, "how long a program waits for its assets")
	spawn      = flag.Bool("spawn", false, "run the reifier in a child process")
	verbose    = flag.Bool("v", false, "debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n  %s [flags] App.unoproj\n  %s start <guid>\n  %s view <addr>\n\nFlags:\n", os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := utils.NewDefaultLogger(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch args := flag.Args(); {
	case len(args) == 2 && args[0] == "start":
		err = runProcess(ctx, args[1], log)
	case len(args) == 2 && args[0] == "view":
		err = view(ctx, args[1], log)
	case len(args) == 1:
		err = host(ctx, args[0], log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func runProcess(ctx context.Context, guid string, log utils.Logger) error {
	id, err := uuid.Parse(guid)
	if err != nil {
		return err
	}
	dir := os.Getenv(command.StreamDirEnv)
	if dir == "" {
		return fmt.Errorf("%s is not set", command.StreamDirEnv)
	}
	return command.RunProcess(ctx, dir, id, func(out protocol.Sink) command.Process {
		return reifier.New(reifier.Options{Output: out, Logger: log})
	}, log)
}

func host(ctx context.Context, projectPath string, log utils.Logger) error {
	opts := preview.Options{
		ListenAddr:        *listenAddr,
		CacheDir:          *cacheDir,
		DependencyTimeout: *depTimeout,
		Logger:            log,
		Registerer:        prometheus.DefaultRegisterer,
		ClientAdded: func(reg protocol.RegisterName) {
			fmt.Printf("viewer %s (%s) connected\n", reg.DeviceName, reg.DeviceID)
		},
		ClientRemoved: func(deviceID string) {
			fmt.Printf("viewer %s disconnected\n", deviceID)
		},
	}
	if *spawn {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		dir, err := os.MkdirTemp("", "fuse-preview")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		opts.Process = preview.Spawned(exe, dir, log)
	}

	p, err := preview.New(projectPath, opts)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("viewers connect to port %d\n", p.Port())

	repl := &REPL{Preview: p, ctx: ctx}
	if *httpAddr != "" {
		srv := &http.Server{Addr: *httpAddr, Handler: repl.Mux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server failed", "err", err)
			}
		}()
		defer srv.Close()
	}

	go repl.printMessages(ctx)
	if err := repl.Open(); err != nil {
		return err
	}
	defer repl.Close()
	return repl.Run()
}
