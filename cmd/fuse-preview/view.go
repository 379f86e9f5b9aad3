package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/network"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/runtime"
	"github.com/lorents/fuse-studio/typeinfo"
	"github.com/lorents/fuse-studio/utils"
)

// view connects to a host as a viewer and prints the object tree after
// every program it applies. Each connection replays the host's cache from
// the start, so each gets a fresh runtime.
func view(ctx context.Context, addr string, log utils.Logger) error {
	host, _ := os.Hostname()
	reg := protocol.RegisterName{DeviceID: uuid.NewString(), DeviceName: host}

	n := network.NewNet(log, func(name string) protocol.FeedDrainCloserTraced {
		rt := runtime.New(log, "Fuse.App", typeinfo.Builtin())
		return network.NewDeviceSession(name, reg, func(ctx context.Context, env protocol.Envelope) error {
			if err := rt.Apply(env); err != nil {
				log.Warn("view: can't apply", "type", env.Type, "err", err)
				return nil
			}
			if env.Type != protocol.FileDataType {
				fmt.Print(rt.Root().Dump())
			}
			return nil
		})
	}, func(string, protocol.Traced) {})
	defer n.Close()

	if err := n.Connect(addr); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
