package network

import (
	"context"

	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

const deviceQueueSize = 1 << 20

// DeviceSession is the viewer side of a connection: it introduces itself
// with RegisterName and hands every envelope it receives to onMessage.
type DeviceSession struct {
	name      string
	queue     *utils.Queue[protocol.Records]
	onMessage func(ctx context.Context, env protocol.Envelope) error
}

func NewDeviceSession(name string, reg protocol.RegisterName, onMessage func(ctx context.Context, env protocol.Envelope) error) *DeviceSession {
	d := &DeviceSession{
		name:      name,
		queue:     utils.NewQueue[protocol.Records](deviceQueueSize, 0),
		onMessage: onMessage,
	}
	d.queue.Drain(context.Background(), protocol.RecordsOf(reg))
	return d
}

// Send queues m for the host.
func (d *DeviceSession) Send(m protocol.Message) error {
	return d.queue.Drain(context.Background(), protocol.RecordsOf(m))
}

func (d *DeviceSession) Feed(ctx context.Context) (protocol.Records, error) {
	return d.queue.Feed(ctx)
}

func (d *DeviceSession) Drain(ctx context.Context, recs protocol.Records) error {
	return protocol.EnvelopeDrainer(d.onMessage).Drain(ctx, recs)
}

func (d *DeviceSession) GetTraceId() string {
	return d.name
}

func (d *DeviceSession) Close() error {
	return d.queue.Close()
}
