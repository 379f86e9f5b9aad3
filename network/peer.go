package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

// Peer pumps one connection: keepRead splits incoming bytes into frames
// for the handler's Drain, keepWrite sends the handler's Feed batches with
// vectored writes.
type Peer struct {
	closed         atomic.Bool
	closeOnce      sync.Once
	wg             sync.WaitGroup
	writeBatchSize *utils.Ewma

	mu             sync.Mutex
	conn           net.Conn
	inout          protocol.FeedDrainCloserTraced
	incomingBuffer atomic.Int32
	bufferMaxSize  int
	writeTimeout   time.Duration
}

// keepRead returns nil when the remote end hangs up.
func (p *Peer) keepRead(ctx context.Context) error {
	var buf bytes.Buffer
	for !p.closed.Load() && ctx.Err() == nil {
		if buf.Available() < TYPICAL_MTU {
			buf.Grow(TYPICAL_MTU)
		}
		idle := buf.AvailableBuffer()[:buf.Available()]
		n, err := p.conn.Read(idle)
		if n > 0 {
			buf.Write(idle[:n])
			BytesRead.Add(float64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		p.incomingBuffer.Store(int32(min(buf.Len(), 1<<31-1)))

		recs, err := protocol.Split(&buf)
		if err != nil && !errors.Is(err, protocol.ErrIncomplete) {
			return err
		}
		if errors.Is(err, protocol.ErrIncomplete) && buf.Len() >= p.bufferMaxSize {
			return errors.Join(err, fmt.Errorf("buffer is not enough to read packet"))
		}
		if len(recs) == 0 {
			continue
		}
		if err := p.inout.Drain(ctx, recs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) GetTraceId() string {
	return p.inout.GetTraceId()
}

func (p *Peer) GetIncomingPacketBufferSize() int32 {
	return p.incomingBuffer.Load()
}

// keepWrite returns nil once ctx is done; any write failure ends the peer.
func (p *Peer) keepWrite(ctx context.Context) error {
	for !p.closed.Load() {
		recs, err := p.inout.Feed(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		batchSize := recs.TotalLen()
		p.writeBatchSize.Add(float64(batchSize))

		b := net.Buffers(recs)
		if p.writeTimeout != 0 {
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		}
		for len(b) > 0 {
			if _, err = b.WriteTo(p.conn); err != nil {
				return err
			}
		}
		BytesWritten.Add(float64(batchSize))
	}
	return nil
}

// Keep runs both directions until either ends. Whichever side finishes
// first stops the other: a finished reader cancels the writer's Feed, a
// finished writer closes the connection under the reader.
func (p *Peer) Keep(ctx context.Context) (rerr, werr, cerr error) {
	p.wg.Add(1)
	defer p.wg.Done()

	if p.closed.Load() {
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
			if errors.Is(rerr, net.ErrClosed) {
				// closed by us
				rerr = nil
			}
			cancel()
		case werr = <-writeErrCh:
			cerr = p.closeConn()
		}
		p.closed.Store(true)
	}
	if err := p.closeConn(); err != nil && cerr == nil && !errors.Is(err, net.ErrClosed) {
		cerr = err
	}
	return
}

func (p *Peer) closeConn() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Close stops the peer and releases its handler. It is safe to call more
// than once.
func (p *Peer) Close() {
	p.closed.Store(true)
	p.closeConn()
	p.wg.Wait()
	p.closeOnce.Do(func() {
		p.inout.Close()
	})
}
