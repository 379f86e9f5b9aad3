// Package network carries preview frames between the host and devices.
//
// A Net owns listeners and outgoing connections. Every connection becomes a
// Peer driven by a protocol handler obtained from the install callback:
// the Peer writes whatever the handler's Feed returns and hands everything
// it reads to the handler's Drain. The host installs a Session per viewer,
// a device installs a DeviceSession on its connection back to the host.
//
// Usage:
//
//	n := NewNet(log, install, destroy, &NetWriteTimeoutOpt{Timeout: 10 * time.Second})
//	err := n.Listen("tcp://127.0.0.1:0")
//	port := n.Addr("tcp://127.0.0.1:0").(*net.TCPAddr).Port
//	defer n.Close()
//
// Outgoing connections reconnect with exponential backoff until Close or
// Disconnect; accepted connections end for good on the first error.
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

type ConnType = uint

var (
	ErrAddressInvalid    = errors.New("network: the address invalid")
	ErrAddressDuplicated = errors.New("network: the address already used")
	ErrAddressUnknown    = errors.New("network: address unknown")
)

const (
	TCP ConnType = iota + 1
	TLS
)

const (
	TYPICAL_MTU = 1500

	MAX_RETRY_PERIOD = time.Minute
	MIN_RETRY_PERIOD = time.Second / 2
)

type InstallCallback func(name string) protocol.FeedDrainCloserTraced
type DestroyCallback func(name string, p protocol.Traced)

type Net struct {
	wg        sync.WaitGroup
	log       utils.Logger
	onInstall InstallCallback
	onDestroy DestroyCallback

	conns     *xsync.MapOf[string, *Peer]
	listens   *xsync.MapOf[string, net.Listener]
	ctx       context.Context
	cancelCtx context.CancelFunc

	tlsConfig          *tls.Config
	readBufferTcpSize  int
	writeBufferTcpSize int
	writeTimeout       time.Duration
	bufferMaxSize      int
}

type NetOpt interface {
	Apply(*Net)
}

// NetWriteTimeoutOpt bounds every socket write; a viewer that stops
// reading is dropped once it expires.
type NetWriteTimeoutOpt struct {
	Timeout time.Duration
}

func (opt *NetWriteTimeoutOpt) Apply(n *Net) {
	n.writeTimeout = opt.Timeout
}

type NetTlsConfigOpt struct {
	Config *tls.Config
}

func (opt *NetTlsConfigOpt) Apply(n *Net) {
	n.tlsConfig = opt.Config
}

// NetReadBufferOpt caps how many unparsed bytes a peer may hold.
type NetReadBufferOpt struct {
	BufferMaxSize int
}

func (opt *NetReadBufferOpt) Apply(n *Net) {
	n.bufferMaxSize = opt.BufferMaxSize
}

type TcpBufferSizeOpt struct {
	Read  int
	Write int
}

func (opt *TcpBufferSizeOpt) Apply(n *Net) {
	n.readBufferTcpSize = opt.Read
	n.writeBufferTcpSize = opt.Write
}

func NewNet(log utils.Logger, install InstallCallback, destroy DestroyCallback, opts ...NetOpt) *Net {
	ctx, cancel := context.WithCancel(context.Background())
	net := &Net{
		log:           log,
		cancelCtx:     cancel,
		ctx:           ctx,
		conns:         xsync.NewMapOf[string, *Peer](),
		listens:       xsync.NewMapOf[string, net.Listener](),
		onInstall:     install,
		onDestroy:     destroy,
		bufferMaxSize: protocol.MaxPayloadLen + protocol.MaxTypeLen + 16,
	}
	for _, o := range opts {
		o.Apply(net)
	}
	return net
}

type NetStats struct {
	ReadBuffers  map[string]int32
	WriteBatches map[string]int32
}

func (n *Net) GetStats() NetStats {
	stats := NetStats{
		ReadBuffers:  make(map[string]int32),
		WriteBatches: make(map[string]int32),
	}
	n.conns.Range(func(name string, peer *Peer) bool {
		if peer != nil {
			stats.ReadBuffers[name] = peer.GetIncomingPacketBufferSize()
			stats.WriteBatches[name] = int32(peer.writeBatchSize.Val())
		}
		return true
	})
	return stats
}

// Peers lists the names of the live connections.
func (n *Net) Peers() (names []string) {
	n.conns.Range(func(name string, peer *Peer) bool {
		if peer != nil {
			names = append(names, name)
		}
		return true
	})
	return
}

func (n *Net) Close() error {
	n.cancelCtx()

	n.listens.Range(func(_ string, v net.Listener) bool {
		if v != nil {
			v.Close()
		}
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, p *Peer) bool {
		// nil while a connection attempt is in flight
		if p != nil {
			p.Close()
		}
		return true
	})
	n.conns.Clear()

	n.wg.Wait()
	return nil
}

func (n *Net) Connect(addr string) error {
	return n.ConnectPool(addr, []string{addr})
}

// ConnectPool keeps one connection named name to the first reachable
// address of addrs.
func (n *Net) ConnectPool(name string, addrs []string) error {
	if _, ok := n.conns.LoadOrStore(name, nil); ok {
		return ErrAddressDuplicated
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepConnecting(name, addrs)
	}()
	return nil
}

func (n *Net) Disconnect(name string) error {
	peer, ok := n.conns.LoadAndDelete(name)
	if !ok {
		return ErrAddressUnknown
	}
	if peer != nil {
		peer.Close()
	}
	return nil
}

// Listen accepts connections on addr ("tcp://host:port" or
// "tls://host:port"). Port 0 picks a free port; see Addr.
func (n *Net) Listen(addr string) error {
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	listener, err := n.createListener(addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)

	n.log.Info("net: listening", "addr", addr, "bound", listener.Addr().String())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepListening(addr)
	}()
	return nil
}

// Addr is the bound address of the listener started with Listen(addr).
func (n *Net) Addr(addr string) net.Addr {
	l, ok := n.listens.Load(addr)
	if !ok || l == nil {
		return nil
	}
	return l.Addr()
}

func (n *Net) Unlisten(addr string) error {
	listener, ok := n.listens.LoadAndDelete(addr)
	if !ok || listener == nil {
		return ErrAddressUnknown
	}
	return listener.Close()
}

func (n *Net) KeepConnecting(name string, addrs []string) {
	connBackoff := MIN_RETRY_PERIOD
	ctx := utils.WithDefaultArgs(n.ctx, "name", name)
	for n.ctx.Err() == nil {
		if _, ok := n.conns.Load(name); !ok {
			// disconnected
			return
		}
		var err error
		var conn net.Conn
		for _, addr := range addrs {
			conn, err = n.createConn(addr)
			if err == nil {
				break
			}
		}

		if err != nil {
			n.log.WarnCtx(ctx, "net: couldn't connect", "err", err)
			select {
			case <-time.After(connBackoff):
			case <-n.ctx.Done():
				return
			}
			connBackoff = min(MAX_RETRY_PERIOD, connBackoff*2)
			continue
		}
		n.setTCPBuffersSize(ctx, conn)
		n.log.InfoCtx(ctx, "net: connected")

		connBackoff = MIN_RETRY_PERIOD
		n.keepPeer(ctx, name, conn, true)
	}
}

func (n *Net) setTCPBuffersSize(ctx context.Context, conn net.Conn) {
	if n.readBufferTcpSize <= 0 && n.writeBufferTcpSize <= 0 {
		return
	}
	var tconn *net.TCPConn
	switch res := conn.(type) {
	case *tls.Conn:
		nconn, ok := res.NetConn().(*net.TCPConn)
		if !ok {
			n.log.WarnCtx(ctx, "net: unable to set buffers, because tls conn is strange")
			return
		}
		tconn = nconn
	case *net.TCPConn:
		tconn = res
	default:
		n.log.WarnCtx(ctx, "net: unable to set buffers, because unknown connection type")
		return
	}
	if n.readBufferTcpSize > 0 {
		tconn.SetReadBuffer(n.readBufferTcpSize)
	}
	if n.writeBufferTcpSize > 0 {
		tconn.SetWriteBuffer(n.writeBufferTcpSize)
	}
}

func (n *Net) KeepListening(addr string) {
	for n.ctx.Err() == nil {
		listener, ok := n.listens.Load(addr)
		if !ok {
			break
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			n.log.Error("net: couldn't accept request", "addr", addr, "err", err)
			continue
		}

		remoteAddr := conn.RemoteAddr().String()
		name := fmt.Sprintf("listen:%s:%s", uuid.Must(uuid.NewV7()).String(), remoteAddr)
		ctx := utils.WithDefaultArgs(n.ctx, "addr", addr, "remoteAddr", remoteAddr)
		n.log.InfoCtx(ctx, "net: accept connection")
		n.setTCPBuffersSize(ctx, conn)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.keepPeer(ctx, name, conn, false)
		}()
	}

	if l, ok := n.listens.LoadAndDelete(addr); ok && l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			n.log.Error("net: couldn't correct close listener", "addr", addr, "err", err)
		}
	}
	n.log.Info("net: listener closed", "addr", addr)
}

// keepPeer runs one connection to its end. dialed peers keep their slot
// in conns for KeepConnecting, accepted ones drop it.
func (n *Net) keepPeer(ctx context.Context, name string, conn net.Conn, dialed bool) {
	if _, ok := n.conns.Load(name); dialed && !ok {
		// Disconnect raced with the dial
		conn.Close()
		return
	}
	peer := &Peer{
		inout:          n.onInstall(name),
		conn:           conn,
		writeTimeout:   n.writeTimeout,
		bufferMaxSize:  n.bufferMaxSize,
		writeBatchSize: utils.NewEwma(0.2),
	}
	n.conns.Store(name, peer)
	PeersConnected.Inc()
	defer PeersConnected.Dec()

	readErr, writeErr, closeErr := peer.Keep(n.ctx)
	if readErr != nil {
		n.log.WarnCtx(ctx, "net: couldn't read from peer", "err", readErr, "trace_id", peer.GetTraceId())
	}
	if writeErr != nil {
		n.log.WarnCtx(ctx, "net: couldn't write to peer", "err", writeErr, "trace_id", peer.GetTraceId())
	}
	if closeErr != nil {
		n.log.WarnCtx(ctx, "net: couldn't correct close peer", "err", closeErr, "trace_id", peer.GetTraceId())
	}
	n.log.InfoCtx(ctx, "net: peer gone", "trace_id", peer.GetTraceId())

	if current, ok := n.conns.Load(name); ok && current == peer {
		if dialed {
			n.conns.Store(name, nil)
		} else {
			n.conns.Delete(name)
		}
	}
	peer.Close()
	n.onDestroy(name, peer)
}

func (n *Net) createListener(addr string) (net.Listener, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	config := net.ListenConfig{}
	listener, err := config.Listen(n.ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if connType == TLS {
		listener = tls.NewListener(listener, n.tlsConfig)
	}
	return listener, nil
}

func (n *Net) createConn(addr string) (net.Conn, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	switch connType {
	case TLS:
		d := tls.Dialer{Config: n.tlsConfig}
		return d.DialContext(n.ctx, "tcp", address)
	default:
		d := net.Dialer{Timeout: 10 * time.Second}
		return d.DialContext(n.ctx, "tcp", address)
	}
}

// parseAddr splits "tcp://localhost:8080" into TCP and "localhost:8080".
// A bare "host:port" is TCP.
func parseAddr(addr string) (ConnType, string, error) {
	if !strings.Contains(addr, "://") {
		return TCP, addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return TCP, "", err
	}

	var conn ConnType
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		conn = TCP
	case "tls":
		conn = TLS
	default:
		return conn, addr, ErrAddressInvalid
	}
	return conn, u.Host, nil
}
