package network

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lorents/fuse-studio/cache"
	"github.com/lorents/fuse-studio/protocol"
	"github.com/lorents/fuse-studio/utils"
)

// SessionHooks connect viewer sessions to the host.
type SessionHooks struct {
	// Upstream receives every envelope a viewer sends.
	Upstream func(ctx context.Context, env protocol.Envelope) error
	// ClientAdded fires when the first envelope of a session is a
	// RegisterName.
	ClientAdded func(reg protocol.RegisterName)
	// ClientRemoved fires when a registered session ends.
	ClientRemoved func(deviceID string)
}

// Session serves one viewer: it replays the whole cache and then follows
// it, and forwards what the viewer sends upstream.
type Session struct {
	name  string
	log   utils.Logger
	sub   *cache.Subscription
	hooks SessionHooks

	seen      atomic.Bool
	device    atomic.Pointer[protocol.RegisterName]
	closeOnce sync.Once
}

func NewSession(name string, c *cache.Cache, hooks SessionHooks, log utils.Logger) *Session {
	SessionsActive.Inc()
	return &Session{
		name:  name,
		log:   log,
		sub:   c.ReplayFrom(-1),
		hooks: hooks,
	}
}

// Feed blocks until the cache has something new for this viewer.
// Tombstones are never written.
func (s *Session) Feed(ctx context.Context) (protocol.Records, error) {
	return s.sub.Feed(ctx)
}

func (s *Session) Drain(ctx context.Context, recs protocol.Records) error {
	for _, rec := range recs {
		env, err := protocol.ParseRecord(rec)
		if err != nil {
			return err
		}
		if s.seen.CompareAndSwap(false, true) {
			s.register(env)
		}
		if s.hooks.Upstream != nil {
			if err := s.hooks.Upstream(ctx, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) register(env protocol.Envelope) {
	reg, ok, err := protocol.TryParse(env, protocol.RegisterNameType, protocol.ReadRegisterName)
	if err != nil {
		s.log.Warn("session: bad RegisterName", "name", s.name, "err", err)
		return
	}
	if !ok {
		return
	}
	s.device.Store(&reg)
	s.log.Info("session: client registered", "name", s.name, "device", reg.DeviceID, "deviceName", reg.DeviceName)
	if s.hooks.ClientAdded != nil {
		s.hooks.ClientAdded(reg)
	}
}

// Device is the registration of this session, if any.
func (s *Session) Device() (protocol.RegisterName, bool) {
	if reg := s.device.Load(); reg != nil {
		return *reg, true
	}
	return protocol.RegisterName{}, false
}

func (s *Session) GetTraceId() string {
	return s.name
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		SessionsActive.Dec()
		s.sub.Close()
		if reg := s.device.Load(); reg != nil && s.hooks.ClientRemoved != nil {
			s.hooks.ClientRemoved(reg.DeviceID)
		}
	})
	return nil
}
