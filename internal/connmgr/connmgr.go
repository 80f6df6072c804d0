// Package connmgr dials peers from the directory and serves inbound streams.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/telemetry"
	"p2p-relay/internal/transport"
)

var ErrNoAddresses = errors.New("connmgr: peer has no addresses")

type Config struct {
	// DialTimeout bounds each address attempt.
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{DialTimeout: 10 * time.Second}
}

// Manager implements messaging.ConnectionManager on top of a Transport.
type Manager struct {
	cfg    Config
	t      transport.Transport
	dir    *peers.Directory
	logger *zap.Logger

	mu      sync.Mutex
	dialing map[dht.NodeID]struct{}
	inbound map[transport.Stream]struct{}
	wg      sync.WaitGroup
}

var _ messaging.ConnectionManager = (*Manager)(nil)

func New(cfg Config, t transport.Transport, dir *peers.Directory, logger *zap.Logger) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	return &Manager{
		cfg:     cfg,
		t:       t,
		dir:     dir,
		logger:  telemetry.OrNop(logger).Named("connmgr"),
		dialing: make(map[dht.NodeID]struct{}),
		inbound: make(map[transport.Stream]struct{}),
	}
}

// DialPeer connects to the first reachable address of id. A second dial for
// a peer already being dialled returns transport.ErrDialCancelled.
func (m *Manager) DialPeer(ctx context.Context, id dht.NodeID) (messaging.Connection, error) {
	p, err := m.dir.Find(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	if len(p.Addresses) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, id)
	}

	m.mu.Lock()
	if _, busy := m.dialing[id]; busy {
		m.mu.Unlock()
		return nil, transport.ErrDialCancelled
	}
	m.dialing[id] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.dialing, id)
		m.mu.Unlock()
	}()

	var errs []error
	for _, addr := range p.Addresses {
		s, err := m.dialAddr(ctx, addr, p)
		if err == nil {
			_ = m.dir.SetState(id, peers.StateOnline)
			return &conn{m: m, peer: p, addr: addr, first: s}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Debug("dial attempt failed",
			zap.Stringer("peer", id), zap.String("addr", addr), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	_ = m.dir.SetState(id, peers.StateOffline)
	return nil, errors.Join(errs...)
}

func (m *Manager) dialAddr(ctx context.Context, addr string, p peers.Peer) (transport.Stream, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	return m.t.Dial(dctx, addr, p.PublicKey)
}

// Serve accepts inbound streams until ctx ends or the transport closes,
// handing each to protocols. Streams still open when it returns are closed.
func (m *Manager) Serve(ctx context.Context, protocols transport.Protocols) error {
	defer func() {
		m.mu.Lock()
		for s := range m.inbound {
			_ = s.Close()
		}
		m.mu.Unlock()
		m.wg.Wait()
	}()
	for {
		s, err := m.t.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if p, err := m.dir.FindByPublicKey(s.RemotePublicKey()); err == nil {
			_ = m.dir.SetState(p.NodeID, peers.StateOnline)
		}
		m.mu.Lock()
		m.inbound[s] = struct{}{}
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				m.mu.Lock()
				delete(m.inbound, s)
				m.mu.Unlock()
			}()
			if err := protocols.Serve(ctx, s); err != nil {
				m.logger.Debug("inbound stream rejected",
					zap.String("peer", peers.ShortKey(s.RemotePublicKey())), zap.Error(err))
			}
		}()
	}
}

type conn struct {
	m    *Manager
	peer peers.Peer
	addr string

	mu    sync.Mutex
	first transport.Stream
}

func (c *conn) PeerNodeID() dht.NodeID { return c.peer.NodeID }

// OpenSubstream negotiates protocol on the stream from the dial, or on a
// fresh one once that has been used.
func (c *conn) OpenSubstream(ctx context.Context, protocol string) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	s := c.first
	c.first = nil
	c.mu.Unlock()

	if s == nil {
		var err error
		if s, err = c.m.dialAddr(ctx, c.addr, c.peer); err != nil {
			return nil, err
		}
	}
	if err := transport.Negotiate(s, protocol); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	s := c.first
	c.first = nil
	c.mu.Unlock()
	if s != nil {
		return s.Close()
	}
	return nil
}
