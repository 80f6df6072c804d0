// Package quic carries streams over QUIC connections authenticated with
// mutual TLS. One connection per remote address is pooled and every stream
// is a QUIC stream on it.
package quic

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"p2p-relay/internal/identity"
	"p2p-relay/internal/telemetry"
	"p2p-relay/internal/transport"
)

type Config struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	KeepAlive        time.Duration
	AcceptBacklog    int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		IdleTimeout:      30 * time.Second,
		KeepAlive:        10 * time.Second,
		AcceptBacklog:    64,
	}
}

type Transport struct {
	cfg    Config
	tls    *tls.Config
	quic   *quicgo.Config
	logger *zap.Logger

	mu       sync.Mutex
	listener *quicgo.Listener
	conns    map[string]*quicgo.Conn
	inbound  map[*quicgo.Conn]struct{}

	accepted chan transport.Stream
	closed   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, id *identity.NodeIdentity, logger *zap.Logger) (*Transport, error) {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.AcceptBacklog <= 0 {
		cfg.AcceptBacklog = def.AcceptBacklog
	}
	cert, err := selfSignedCert(id)
	if err != nil {
		return nil, err
	}
	return &Transport{
		cfg: cfg,
		tls: tlsConfig(cert),
		quic: &quicgo.Config{
			HandshakeIdleTimeout: cfg.HandshakeTimeout,
			MaxIdleTimeout:       cfg.IdleTimeout,
			KeepAlivePeriod:      cfg.KeepAlive,
		},
		logger:   telemetry.OrNop(logger).Named("quic"),
		conns:    make(map[string]*quicgo.Conn),
		inbound:  make(map[*quicgo.Conn]struct{}),
		accepted: make(chan transport.Stream, cfg.AcceptBacklog),
		closed:   make(chan struct{}),
	}, nil
}

func (t *Transport) Listen(ctx context.Context, addr string) (string, error) {
	l, err := quicgo.ListenAddr(addr, t.tls, t.quic)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	if t.listener != nil {
		t.mu.Unlock()
		_ = l.Close()
		return "", errors.New("quic: already listening")
	}
	t.listener = l
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(l)
	return l.Addr().String(), nil
}

func (t *Transport) acceptLoop(l *quicgo.Listener) {
	defer t.wg.Done()
	for {
		conn, err := l.Accept(context.Background())
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		remote, err := connKey(conn)
		if err != nil {
			_ = conn.CloseWithError(1, "bad certificate")
			continue
		}
		t.mu.Lock()
		t.inbound[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go t.acceptStreams(conn, remote)
	}
}

func (t *Transport) acceptStreams(conn *quicgo.Conn, remote ed25519.PublicKey) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
	}()
	for {
		s, err := conn.AcceptStream(conn.Context())
		if err != nil {
			return
		}
		select {
		case t.accepted <- &stream{Stream: s, remote: remote}:
		case <-t.closed:
			s.CancelRead(0)
			_ = s.Close()
			return
		}
	}
}

func (t *Transport) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case s := <-t.accepted:
		return s, nil
	case <-t.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial opens a stream to addr, reusing a live pooled connection.
func (t *Transport) Dial(ctx context.Context, addr string, expect ed25519.PublicKey) (transport.Stream, error) {
	select {
	case <-t.closed:
		return nil, transport.ErrClosed
	default:
	}
	conn, err := t.conn(ctx, addr)
	if err != nil {
		return nil, err
	}
	remote, err := connKey(conn)
	if err != nil {
		t.drop(addr, conn, "bad certificate")
		return nil, err
	}
	if err := transport.CheckRemote(expect, remote); err != nil {
		t.drop(addr, conn, "unexpected peer")
		return nil, err
	}
	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.drop(addr, conn, "open stream failed")
		return nil, err
	}
	return &stream{Stream: s, remote: remote}, nil
}

func (t *Transport) conn(ctx context.Context, addr string) (*quicgo.Conn, error) {
	t.mu.Lock()
	if c, ok := t.conns[addr]; ok {
		if c.Context().Err() == nil {
			t.mu.Unlock()
			return c, nil
		}
		delete(t.conns, addr)
	}
	t.mu.Unlock()

	c, err := quicgo.DialAddr(ctx, addr, t.tls, t.quic)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if existing, ok := t.conns[addr]; ok && existing.Context().Err() == nil {
		t.mu.Unlock()
		_ = c.CloseWithError(0, "duplicate")
		return existing, nil
	}
	t.conns[addr] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) drop(addr string, c *quicgo.Conn, reason string) {
	t.mu.Lock()
	if cur, ok := t.conns[addr]; ok && cur == c {
		delete(t.conns, addr)
	}
	t.mu.Unlock()
	_ = c.CloseWithError(0, reason)
}

func connKey(c *quicgo.Conn) (ed25519.PublicKey, error) {
	certs := c.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return nil, errNoPeerCert
	}
	return peerKey([][]byte{certs[0].Raw})
}

func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		if t.listener != nil {
			err = t.listener.Close()
		}
		for addr, c := range t.conns {
			_ = c.CloseWithError(0, "shutdown")
			delete(t.conns, addr)
		}
		for c := range t.inbound {
			_ = c.CloseWithError(0, "shutdown")
		}
		t.mu.Unlock()
		t.wg.Wait()
	})
	return err
}

type stream struct {
	*quicgo.Stream
	remote ed25519.PublicKey
}

func (s *stream) RemotePublicKey() ed25519.PublicKey { return s.remote }
