// Package tcp provides noise-secured streams over plain TCP connections.
// Every stream is its own connection.
package tcp

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"go.uber.org/zap"

	"p2p-relay/internal/crypto/noiseconn"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/proto"
	"p2p-relay/internal/telemetry"
	"p2p-relay/internal/transport"
)

var ErrBadHandshakePayload = errors.New("tcp: invalid handshake payload")

type Config struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	AcceptBacklog    int
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		AcceptBacklog:    64,
	}
}

type Transport struct {
	cfg      Config
	identity *identity.NodeIdentity
	static   noise.DHKey
	payload  []byte
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	accepted chan transport.Stream
	closed   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, id *identity.NodeIdentity, logger *zap.Logger) (*Transport, error) {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.AcceptBacklog <= 0 {
		cfg.AcceptBacklog = def.AcceptBacklog
	}
	static, err := noiseconn.GenerateStatic()
	if err != nil {
		return nil, err
	}
	payload, err := proto.Marshal(proto.HandshakePayload{
		PublicKey: id.PublicKey(),
		Signature: id.Sign(static.Public),
	})
	if err != nil {
		return nil, err
	}
	return &Transport{
		cfg:      cfg,
		identity: id,
		static:   static,
		payload:  payload,
		logger:   telemetry.OrNop(logger).Named("tcp"),
		accepted: make(chan transport.Stream, cfg.AcceptBacklog),
		closed:   make(chan struct{}),
	}, nil
}

// Listen binds addr and starts accepting. It returns the bound address.
func (t *Transport) Listen(ctx context.Context, addr string) (string, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	if t.listener != nil {
		t.mu.Unlock()
		_ = l.Close()
		return "", errors.New("tcp: already listening")
	}
	t.listener = l
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(l)
	return l.Addr().String(), nil
}

func (t *Transport) acceptLoop(l net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			s, err := t.secure(conn, false, nil)
			if err != nil {
				t.logger.Debug("inbound handshake failed",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				_ = conn.Close()
				return
			}
			select {
			case t.accepted <- s:
			case <-t.closed:
				_ = s.Close()
			}
		}()
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

// Dial connects to addr and checks the remote proves ownership of expect.
func (t *Transport) Dial(ctx context.Context, addr string, expect ed25519.PublicKey) (transport.Stream, error) {
	select {
	case <-t.closed:
		return nil, transport.ErrClosed
	default:
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	s, err := t.secure(conn, true, expect)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (t *Transport) secure(conn net.Conn, initiator bool, expect ed25519.PublicKey) (*stream, error) {
	_ = conn.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))

	var (
		hs  *noiseconn.HandshakeResult
		err error
	)
	if initiator {
		hs, err = noiseconn.Client(conn, t.static, t.payload)
	} else {
		hs, err = noiseconn.Server(conn, t.static, t.payload)
	}
	if err != nil {
		return nil, err
	}
	remote, err := verifyPayload(hs.RemotePayload, hs.RemoteStatic)
	if err != nil {
		return nil, err
	}
	if expect != nil {
		if err := transport.CheckRemote(expect, remote); err != nil {
			return nil, err
		}
	}
	_ = conn.SetDeadline(time.Time{})
	return &stream{SecureConn: hs.Conn, remote: remote, addr: conn.RemoteAddr().String()}, nil
}

func verifyPayload(b, static []byte) (ed25519.PublicKey, error) {
	var p proto.HandshakePayload
	if err := proto.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshakePayload, err)
	}
	if len(p.PublicKey) != ed25519.PublicKeySize {
		return nil, ErrBadHandshakePayload
	}
	if !ed25519.Verify(p.PublicKey, static, p.Signature) {
		return nil, fmt.Errorf("%w: signature does not cover static key", ErrBadHandshakePayload)
	}
	return ed25519.PublicKey(p.PublicKey), nil
}

func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.mu.Unlock()
		t.wg.Wait()
	})
	return err
}

type stream struct {
	*noiseconn.SecureConn
	remote ed25519.PublicKey
	addr   string
}

func (s *stream) RemotePublicKey() ed25519.PublicKey { return s.remote }

func (s *stream) String() string { return s.addr }
