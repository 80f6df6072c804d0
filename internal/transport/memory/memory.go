// Package memory is an in-process transport for tests and simulations.
// Addresses are plain names registered on a shared Network.
package memory

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"p2p-relay/internal/transport"
)

var ErrUnreachable = errors.New("memory: address unreachable")

// Network routes dials between the transports registered on it.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Transport
	next      int
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*Transport)}
}

// Transport returns a new endpoint on n that identifies as pub.
func (n *Network) Transport(pub ed25519.PublicKey) *Transport {
	return &Transport{
		net:      n,
		pub:      pub,
		accepted: make(chan transport.Stream, 64),
		closed:   make(chan struct{}),
	}
}

// Disconnect makes addr unreachable without closing its transport.
func (n *Network) Disconnect(addr string) {
	n.mu.Lock()
	delete(n.listeners, addr)
	n.mu.Unlock()
}

type Transport struct {
	net *Network
	pub ed25519.PublicKey

	mu   sync.Mutex
	addr string

	accepted chan transport.Stream
	closed   chan struct{}
	once     sync.Once
}

// Listen registers the transport under addr. An empty addr or one ending
// in ":0" is replaced by a generated name.
func (t *Transport) Listen(_ context.Context, addr string) (string, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if addr == "" || strings.HasSuffix(addr, ":0") {
		t.net.next++
		addr = fmt.Sprintf("mem-%d", t.net.next)
	}
	if _, taken := t.net.listeners[addr]; taken {
		return "", fmt.Errorf("memory: %s already in use", addr)
	}
	t.net.listeners[addr] = t
	t.mu.Lock()
	t.addr = addr
	t.mu.Unlock()
	return addr, nil
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

func (t *Transport) Dial(ctx context.Context, addr string, expect ed25519.PublicKey) (transport.Stream, error) {
	t.net.mu.Lock()
	remote, ok := t.net.listeners[addr]
	t.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}
	if err := transport.CheckRemote(expect, remote.pub); err != nil {
		return nil, err
	}
	local, far := net.Pipe()
	select {
	case remote.accepted <- &stream{Conn: far, remote: t.pub}:
		return &stream{Conn: local, remote: remote.pub}, nil
	case <-remote.closed:
	case <-ctx.Done():
		_ = local.Close()
		_ = far.Close()
		return nil, ctx.Err()
	}
	_ = local.Close()
	_ = far.Close()
	return nil, fmt.Errorf("%w: %s", ErrUnreachable, addr)
}

func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		addr := t.addr
		t.mu.Unlock()
		t.net.mu.Lock()
		if cur, ok := t.net.listeners[addr]; ok && cur == t {
			delete(t.net.listeners, addr)
		}
		t.net.mu.Unlock()
	})
	return nil
}

type stream struct {
	net.Conn
	remote ed25519.PublicKey
}

func (s *stream) RemotePublicKey() ed25519.PublicKey { return s.remote }
