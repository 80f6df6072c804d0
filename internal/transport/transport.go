package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
)

var (
	// ErrDialCancelled means another dial to the same peer is in flight.
	ErrDialCancelled     = errors.New("transport: dial cancelled")
	ErrRemoteKeyMismatch = errors.New("transport: remote key does not match")
	ErrClosed            = errors.New("transport: closed")
)

// Stream is an authenticated byte stream to one remote node.
type Stream interface {
	io.ReadWriteCloser
	RemotePublicKey() ed25519.PublicKey
}

// Transport opens and accepts authenticated streams.
type Transport interface {
	// Listen binds addr and returns the address actually bound.
	Listen(ctx context.Context, addr string) (string, error)
	// Accept blocks until an inbound stream is authenticated.
	Accept(ctx context.Context) (Stream, error)
	// Dial opens a stream to addr. When expect is set, the remote must
	// authenticate with that key.
	Dial(ctx context.Context, addr string, expect ed25519.PublicKey) (Stream, error)
	Close() error
}

// CheckRemote returns ErrRemoteKeyMismatch when expect is set and differs from got.
func CheckRemote(expect, got ed25519.PublicKey) error {
	if len(expect) > 0 && !expect.Equal(got) {
		return ErrRemoteKeyMismatch
	}
	return nil
}
