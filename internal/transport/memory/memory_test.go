package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"p2p-relay/internal/transport"
)

func newKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub
}

func TestDialAccept(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork()
	aKey, bKey := newKey(t), newKey(t)
	a, b := n.Transport(aKey), n.Transport(bKey)
	defer a.Close()
	defer b.Close()

	addr, err := b.Listen(ctx, "")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	out, err := a.Dial(ctx, addr, bKey)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	in, err := b.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !in.RemotePublicKey().Equal(aKey) || !out.RemotePublicKey().Equal(bKey) {
		t.Fatalf("remote keys not propagated")
	}

	go func() { _, _ = out.Write([]byte("ping")) }()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(in, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("expected ping, got %q", buf)
	}
}

func TestDialErrors(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork()
	a, b := n.Transport(newKey(t)), n.Transport(newKey(t))
	addr, err := b.Listen(ctx, "b:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := a.Dial(ctx, addr, newKey(t)); !errors.Is(err, transport.ErrRemoteKeyMismatch) {
		t.Fatalf("expected ErrRemoteKeyMismatch, got %v", err)
	}
	n.Disconnect(addr)
	if _, err := a.Dial(ctx, addr, nil); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}
