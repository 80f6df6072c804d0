package tcp

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"p2p-relay/internal/identity"
	"p2p-relay/internal/transport"
)

func newTestTransport(t *testing.T) (*Transport, *identity.NodeIdentity) {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	tr, err := New(DefaultConfig(), id, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, id
}

func TestDialAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, serverID := newTestTransport(t)
	client, clientID := newTestTransport(t)

	addr, err := server.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	out, err := client.Dial(ctx, addr, serverID.PublicKey())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer out.Close()

	if _, err := out.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	in, err := server.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer in.Close()

	if !in.RemotePublicKey().Equal(clientID.PublicKey()) {
		t.Fatalf("server saw wrong client key")
	}
	if !out.RemotePublicKey().Equal(serverID.PublicKey()) {
		t.Fatalf("client saw wrong server key")
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(in, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected hello, got %q", buf)
	}
}

func TestDialRejectsWrongKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, _ := newTestTransport(t)
	client, _ := newTestTransport(t)
	other, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}

	addr, err := server.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	_, err = client.Dial(ctx, addr, other.PublicKey())
	if !errors.Is(err, transport.ErrRemoteKeyMismatch) {
		t.Fatalf("expected ErrRemoteKeyMismatch, got %v", err)
	}
}

func TestAcceptAfterClose(t *testing.T) {
	tr, _ := newTestTransport(t)
	_ = tr.Close()
	if _, err := tr.Accept(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
