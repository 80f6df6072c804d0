package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"p2p-relay/internal/identity"
	"p2p-relay/internal/peers"
)

func newID(t *testing.T) *identity.NodeIdentity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestParseEntry(t *testing.T) {
	id := newID(t)
	p, err := ParseEntry(id.PublicKeyHex() + "@127.0.0.1:9000")
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if p.NodeID != id.NodeID() || len(p.Addresses) != 1 || p.Addresses[0] != "127.0.0.1:9000" {
		t.Fatalf("unexpected peer %+v", p)
	}

	for _, bad := range []string{"", "nokey", id.PublicKeyHex() + "@", "zz@127.0.0.1:1"} {
		if _, err := ParseEntry(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRunOnce_StaticAndPeerStore(t *testing.T) {
	self := newID(t)
	a, b := newID(t), newID(t)

	store := peers.NewFileStore(filepath.Join(t.TempDir(), "peers.json"))
	saved := peers.NewDirectory(newID(t).NodeID())
	if err := saved.Add(peers.New(a.PublicKey(), peers.CommunicationNode, "old-a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := saved.Add(peers.New(b.PublicKey(), peers.CommunicationNode, "b")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Save(saved.All()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dir := peers.NewDirectory(self.NodeID())
	n := RunOnce(context.Background(), dir, DefaultConfig(), nil,
		StaticSource{Entries: []string{a.PublicKeyHex() + "@seed-a", self.PublicKeyHex() + "@me"}},
		PeerStoreSource{Store: store},
	)
	if n != 2 {
		t.Fatalf("expected 2 peers added, got %d", n)
	}
	got, err := dir.Find(a.NodeID())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Addresses[0] != "seed-a" {
		t.Fatalf("static entry should win, got %v", got.Addresses)
	}
	if !dir.Exists(b.NodeID()) {
		t.Fatalf("expected peer from snapshot")
	}
}

func TestRunOnce_CapIsPerSource(t *testing.T) {
	const savedPeers, seeds = 100, 12
	store := peers.NewFileStore(filepath.Join(t.TempDir(), "peers.json"))
	saved := peers.NewDirectory(newID(t).NodeID())
	for i := 0; i < savedPeers; i++ {
		if err := saved.Add(peers.New(newID(t).PublicKey(), peers.CommunicationNode, "x")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := store.Save(saved.All()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	var entries []string
	for i := 0; i < seeds; i++ {
		entries = append(entries, newID(t).PublicKeyHex()+"@seed")
	}

	dir := peers.NewDirectory(newID(t).NodeID())
	n := RunOnce(context.Background(), dir, Config{MaxPeersPerRound: 10}, nil,
		StaticSource{Entries: entries},
		PeerStoreSource{Store: store},
	)
	if n != 10+savedPeers {
		t.Fatalf("expected 10 seeds and the whole snapshot, got %d", n)
	}

	dir = peers.NewDirectory(newID(t).NodeID())
	if n := RunOnce(context.Background(), dir, DefaultConfig(), nil, PeerStoreSource{Store: store, Limit: 30}); n != 30 {
		t.Fatalf("expected the source limit to apply, got %d", n)
	}
}
