package bootstrap

import (
	"context"
	"sort"

	"p2p-relay/internal/peers"
)

// PeerStoreSource replays the directory snapshot saved by a previous run,
// most recently seen first. Limit caps the replayed peers; zero replays the
// whole snapshot.
type PeerStoreSource struct {
	Store *peers.FileStore
	Limit int
}

func (s PeerStoreSource) Name() string { return "peerstore" }

func (s PeerStoreSource) MaxPeers() int { return s.Limit }

func (s PeerStoreSource) Discover(ctx context.Context) ([]peers.Peer, error) {
	c, err := s.Store.Load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(c, func(i, j int) bool { return c[i].LastSeen.After(c[j].LastSeen) })
	if s.Limit > 0 && len(c) > s.Limit {
		c = c[:s.Limit]
	}
	return c, nil
}
