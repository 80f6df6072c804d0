package bootstrap

import (
	"context"

	"p2p-relay/internal/peers"
)

type PeerSource interface {
	// Discover returns candidate peers to seed the directory with.
	Discover(ctx context.Context) ([]peers.Peer, error)
	Name() string
}

// Bounded is implemented by sources that set their own cap instead of
// Config.MaxPeersPerRound. A cap of zero or less means no cap.
type Bounded interface {
	MaxPeers() int
}
