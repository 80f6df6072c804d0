package outbound

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"slices"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/peers"
)

type StrategyKind int

const (
	StrategyDirectPublicKey StrategyKind = iota + 1
	StrategyDirectNodeID
	StrategyNeighbours
	StrategyNeighboursIncludeClients
	StrategyFlood
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyDirectPublicKey:
		return "direct_public_key"
	case StrategyDirectNodeID:
		return "direct_node_id"
	case StrategyNeighbours:
		return "neighbours"
	case StrategyNeighboursIncludeClients:
		return "neighbours_include_clients"
	case StrategyFlood:
		return "flood"
	}
	return "unset"
}

// BroadcastStrategy says which peers receive a message. The zero value means
// "pick from the destination".
type BroadcastStrategy struct {
	Kind StrategyKind
	// PublicKey is the target of StrategyDirectPublicKey.
	PublicKey ed25519.PublicKey
	// NodeID is the target of StrategyDirectNodeID, or the reference point
	// neighbours are chosen around.
	NodeID   dht.NodeID
	Excluded []ed25519.PublicKey
}

func DirectPublicKey(pub ed25519.PublicKey) BroadcastStrategy {
	return BroadcastStrategy{Kind: StrategyDirectPublicKey, PublicKey: pub}
}

func DirectNodeID(id dht.NodeID) BroadcastStrategy {
	return BroadcastStrategy{Kind: StrategyDirectNodeID, NodeID: id}
}

func Neighbours(around dht.NodeID, excluded ...ed25519.PublicKey) BroadcastStrategy {
	return BroadcastStrategy{Kind: StrategyNeighbours, NodeID: around, Excluded: excluded}
}

func NeighboursIncludeClients(around dht.NodeID, excluded ...ed25519.PublicKey) BroadcastStrategy {
	return BroadcastStrategy{Kind: StrategyNeighboursIncludeClients, NodeID: around, Excluded: excluded}
}

// Flood reaches every known communication node.
func Flood(excluded ...ed25519.PublicKey) BroadcastStrategy {
	return BroadcastStrategy{Kind: StrategyFlood, Excluded: excluded}
}

func (s BroadcastStrategy) IsSet() bool { return s.Kind != 0 }

func (s BroadcastStrategy) IsDirect() bool {
	return s.Kind == StrategyDirectPublicKey || s.Kind == StrategyDirectNodeID
}

func (s BroadcastStrategy) String() string {
	switch s.Kind {
	case StrategyDirectPublicKey:
		return fmt.Sprintf("DirectPublicKey(%s)", peers.ShortKey(s.PublicKey))
	case StrategyDirectNodeID:
		return fmt.Sprintf("DirectNodeID(%s)", s.NodeID)
	case StrategyNeighbours, StrategyNeighboursIncludeClients, StrategyFlood:
		return fmt.Sprintf("%s(%d excluded)", s.Kind, len(s.Excluded))
	}
	return s.Kind.String()
}

// SelectStrategy maps a destination to a strategy. Known peers are reached
// directly; everything else goes to the neighbourhood of the destination (or
// of this node when the destination is Unknown). Discovery messages also
// reach clients, since the peer being looked for may be one.
func SelectStrategy(dir *peers.Directory, dest envelope.Destination, msgType envelope.MessageType, excluded []ed25519.PublicKey) BroadcastStrategy {
	neighbours := Neighbours
	if msgType == envelope.MessageTypeDiscovery {
		neighbours = NeighboursIncludeClients
	}

	switch dest.Kind() {
	case envelope.DestinationPublicKey:
		if dir.ExistsPublicKey(dest.PublicKey()) {
			return DirectPublicKey(dest.PublicKey())
		}
	case envelope.DestinationNodeID:
		id, _ := dest.NodeID()
		if dir.Exists(id) {
			return DirectNodeID(id)
		}
	}

	around, ok := dest.NodeID()
	if !ok {
		around = dir.Self()
	}
	return neighbours(around, excluded...)
}

// Plan is the resolved set of recipients.
type Plan struct {
	Strategy BroadcastStrategy
	Peers    []peers.Peer
}

func (p Plan) IsEmpty() bool { return len(p.Peers) == 0 }

// Resolve turns a strategy into concrete peers. It never returns a peer in
// the exclusion set, nor this node itself.
func Resolve(dir *peers.Directory, s BroadcastStrategy, numNeighbours int) Plan {
	excluded := func(p peers.Peer) bool {
		if p.NodeID == dir.Self() {
			return true
		}
		return slices.ContainsFunc(s.Excluded, func(k ed25519.PublicKey) bool {
			return bytes.Equal(k, p.PublicKey)
		})
	}
	relay := func(p peers.Peer) bool {
		return !excluded(p) && !p.IsClient() && p.State != peers.StateOffline
	}

	plan := Plan{Strategy: s}
	switch s.Kind {
	case StrategyDirectPublicKey:
		if p, err := dir.FindByPublicKey(s.PublicKey); err == nil && !excluded(p) {
			plan.Peers = []peers.Peer{p}
		}
	case StrategyDirectNodeID:
		if p, err := dir.Find(s.NodeID); err == nil && !excluded(p) {
			plan.Peers = []peers.Peer{p}
		}
	case StrategyNeighbours:
		plan.Peers = dir.Closest(s.NodeID, numNeighbours, relay)
	case StrategyNeighboursIncludeClients:
		plan.Peers = dir.Closest(s.NodeID, numNeighbours, func(p peers.Peer) bool {
			return !excluded(p) && p.State != peers.StateOffline
		})
	case StrategyFlood:
		plan.Peers = dir.Closest(dir.Self(), dir.Len(), relay)
	}
	return plan
}
