package envelope

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/peers"
)

type DestinationKind uint8

const (
	DestinationUnknown DestinationKind = iota
	DestinationPublicKey
	DestinationNodeID
)

// Destination says who a message is ultimately meant for. The zero value is
// Unknown.
type Destination struct {
	kind      DestinationKind
	publicKey ed25519.PublicKey
	nodeID    dht.NodeID
}

func Unknown() Destination { return Destination{} }

func ToPublicKey(pub ed25519.PublicKey) Destination {
	return Destination{kind: DestinationPublicKey, publicKey: append(ed25519.PublicKey(nil), pub...)}
}

func ToNodeID(id dht.NodeID) Destination {
	return Destination{kind: DestinationNodeID, nodeID: id}
}

func (d Destination) Kind() DestinationKind { return d.kind }

func (d Destination) IsUnknown() bool { return d.kind == DestinationUnknown }

// PublicKey returns the key for DestinationPublicKey, nil otherwise.
func (d Destination) PublicKey() ed25519.PublicKey {
	if d.kind != DestinationPublicKey {
		return nil
	}
	return d.publicKey
}

// NodeID returns the identifier the destination resolves to. Public key
// destinations derive it from the key.
func (d Destination) NodeID() (dht.NodeID, bool) {
	switch d.kind {
	case DestinationNodeID:
		return d.nodeID, true
	case DestinationPublicKey:
		return dht.NodeIDFromPublicKey(d.publicKey), true
	}
	return dht.NodeID{}, false
}

// MatchesPeer reports whether the destination names p.
func (d Destination) MatchesPeer(p peers.Peer) bool {
	switch d.kind {
	case DestinationPublicKey:
		return bytes.Equal(d.publicKey, p.PublicKey)
	case DestinationNodeID:
		return d.nodeID == p.NodeID
	}
	return false
}

// MatchesSelf reports whether a node with this key and id is the destination.
// Unknown matches nobody in particular.
func (d Destination) MatchesSelf(pub ed25519.PublicKey, id dht.NodeID) bool {
	switch d.kind {
	case DestinationPublicKey:
		return bytes.Equal(d.publicKey, pub)
	case DestinationNodeID:
		return d.nodeID == id
	}
	return false
}

func (d Destination) Equal(other Destination) bool {
	return d.kind == other.kind && bytes.Equal(d.publicKey, other.publicKey) && d.nodeID == other.nodeID
}

func (d Destination) String() string {
	switch d.kind {
	case DestinationPublicKey:
		return fmt.Sprintf("PublicKey(%s)", peers.ShortKey(d.publicKey))
	case DestinationNodeID:
		return fmt.Sprintf("NodeID(%s)", d.nodeID)
	}
	return "Unknown"
}
