package peers

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"p2p-relay/internal/dht"
)

// Features advertise what a peer is willing to do for the network.
type Features uint32

const (
	// FeatureMessagePropagation marks a peer that relays messages for others.
	FeatureMessagePropagation Features = 1 << iota
	// FeatureStoreForward marks a peer that stages messages for offline peers.
	FeatureStoreForward
)

// CommunicationNode is the feature set of a full relay.
const CommunicationNode = FeatureMessagePropagation | FeatureStoreForward

// CommunicationClient relays nothing.
const CommunicationClient Features = 0

func (f Features) Has(other Features) bool { return f&other == other }

func (f Features) String() string {
	if f == 0 {
		return "client"
	}
	var parts []string
	if f.Has(FeatureMessagePropagation) {
		parts = append(parts, "propagation")
	}
	if f.Has(FeatureStoreForward) {
		parts = append(parts, "store-forward")
	}
	return strings.Join(parts, "|")
}

type ConnState int

const (
	StateUnknown ConnState = iota
	StateOnline
	StateOffline
)

func (s ConnState) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Peer is the directory record for a remote node.
type Peer struct {
	PublicKey ed25519.PublicKey
	NodeID    dht.NodeID
	Addresses []string
	Features  Features
	State     ConnState
	LastSeen  time.Time
}

// New builds a peer record, deriving the NodeID from the key.
func New(pub ed25519.PublicKey, features Features, addrs ...string) Peer {
	return Peer{
		PublicKey: append(ed25519.PublicKey(nil), pub...),
		NodeID:    dht.NodeIDFromPublicKey(pub),
		Addresses: append([]string(nil), addrs...),
		Features:  features,
	}
}

// IsClient reports whether the peer does not relay messages.
func (p Peer) IsClient() bool { return !p.Features.Has(FeatureMessagePropagation) }

func (p Peer) clone() Peer {
	p.PublicKey = append(ed25519.PublicKey(nil), p.PublicKey...)
	p.Addresses = append([]string(nil), p.Addresses...)
	return p
}

func (p Peer) String() string {
	return fmt.Sprintf("%s(%s)", p.NodeID, p.Features)
}

// PublicKeyHex is the canonical text form of a peer key.
func PublicKeyHex(pub ed25519.PublicKey) string { return hex.EncodeToString(pub) }

func ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// ShortKey is a log-friendly key prefix.
func ShortKey(pub ed25519.PublicKey) string {
	s := PublicKeyHex(pub)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
