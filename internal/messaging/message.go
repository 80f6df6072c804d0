package messaging

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"p2p-relay/internal/dht"
)

// MessageTag correlates a queued message with its sent/failed event.
type MessageTag uint64

func NewMessageTag() MessageTag {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return MessageTag(binary.BigEndian.Uint64(b[:]))
}

func (t MessageTag) String() string { return fmt.Sprintf("MessageTag#%d", uint64(t)) }

// OutboundMessage is one body bound for one peer.
type OutboundMessage struct {
	Tag        MessageTag
	PeerNodeID dht.NodeID
	Body       []byte
}

// InboundMessage is a verified frame read from a peer's substream.
type InboundMessage struct {
	Tag             MessageTag
	SourcePublicKey ed25519.PublicKey
	SourceNodeID    dht.NodeID
	Body            []byte
}
