package storeforward

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/inbound"
)

var (
	ErrStorage  = errors.New("storeforward: storage failure")
	ErrNotFound = errors.New("storeforward: message not found")
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// StoredMessage is a message held for a peer that was not reachable when it
// passed through. Stored messages are never updated in place.
type StoredMessage struct {
	ID                   uuid.UUID            `json:"id"`
	OriginPublicKey      ed25519.PublicKey    `json:"origin_public_key,omitempty"`
	DestinationPublicKey ed25519.PublicKey    `json:"destination_public_key,omitempty"`
	DestinationNodeID    *dht.NodeID          `json:"destination_node_id,omitempty"`
	MessageType          envelope.MessageType `json:"message_type"`
	Priority             Priority             `json:"priority"`
	IsEncrypted          bool                 `json:"is_encrypted"`
	// Header is the encoded envelope header, kept so the message can be
	// replayed exactly as it was received.
	Header   []byte    `json:"header"`
	Body     []byte    `json:"body"`
	StoredAt time.Time `json:"stored_at"`
}

// IsAnonymous reports whether only the anonymous pool may serve m.
func (m StoredMessage) IsAnonymous() bool {
	return m.OriginPublicKey == nil && m.DestinationPublicKey == nil && m.DestinationNodeID == nil && m.IsEncrypted
}

// NewStoredMessage captures msg for staging. The origin is only recorded when
// it was authenticated.
func NewStoredMessage(msg *inbound.DecryptedMessage, priority Priority) (StoredMessage, error) {
	header, err := envelope.EncodeHeader(msg.Header)
	if err != nil {
		return StoredMessage{}, err
	}
	return FromHeader(msg.Header, header, msg.Origin(), msg.Body, priority), nil
}

// FromHeader builds a stored message from an already encoded header.
func FromHeader(h envelope.Header, encodedHeader []byte, origin ed25519.PublicKey, body []byte, priority Priority) StoredMessage {
	m := StoredMessage{
		OriginPublicKey: origin,
		MessageType:     h.MessageType,
		Priority:        priority,
		IsEncrypted:     h.IsEncrypted(),
		Header:          encodedHeader,
		Body:            body,
	}
	switch h.Destination.Kind() {
	case envelope.DestinationPublicKey:
		m.DestinationPublicKey = h.Destination.PublicKey()
	case envelope.DestinationNodeID:
		id, _ := h.Destination.NodeID()
		m.DestinationNodeID = &id
	}
	return m
}

// Envelope rebuilds the wire envelope of m.
func (m StoredMessage) Envelope() (envelope.DhtEnvelope, error) {
	h, err := envelope.DecodeHeader(m.Header)
	if err != nil {
		return envelope.DhtEnvelope{}, err
	}
	return envelope.DhtEnvelope{Header: h, Body: m.Body}, nil
}
