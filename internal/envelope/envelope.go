package envelope

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/proto"
)

var ErrMalformed = errors.New("envelope: malformed")

// DhtEnvelope is what travels between relays: a header plus an opaque body,
// which is ciphertext when the header says so.
type DhtEnvelope struct {
	Header Header
	Body   []byte
}

func (e DhtEnvelope) Encode() ([]byte, error) {
	return proto.Marshal(toWire(e))
}

func Decode(b []byte) (DhtEnvelope, error) {
	var w proto.DhtEnvelope
	if err := proto.Unmarshal(b, &w); err != nil {
		return DhtEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}

// EncodeHeader is used where a header is stored apart from its body.
func EncodeHeader(h Header) ([]byte, error) {
	return proto.Marshal(headerToWire(h))
}

func DecodeHeader(b []byte) (Header, error) {
	var w proto.DhtHeader
	if err := proto.Unmarshal(b, &w); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return headerFromWire(w)
}

func toWire(e DhtEnvelope) proto.DhtEnvelope {
	return proto.DhtEnvelope{Header: headerToWire(e.Header), Body: e.Body}
}

func fromWire(w proto.DhtEnvelope) (DhtEnvelope, error) {
	h, err := headerFromWire(w.Header)
	if err != nil {
		return DhtEnvelope{}, err
	}
	return DhtEnvelope{Header: h, Body: w.Body}, nil
}

func headerToWire(h Header) proto.DhtHeader {
	d := proto.Destination{Kind: uint8(h.Destination.kind)}
	switch h.Destination.kind {
	case DestinationPublicKey:
		d.PublicKey = h.Destination.publicKey
	case DestinationNodeID:
		d.NodeID = h.Destination.nodeID[:]
	}
	return proto.DhtHeader{
		Version:            h.Version,
		Destination:        d,
		OriginMAC:          h.OriginMAC,
		EphemeralPublicKey: h.EphemeralPublicKey,
		MessageType:        int32(h.MessageType),
		Network:            uint8(h.Network),
		Flags:              uint32(h.Flags),
	}
}

func headerFromWire(w proto.DhtHeader) (Header, error) {
	var dest Destination
	switch DestinationKind(w.Destination.Kind) {
	case DestinationUnknown:
	case DestinationPublicKey:
		if len(w.Destination.PublicKey) != ed25519.PublicKeySize {
			return Header{}, fmt.Errorf("%w: destination key length %d", ErrMalformed, len(w.Destination.PublicKey))
		}
		dest = ToPublicKey(w.Destination.PublicKey)
	case DestinationNodeID:
		if len(w.Destination.NodeID) != dht.NodeIDBytes {
			return Header{}, fmt.Errorf("%w: destination node id length %d", ErrMalformed, len(w.Destination.NodeID))
		}
		var id dht.NodeID
		copy(id[:], w.Destination.NodeID)
		dest = ToNodeID(id)
	default:
		return Header{}, fmt.Errorf("%w: destination kind %d", ErrMalformed, w.Destination.Kind)
	}
	h := Header{
		Version:            w.Version,
		Destination:        dest,
		OriginMAC:          w.OriginMAC,
		EphemeralPublicKey: w.EphemeralPublicKey,
		MessageType:        MessageType(w.MessageType),
		Network:            Network(w.Network),
		Flags:              Flags(w.Flags),
	}
	return h.clone(), nil
}
