package proto

// OriginMAC authenticates the author of a message independently of the hop
// that delivered it. Signature covers the wire body.
type OriginMAC struct {
	PublicKey []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
}

// SignedEnvelope is the per-hop frame exchanged on a messaging substream.
type SignedEnvelope struct {
	PublicKey []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
	Body      []byte `cbor:"3,keyasint"`
}

// Destination on the wire. Kind 0 is unknown.
type Destination struct {
	Kind      uint8  `cbor:"1,keyasint"`
	PublicKey []byte `cbor:"2,keyasint,omitempty"`
	NodeID    []byte `cbor:"3,keyasint,omitempty"`
}

type DhtHeader struct {
	Version            uint32      `cbor:"1,keyasint"`
	Destination        Destination `cbor:"2,keyasint"`
	OriginMAC          []byte      `cbor:"3,keyasint,omitempty"`
	EphemeralPublicKey []byte      `cbor:"4,keyasint,omitempty"`
	MessageType        int32       `cbor:"5,keyasint"`
	Network            uint8       `cbor:"6,keyasint"`
	Flags              uint32      `cbor:"7,keyasint"`
}

type DhtEnvelope struct {
	Header DhtHeader `cbor:"1,keyasint"`
	Body   []byte    `cbor:"2,keyasint"`
}

// JoinMessage announces a node to its neighbourhood.
type JoinMessage struct {
	Addresses []string `cbor:"1,keyasint"`
	Features  uint32   `cbor:"2,keyasint"`
}

type DiscoveryRequest struct {
	Nonce     uint64   `cbor:"1,keyasint"`
	Addresses []string `cbor:"2,keyasint"`
	Features  uint32   `cbor:"3,keyasint"`
}

type DiscoveryResponse struct {
	Nonce     uint64   `cbor:"1,keyasint"`
	Addresses []string `cbor:"2,keyasint"`
	Features  uint32   `cbor:"3,keyasint"`
}

// SafRequest asks a store-and-forward node for messages stored at or after
// Since (unix nanoseconds, 0 for everything).
type SafRequest struct {
	Since int64 `cbor:"1,keyasint"`
}

type StoredMessage struct {
	StoredAt int64  `cbor:"1,keyasint"`
	Header   []byte `cbor:"2,keyasint"`
	Body     []byte `cbor:"3,keyasint"`
}

type SafStoredMessages struct {
	Messages []StoredMessage `cbor:"1,keyasint"`
}
