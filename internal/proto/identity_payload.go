package proto

// HandshakePayload is carried inside a secure channel handshake. It binds
// the node's ed25519 identity to the channel's static key.
type HandshakePayload struct {
	PublicKey []byte `cbor:"1,keyasint"`
	// Signature covers the sender's channel static public key.
	Signature []byte `cbor:"2,keyasint"`
}
