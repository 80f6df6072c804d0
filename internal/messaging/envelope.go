package messaging

import (
	"crypto/ed25519"
	"errors"

	"p2p-relay/internal/identity"
	"p2p-relay/internal/proto"
	"p2p-relay/internal/transport"
)

var (
	ErrInvalidSignature = errors.New("messaging: invalid envelope signature")
	ErrMessageTooLarge  = errors.New("messaging: message too large for one frame")
)

// sealOverhead bounds the bytes the hop envelope adds around a body: key,
// signature and CBOR headers.
const sealOverhead = 256

// MaxMessageSize is the largest body that still fits one frame once sealed.
const MaxMessageSize = transport.MaxFrameSize - sealOverhead

// sealEnvelope signs body with this node's key for a single hop.
func sealEnvelope(id *identity.NodeIdentity, body []byte) ([]byte, error) {
	return proto.Marshal(proto.SignedEnvelope{
		PublicKey: id.PublicKey(),
		Signature: id.Sign(body),
		Body:      body,
	})
}

// openEnvelope decodes a frame and checks the hop signature.
func openEnvelope(frame []byte) (proto.SignedEnvelope, error) {
	var env proto.SignedEnvelope
	if err := proto.Unmarshal(frame, &env); err != nil {
		return env, err
	}
	if len(env.PublicKey) != ed25519.PublicKeySize || !ed25519.Verify(env.PublicKey, env.Body, env.Signature) {
		return env, ErrInvalidSignature
	}
	return env, nil
}
