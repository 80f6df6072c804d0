package inbound

import (
	"context"
	"crypto/ed25519"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/peers"
)

// DecryptedMessage is an inbound envelope after the decryption stage.
type DecryptedMessage struct {
	Tag    messaging.MessageTag
	Source peers.Peer
	Header envelope.Header
	// AuthenticatedOrigin is set when the origin MAC was present and valid.
	AuthenticatedOrigin ed25519.PublicKey
	// Body is the body as received, ciphertext for encrypted messages.
	Body []byte
	// Plaintext is nil when decryption failed.
	Plaintext []byte
	// ForThisNode reports whether the local node is a recipient.
	ForThisNode bool

	decryptionFailed bool
}

// Succeeded builds a message whose body was read by this node.
func Succeeded(source peers.Peer, h envelope.Header, origin ed25519.PublicKey, body, plaintext []byte) *DecryptedMessage {
	return &DecryptedMessage{Source: source, Header: h, AuthenticatedOrigin: origin, Body: body, Plaintext: plaintext}
}

// Failed builds a message whose body this node could not decrypt.
func Failed(source peers.Peer, h envelope.Header, body []byte) *DecryptedMessage {
	return &DecryptedMessage{Source: source, Header: h, Body: body, decryptionFailed: true}
}

// DecryptionFailed is true for encrypted messages this node holds no key for.
func (m *DecryptedMessage) DecryptionFailed() bool { return m.decryptionFailed }

// Origin returns the authenticated origin, or nil.
func (m *DecryptedMessage) Origin() ed25519.PublicKey { return m.AuthenticatedOrigin }

type Handler interface {
	HandleMessage(ctx context.Context, msg *DecryptedMessage) error
}

type HandlerFunc func(ctx context.Context, msg *DecryptedMessage) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *DecryptedMessage) error {
	return f(ctx, msg)
}

// Middleware wraps the next stage of the chain.
type Middleware func(next Handler) Handler

// Chain applies mws so that the first one runs first.
func Chain(final Handler, mws ...Middleware) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Discard is a terminal stage that drops everything.
var Discard Handler = HandlerFunc(func(context.Context, *DecryptedMessage) error { return nil })
