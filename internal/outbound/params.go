package outbound

import (
	"crypto/ed25519"

	"p2p-relay/internal/envelope"
)

// Encryption is either cleartext or encrypt-for a single public key.
type Encryption struct {
	to ed25519.PublicKey
}

func ClearText() Encryption { return Encryption{} }

func EncryptFor(pub ed25519.PublicKey) Encryption {
	return Encryption{to: append(ed25519.PublicKey(nil), pub...)}
}

func (e Encryption) IsEncrypted() bool { return len(e.to) > 0 }

func (e Encryption) Recipient() ed25519.PublicKey { return e.to }

// SendParams describe one logical send.
type SendParams struct {
	// Strategy picks recipients. Unset means SelectStrategy over Destination.
	Strategy    BroadcastStrategy
	Destination envelope.Destination
	MessageType envelope.MessageType
	Encryption  Encryption
	// IncludeOrigin attaches an origin MAC so the final recipient can
	// authenticate the author.
	IncludeOrigin bool
	// ForwardHeader propagates an existing header verbatim; the body is then
	// sent as is, without re-encryption.
	ForwardHeader *envelope.Header
}
