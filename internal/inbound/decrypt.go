package inbound

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"p2p-relay/internal/crypto/ecies"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/proto"
)

var (
	ErrInvalidOrigin = errors.New("inbound: invalid origin mac")
	ErrInvalidHeader = errors.New("inbound: invalid header")
)

// Decrypt opens env for id. A message encrypted for someone else is not an
// error: it comes back with DecryptionFailed set and its body untouched.
func Decrypt(id *identity.NodeIdentity, env envelope.DhtEnvelope) (*DecryptedMessage, error) {
	msg := &DecryptedMessage{Header: env.Header, Body: env.Body}

	if !env.Header.IsEncrypted() {
		if len(env.Header.OriginMAC) > 0 {
			origin, err := verifyOrigin(env.Header.OriginMAC, env.Body)
			if err != nil {
				return nil, err
			}
			msg.AuthenticatedOrigin = origin
		}
		msg.Plaintext = env.Body
		return msg, nil
	}

	eph, ok := env.Header.EphemeralKey()
	if !ok {
		return nil, fmt.Errorf("%w: encrypted message without ephemeral key", ErrInvalidHeader)
	}
	key, err := ecies.RecipientKey(id.PrivateKey(), eph)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	if len(env.Header.OriginMAC) > 0 {
		rawMAC, err := ecies.Open(key, ecies.LabelOrigin, env.Header.OriginMAC)
		if err != nil {
			msg.decryptionFailed = true
			return msg, nil
		}
		origin, err := verifyOrigin(rawMAC, env.Body)
		if err != nil {
			return nil, err
		}
		msg.AuthenticatedOrigin = origin
	}

	pt, err := ecies.Open(key, ecies.LabelBody, env.Body)
	if err != nil {
		if msg.AuthenticatedOrigin != nil {
			// The origin block opened, so the body was sealed for us and is corrupt.
			return nil, fmt.Errorf("inbound: body does not open under origin key: %w", err)
		}
		msg.decryptionFailed = true
		return msg, nil
	}
	msg.Plaintext = pt
	return msg, nil
}

func verifyOrigin(raw, signed []byte) (ed25519.PublicKey, error) {
	var mac proto.OriginMAC
	if err := proto.Unmarshal(raw, &mac); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if len(mac.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidOrigin, len(mac.PublicKey))
	}
	if !ed25519.Verify(mac.PublicKey, signed, mac.Signature) {
		return nil, ErrInvalidOrigin
	}
	return ed25519.PublicKey(mac.PublicKey), nil
}
