// Package ecies encrypts messages to a peer's ed25519 identity key.
//
// The sender generates an ephemeral X25519 key, agrees a secret with the
// recipient's identity key mapped onto Curve25519, and derives per-purpose
// XChaCha20-Poly1305 keys with HKDF-SHA256. Only the holder of the identity
// key can open the result, so a failed Open means "not for me".
package ecies

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "p2p-relay-ecies-v1/"

// Labels separate keys derived from the same shared secret.
const (
	LabelBody   = "body"
	LabelOrigin = "origin-mac"
)

// ErrDecryptFailed is the expected outcome for messages addressed to someone else.
var ErrDecryptFailed = errors.New("ecies: decryption failed")

// SharedKey is the agreed secret plus the ephemeral public key that salts it.
type SharedKey struct {
	secret []byte
	ephPub []byte
}

// EphemeralPublicKey is the value the sender must ship to the recipient.
func (k SharedKey) EphemeralPublicKey() []byte { return append([]byte(nil), k.ephPub...) }

// NewSenderKey creates a fresh ephemeral key and agrees a secret with recipient.
func NewSenderKey(recipient ed25519.PublicKey) (SharedKey, error) {
	recipientX, err := PublicKeyToX25519(recipient)
	if err != nil {
		return SharedKey{}, err
	}
	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, ephPriv); err != nil {
		return SharedKey{}, err
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return SharedKey{}, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientX)
	if err != nil {
		return SharedKey{}, err
	}
	return SharedKey{secret: shared, ephPub: ephPub}, nil
}

// RecipientKey recomputes the sender's secret from our identity key.
func RecipientKey(priv ed25519.PrivateKey, ephPub []byte) (SharedKey, error) {
	if len(ephPub) != curve25519.PointSize {
		return SharedKey{}, ErrDecryptFailed
	}
	shared, err := curve25519.X25519(PrivateKeyToX25519(priv), ephPub)
	if err != nil {
		return SharedKey{}, ErrDecryptFailed
	}
	return SharedKey{secret: shared, ephPub: append([]byte(nil), ephPub...)}, nil
}

// Seal encrypts plaintext under the key for label. Output: nonce(24) || ct+tag.
func Seal(k SharedKey, label string, plaintext []byte) ([]byte, error) {
	aead, err := k.aead(label)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func Open(k SharedKey, label string, data []byte) ([]byte, error) {
	if len(data) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrDecryptFailed
	}
	aead, err := k.aead(label)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	pt, err := aead.Open(nil, data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return pt, nil
}

func (k SharedKey) aead(label string) (cipher.AEAD, error) {
	if len(k.secret) == 0 {
		return nil, errors.New("ecies: empty shared key")
	}
	r := hkdf.New(sha256.New, k.secret, k.ephPub, []byte(hkdfInfo+label))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

// PublicKeyToX25519 maps an ed25519 public key to its Montgomery form.
func PublicKeyToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ecies: public key length %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("ecies: invalid public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// PrivateKeyToX25519 returns the clamped scalar matching PublicKeyToX25519.
func PrivateKeyToX25519(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	s := h[:curve25519.ScalarSize]
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s
}
