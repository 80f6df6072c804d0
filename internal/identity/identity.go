package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/peers"
)

// NodeIdentity is this node's long-term signing key and the NodeID derived from it.
type NodeIdentity struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	nodeID dht.NodeID
}

type identityFile struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

func Generate() (*NodeIdentity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(priv), nil
}

func FromPrivateKey(priv ed25519.PrivateKey) *NodeIdentity {
	pub := priv.Public().(ed25519.PublicKey)
	return &NodeIdentity{
		priv:   priv,
		pub:    pub,
		nodeID: dht.NodeIDFromPublicKey(pub),
	}
}

func (id *NodeIdentity) PublicKey() ed25519.PublicKey { return id.pub }

func (id *NodeIdentity) PrivateKey() ed25519.PrivateKey { return id.priv }

func (id *NodeIdentity) NodeID() dht.NodeID { return id.nodeID }

func (id *NodeIdentity) PublicKeyHex() string { return peers.PublicKeyHex(id.pub) }

func (id *NodeIdentity) Sign(data []byte) []byte { return ed25519.Sign(id.priv, data) }

// Save writes the identity with owner-only permissions.
func (id *NodeIdentity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(identityFile{
		PrivateKey: hex.EncodeToString(id.priv),
		PublicKey:  id.PublicKeyHex(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*NodeIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("identity decode: %w", err)
	}
	b, err := hex.DecodeString(f.PrivateKey)
	if err != nil || len(b) != ed25519.PrivateKeySize {
		return nil, errors.New("identity: invalid private_key")
	}
	id := FromPrivateKey(ed25519.PrivateKey(b))
	if f.PublicKey != "" && f.PublicKey != id.PublicKeyHex() {
		return nil, errors.New("identity: public_key does not match private_key")
	}
	return id, nil
}

// LoadOrGenerate loads the identity at path, creating one on first run.
func LoadOrGenerate(path string) (*NodeIdentity, bool, error) {
	id, err := Load(path)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	id, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(path); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
