package node

import (
	"path/filepath"

	"p2p-relay/internal/connmgr"
	"p2p-relay/internal/discovery"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/storeforward"
)

type Config struct {
	DataDir    string
	ListenAddr string
	// PublicAddresses are advertised to peers. Empty means the bound
	// listen address.
	PublicAddresses []string
	// BootstrapPeers are "<pubkey-hex>@<addr>" entries.
	BootstrapPeers []string
	Features       peers.Features
	Network        envelope.Network

	Outbound     outbound.Config
	Messaging    messaging.Config
	Inbound      inbound.Config
	Discovery    discovery.Config
	StoreForward storeforward.Config
	ConnMgr      connmgr.Config

	// MessageBuffer bounds decrypted messages waiting for the application.
	MessageBuffer int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    "0.0.0.0:18189",
		Features:      peers.CommunicationNode,
		Network:       envelope.MainNet,
		Outbound:      outbound.DefaultConfig(),
		Messaging:     messaging.DefaultConfig(),
		Inbound:       inbound.DefaultConfig(),
		Discovery:     discovery.DefaultConfig(),
		StoreForward:  storeforward.DefaultConfig(),
		ConnMgr:       connmgr.DefaultConfig(),
		MessageBuffer: 256,
	}
}

func (c Config) IdentityPath() string  { return filepath.Join(c.DataDir, "identity.json") }
func (c Config) PeerStorePath() string { return filepath.Join(c.DataDir, "peers.json") }
func (c Config) SAFPath() string       { return filepath.Join(c.DataDir, "saf.db") }
