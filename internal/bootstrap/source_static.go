package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"p2p-relay/internal/peers"
)

// StaticSource yields peers from "<pubkey-hex>@<addr>" entries.
type StaticSource struct {
	Entries []string
	Label   string
}

func (s StaticSource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "static"
}

func (s StaticSource) Discover(ctx context.Context) ([]peers.Peer, error) {
	out := make([]peers.Peer, 0, len(s.Entries))
	for _, e := range s.Entries {
		p, err := ParseEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseEntry parses "<pubkey-hex>@<addr>". Seeds are assumed to be full
// communication nodes.
func ParseEntry(s string) (peers.Peer, error) {
	key, addr, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || addr == "" {
		return peers.Peer{}, fmt.Errorf("bootstrap: entry %q is not <pubkey>@<addr>", s)
	}
	pub, err := peers.ParsePublicKeyHex(key)
	if err != nil {
		return peers.Peer{}, fmt.Errorf("bootstrap: entry %q: %w", s, err)
	}
	return peers.New(pub, peers.CommunicationNode, addr), nil
}
