package peers

import (
	"bytes"

	"p2p-relay/internal/dht"
)

// Comparator orders two peers, returning <0, 0 or >0.
type Comparator func(a, b Peer) int

// Chain applies comparators left to right until one of them separates the peers.
func Chain(cmps ...Comparator) Comparator {
	return func(a, b Peer) int {
		for _, c := range cmps {
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}

// ByDistanceTo puts peers closer to target first.
func ByDistanceTo(target dht.NodeID) Comparator {
	return func(a, b Peer) int {
		return a.NodeID.Distance(target).Cmp(b.NodeID.Distance(target))
	}
}

// ByLastSeen puts recently seen peers first.
func ByLastSeen(a, b Peer) int {
	switch {
	case a.LastSeen.After(b.LastSeen):
		return -1
	case a.LastSeen.Before(b.LastSeen):
		return 1
	}
	return 0
}

func ByPublicKey(a, b Peer) int { return bytes.Compare(a.PublicKey, b.PublicKey) }
