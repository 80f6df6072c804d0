package dht

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const NodeIDBytes = 32

// NodeID is the fixed-width identifier peers are placed by in the keyspace.
type NodeID [NodeIDBytes]byte

// Distance is the XOR of two NodeIDs, compared as a big-endian unsigned integer.
type Distance [NodeIDBytes]byte

// MaxDistance is the largest representable distance.
var MaxDistance = func() (d Distance) {
	for i := range d {
		d[i] = 0xff
	}
	return
}()

// NodeIDFromPublicKey derives the identifier of a peer from its public key.
func NodeIDFromPublicKey(pub ed25519.PublicKey) NodeID {
	return NodeID(blake2b.Sum256(pub))
}

func ParseNodeIDHex(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != NodeIDBytes {
		return id, fmt.Errorf("node id must be %d bytes, got %d", NodeIDBytes, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func MustParseNodeIDHex(s string) NodeID {
	id, err := ParseNodeIDHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id NodeID) Hex() string { return hex.EncodeToString(id[:]) }

// String returns a short prefix, enough to tell peers apart in logs.
func (id NodeID) String() string { return id.Hex()[:16] }

func (id NodeID) IsZero() bool { return id == NodeID{} }

func (id NodeID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *NodeID) UnmarshalText(b []byte) error {
	parsed, err := ParseNodeIDHex(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Xor returns a ^ b.
func Xor(a, b NodeID) (out NodeID) {
	for i := 0; i < NodeIDBytes; i++ {
		out[i] = a[i] ^ b[i]
	}
	return
}

// Distance is symmetric and zero only for identical ids.
func (id NodeID) Distance(other NodeID) Distance {
	return Distance(Xor(id, other))
}

func (d Distance) Cmp(other Distance) int { return bytes.Compare(d[:], other[:]) }

func (d Distance) Less(other Distance) bool { return d.Cmp(other) < 0 }

func (d Distance) Hex() string { return hex.EncodeToString(d[:]) }

// LeadingZeros is the length of the common prefix of the two ids that produced d.
func (d Distance) LeadingZeros() int {
	for byteIdx := 0; byteIdx < NodeIDBytes; byteIdx++ {
		x := d[byteIdx]
		if x == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if x&(1<<(7-bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return NodeIDBytes * 8
}

// DistanceFromUint64 places v in the low bytes of a distance. Handy for fixtures.
func DistanceFromUint64(v uint64) (d Distance) {
	for i := 0; i < 8; i++ {
		d[NodeIDBytes-1-i] = byte(v >> (8 * i))
	}
	return
}

// NodeIDFromUint64 is the NodeID counterpart of DistanceFromUint64.
func NodeIDFromUint64(v uint64) NodeID {
	return NodeID(DistanceFromUint64(v))
}
