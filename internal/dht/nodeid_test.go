package dht

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
)

func randID(t *testing.T) NodeID {
	t.Helper()
	var id NodeID
	_, err := rand.Read(id[:])
	if err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return id
}

func TestDistanceSymmetry(t *testing.T) {
	for i := 0; i < 32; i++ {
		a := randID(t)
		b := randID(t)
		if a.Distance(b) != b.Distance(a) {
			t.Fatalf("distance not symmetric for %s, %s", a, b)
		}
	}
}

func TestDistanceZeroOnlyForIdentical(t *testing.T) {
	a := randID(t)
	if a.Distance(a) != (Distance{}) {
		t.Fatalf("distance to self must be zero")
	}
	b := a
	b[NodeIDBytes-1] ^= 0x01
	if a.Distance(b) == (Distance{}) {
		t.Fatalf("distinct ids produced zero distance")
	}
}

func TestDistanceOrdering(t *testing.T) {
	self := NodeIDFromUint64(0)
	near := NodeIDFromUint64(1)
	mid := NodeIDFromUint64(2)
	far := NodeIDFromUint64(3)

	if !self.Distance(near).Less(self.Distance(mid)) {
		t.Fatalf("expected 1 < 2")
	}
	if !self.Distance(mid).Less(self.Distance(far)) {
		t.Fatalf("expected 2 < 3")
	}
	if self.Distance(far).Cmp(self.Distance(far)) != 0 {
		t.Fatalf("expected equal distances to compare as 0")
	}
	if !self.Distance(far).Less(MaxDistance) {
		t.Fatalf("expected every distance below MaxDistance")
	}
}

func TestLeadingZeros(t *testing.T) {
	var a, b NodeID
	b[0] = 0x80
	if got := a.Distance(b).LeadingZeros(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := a.Distance(a).LeadingZeros(); got != 256 {
		t.Fatalf("expected 256 for identical ids, got %d", got)
	}
	if got := a.Distance(NodeIDFromUint64(1)).LeadingZeros(); got != 255 {
		t.Fatalf("expected 255, got %d", got)
	}
}

func TestNodeIDFromPublicKeyIsStable(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if NodeIDFromPublicKey(pub) != NodeIDFromPublicKey(pub) {
		t.Fatalf("node id derivation is not deterministic")
	}
}

func TestNodeIDTextEncoding(t *testing.T) {
	id := randID(t)
	b, err := json.Marshal(struct {
		ID NodeID `json:"id"`
	}{id})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		ID NodeID `json:"id"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != id {
		t.Fatalf("expected %s, got %s", id.Hex(), got.ID.Hex())
	}
}
