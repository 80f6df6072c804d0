package forward

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/peers"
)

type sentCall struct {
	params outbound.SendParams
	body   []byte
}

// fakeRequester resolves against the real directory so plans are realistic.
type fakeRequester struct {
	dir   *peers.Directory
	calls []sentCall
}

func (f *fakeRequester) SendMessage(_ context.Context, params outbound.SendParams, body []byte) outbound.SendResult {
	f.calls = append(f.calls, sentCall{params: params, body: body})
	plan := outbound.Resolve(f.dir, params.Strategy, 8)
	if plan.IsEmpty() {
		return outbound.SendResult{Status: outbound.StatusFailed}
	}
	return outbound.SendResult{Status: outbound.StatusQueued}
}

type countingNext struct{ n int }

func (c *countingNext) HandleMessage(context.Context, *inbound.DecryptedMessage) error {
	c.n++
	return nil
}

func newKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub
}

func setup(t *testing.T, relays int) (*peers.Directory, []peers.Peer) {
	t.Helper()
	dir := peers.NewDirectory(dht.NodeIDFromPublicKey(newKey(t)))
	var out []peers.Peer
	for i := 0; i < relays; i++ {
		p := peers.New(newKey(t), peers.CommunicationNode, "x:1")
		if err := dir.Add(p); err != nil {
			t.Fatalf("Add: %v", err)
		}
		out = append(out, p)
	}
	return dir, out
}

func TestForward_SelfAddressedNeverSends(t *testing.T) {
	dir, ps := setup(t, 3)
	source := ps[0]
	cases := map[string]envelope.Destination{
		"public key": envelope.ToPublicKey(source.PublicKey),
		"node id":    envelope.ToNodeID(source.NodeID),
	}
	for name, dest := range cases {
		t.Run(name, func(t *testing.T) {
			req := &fakeRequester{dir: dir}
			next := &countingNext{}
			m := metrics.NewAtomicMetrics()
			f := New(dir, req, next, nil, m)

			h := envelope.NewHeader(dest, envelope.MessageTypeNone, envelope.MainNet)
			h.Flags = envelope.FlagEncrypted
			if err := f.HandleMessage(context.Background(), inbound.Failed(source, h, []byte("ct"))); err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
			if len(req.calls) != 0 {
				t.Fatalf("self-addressed message was forwarded")
			}
			if next.n != 1 {
				t.Fatalf("next stage must still run")
			}
			if m.Get("forward_"+metrics.ForwardSelfSource) != 1 {
				t.Fatalf("expected self_source metric")
			}
		})
	}
}

func TestForward_ExcludesSourceAndOrigin(t *testing.T) {
	dir, ps := setup(t, 4)
	source, origin := ps[0], ps[1]
	req := &fakeRequester{dir: dir}
	next := &countingNext{}
	f := New(dir, req, next, nil, nil)

	h := envelope.NewHeader(envelope.Unknown(), envelope.MessageTypeNone, envelope.MainNet)
	h.Flags = envelope.FlagEncrypted
	msg := inbound.Failed(source, h, []byte("ciphertext"))
	msg.AuthenticatedOrigin = origin.PublicKey

	if err := f.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(req.calls) != 1 || next.n != 1 {
		t.Fatalf("expected one forward and one pass-through, got %d/%d", len(req.calls), next.n)
	}
	call := req.calls[0]
	if call.params.ForwardHeader == nil || !call.params.ForwardHeader.Destination.Equal(h.Destination) {
		t.Fatalf("original header must be propagated")
	}
	if string(call.body) != "ciphertext" {
		t.Fatalf("body must be forwarded untouched")
	}
	plan := outbound.Resolve(dir, call.params.Strategy, 8)
	for _, p := range plan.Peers {
		if p.NodeID == source.NodeID || p.NodeID == origin.NodeID {
			t.Fatalf("plan contains excluded peer %s", p)
		}
	}
	if len(plan.Peers) != 2 {
		t.Fatalf("expected the two remaining relays, got %d", len(plan.Peers))
	}
}

func TestForward_KnownDestinationIsDirect(t *testing.T) {
	dir, ps := setup(t, 3)
	req := &fakeRequester{dir: dir}
	f := New(dir, req, nil, nil, nil)

	h := envelope.NewHeader(envelope.ToNodeID(ps[2].NodeID), envelope.MessageTypeNone, envelope.MainNet)
	h.Flags = envelope.FlagEncrypted
	if err := f.HandleMessage(context.Background(), inbound.Failed(ps[0], h, []byte("ct"))); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	s := req.calls[0].params.Strategy
	if !s.IsDirect() || s.NodeID != ps[2].NodeID {
		t.Fatalf("expected direct strategy, got %s", s)
	}
}

func TestForward_DiscoveryIncludesClients(t *testing.T) {
	dir, ps := setup(t, 1)
	client := peers.New(newKey(t), peers.CommunicationClient, "x:2")
	if err := dir.Add(client); err != nil {
		t.Fatalf("Add: %v", err)
	}
	req := &fakeRequester{dir: dir}
	f := New(dir, req, nil, nil, nil)

	h := envelope.NewHeader(envelope.ToPublicKey(newKey(t)), envelope.MessageTypeDiscovery, envelope.MainNet)
	h.Flags = envelope.FlagEncrypted
	if err := f.HandleMessage(context.Background(), inbound.Failed(ps[0], h, []byte("ct"))); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	plan := outbound.Resolve(dir, req.calls[0].params.Strategy, 8)
	if len(plan.Peers) != 1 || plan.Peers[0].NodeID != client.NodeID {
		t.Fatalf("expected the client to be reached, got %v", plan.Peers)
	}
}

func TestForward_ReadableMessagesAreNotForwarded(t *testing.T) {
	dir, ps := setup(t, 2)
	req := &fakeRequester{dir: dir}
	next := &countingNext{}
	f := New(dir, req, next, nil, nil)

	h := envelope.NewHeader(envelope.Unknown(), envelope.MessageTypeNone, envelope.MainNet)
	msg := inbound.Succeeded(ps[0], h, nil, []byte("hi"), []byte("hi"))
	msg.ForThisNode = true
	if err := f.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(req.calls) != 0 || next.n != 1 {
		t.Fatalf("decrypted message should only pass through")
	}
}

func TestForward_EmptyPlanStillPassesOn(t *testing.T) {
	dir, ps := setup(t, 1)
	req := &fakeRequester{dir: dir}
	next := &countingNext{}
	m := metrics.NewAtomicMetrics()
	f := New(dir, req, next, nil, m)

	h := envelope.NewHeader(envelope.Unknown(), envelope.MessageTypeNone, envelope.MainNet)
	h.Flags = envelope.FlagEncrypted
	if err := f.HandleMessage(context.Background(), inbound.Failed(ps[0], h, []byte("ct"))); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if next.n != 1 || m.Get("forward_"+metrics.ForwardFailed) != 1 {
		t.Fatalf("failed forward must be counted and not block the next stage")
	}
}

func TestForward_CleartextForAnotherNodeIsRelayed(t *testing.T) {
	dir, ps := setup(t, 3)
	req := &fakeRequester{dir: dir}
	next := &countingNext{}
	f := New(dir, req, next, nil, nil)

	target := dht.NodeIDFromPublicKey(newKey(t))
	h := envelope.NewHeader(envelope.ToNodeID(target), envelope.MessageTypeDiscovery, envelope.MainNet)
	msg := inbound.Succeeded(ps[0], h, nil, []byte("req"), []byte("req"))
	if err := f.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(req.calls) != 1 || next.n != 1 {
		t.Fatalf("expected one forward and pass-through, got %d calls", len(req.calls))
	}
	plan := outbound.Resolve(dir, req.calls[0].params.Strategy, 8)
	for _, p := range plan.Peers {
		if p.NodeID == ps[0].NodeID {
			t.Fatalf("relayed back to its source")
		}
	}
}
