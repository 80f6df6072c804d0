package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/forward"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/proto"
)

// testNet delivers every outbound message straight into the target's
// inbound pipeline.
type testNet struct {
	mu    sync.Mutex
	nodes map[dht.NodeID]*testNode
}

type testNode struct {
	id   *identity.NodeIdentity
	dir  *peers.Directory
	disp *outbound.Dispatcher
	svc  *Service
	pipe *inbound.Pipeline
}

type netMessenger struct {
	net  *testNet
	from *identity.NodeIdentity
}

func (m netMessenger) SendMessage(msg messaging.OutboundMessage) {
	m.net.mu.Lock()
	target := m.net.nodes[msg.PeerNodeID]
	m.net.mu.Unlock()
	if target == nil {
		return
	}
	in := messaging.InboundMessage{
		Tag:             msg.Tag,
		SourcePublicKey: m.from.PublicKey(),
		SourceNodeID:    m.from.NodeID(),
		Body:            msg.Body,
	}
	go func() { _ = target.pipe.Process(context.Background(), in) }()
}

func (n *testNet) add(t *testing.T, addr string) *testNode {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	tn := &testNode{id: id, dir: peers.NewDirectory(id.NodeID())}
	tn.disp = outbound.NewDispatcher(outbound.Config{}, id, tn.dir, netMessenger{net: n, from: id}, nil, nil)
	tn.svc = New(Config{Addresses: []string{addr}, Features: peers.CommunicationNode}, id, tn.dir, tn.disp, nil)

	router := inbound.NewRouter(nil).
		Route(envelope.MessageTypeJoin, inbound.HandlerFunc(tn.svc.HandleJoin)).
		Route(envelope.MessageTypeDiscovery, inbound.HandlerFunc(tn.svc.HandleDiscoveryRequest)).
		Route(envelope.MessageTypeDiscoveryResponse, inbound.HandlerFunc(tn.svc.HandleDiscoveryResponse))
	chain := inbound.Chain(router, forward.Layer(tn.dir, tn.disp, nil, nil))
	tn.pipe = inbound.NewPipeline(inbound.DefaultConfig(), id, tn.dir, chain, nil, nil)

	n.mu.Lock()
	if n.nodes == nil {
		n.nodes = make(map[dht.NodeID]*testNode)
	}
	n.nodes[id.NodeID()] = tn
	n.mu.Unlock()
	return tn
}

func (tn *testNode) know(t *testing.T, other *testNode) {
	t.Helper()
	if err := tn.dir.Add(peers.New(other.id.PublicKey(), peers.CommunicationNode, "mem:"+other.id.NodeID().String())); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestDiscover_ThroughRelay(t *testing.T) {
	var n testNet
	a, relay, b := n.add(t, "a:1"), n.add(t, "r:1"), n.add(t, "b:1")
	a.know(t, relay)
	relay.know(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := a.svc.Discover(ctx, envelope.ToPublicKey(b.id.PublicKey()))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if p.NodeID != b.id.NodeID() || len(p.Addresses) != 1 || p.Addresses[0] != "b:1" {
		t.Fatalf("unexpected peer %+v", p)
	}
	if !a.dir.Exists(b.id.NodeID()) {
		t.Fatalf("discovered peer not added to the directory")
	}
	if !b.dir.Exists(a.id.NodeID()) {
		t.Fatalf("target should have learned the requester")
	}
}

func TestDiscover_ByNodeID(t *testing.T) {
	var n testNet
	a, relay, b := n.add(t, "a:1"), n.add(t, "r:1"), n.add(t, "b:1")
	a.know(t, relay)
	relay.know(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := a.svc.Discover(ctx, envelope.ToNodeID(b.id.NodeID()))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !p.PublicKey.Equal(b.id.PublicKey()) {
		t.Fatalf("wrong peer discovered")
	}
}

func TestDiscover_TimeoutAndNoPeers(t *testing.T) {
	var n testNet
	a, relay := n.add(t, "a:1"), n.add(t, "r:1")
	ghost, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	if _, err := a.svc.Discover(context.Background(), envelope.ToPublicKey(ghost.PublicKey())); !errors.Is(err, ErrDiscoveryFailed) {
		t.Fatalf("expected ErrDiscoveryFailed with an empty directory, got %v", err)
	}

	a.know(t, relay)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := a.svc.Discover(ctx, envelope.ToPublicKey(ghost.PublicKey())); !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatalf("expected ErrDiscoveryTimeout, got %v", err)
	}
	a.svc.mu.Lock()
	left := len(a.svc.pending)
	a.svc.mu.Unlock()
	if left != 0 {
		t.Fatalf("pending discovery leaked")
	}
}

func TestDispatcher_PendingSendUsesDiscovery(t *testing.T) {
	var n testNet
	a, relay, b := n.add(t, "a:1"), n.add(t, "r:1"), n.add(t, "b:1")
	a.know(t, relay)
	relay.know(t, b)

	disp := outbound.NewDispatcher(outbound.Config{DiscoveryEnabled: true, DiscoveryTimeout: 5 * time.Second}, a.id, a.dir, netMessenger{net: &n, from: a.id}, nil, nil)
	disp.SetDiscoverer(a.svc)

	res := disp.Send(context.Background(), envelope.ToPublicKey(b.id.PublicKey()), envelope.MessageTypeNone, outbound.EncryptFor(b.id.PublicKey()), []byte("hi"))
	if res.Status != outbound.StatusPendingDiscovery {
		t.Fatalf("expected pending discovery, got %s", res.Status)
	}
	final, err := res.Resolve(context.Background())
	if err != nil || !final.IsQueued() || len(final.Tags) != 1 {
		t.Fatalf("expected queued direct send after discovery, got %s %v", final.Status, err)
	}
}

func TestJoin_AddsOrigin(t *testing.T) {
	var n testNet
	a, relay := n.add(t, "a:1"), n.add(t, "r:1")
	a.know(t, relay)

	res, err := a.svc.Join(context.Background())
	if err != nil || !res.IsQueued() {
		t.Fatalf("Join: %s %v", res.Status, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !relay.dir.Exists(a.id.NodeID()) {
		if time.Now().After(deadline) {
			t.Fatalf("relay never learned the joining node")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, _ := relay.dir.Find(a.id.NodeID())
	if len(p.Addresses) != 1 || p.Addresses[0] != "a:1" || p.Features != peers.CommunicationNode {
		t.Fatalf("unexpected record %+v", p)
	}
}

func TestHandleDiscoveryRequest_RateLimited(t *testing.T) {
	var n testNet
	b := n.add(t, "b:1")
	b.svc.limiter = newPeerLimiter(0.001, 1)
	origin, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	body, _ := proto.Marshal(proto.DiscoveryRequest{Nonce: 1, Addresses: []string{"o:1"}})
	msg := inbound.Succeeded(peers.New(origin.PublicKey(), peers.CommunicationNode),
		envelope.NewHeader(envelope.ToPublicKey(b.id.PublicKey()), envelope.MessageTypeDiscovery, envelope.MainNet),
		origin.PublicKey(), body, body)

	if err := b.svc.HandleDiscoveryRequest(context.Background(), msg); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := b.svc.HandleDiscoveryRequest(context.Background(), msg); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestHandleDiscoveryResponse_IgnoresWrongResponder(t *testing.T) {
	var n testNet
	a := n.add(t, "a:1")
	want, imposter := n.add(t, "w:1"), n.add(t, "i:1")

	ch := make(chan peers.Peer, 1)
	a.svc.pending[7] = pendingDiscovery{dest: envelope.ToPublicKey(want.id.PublicKey()), ch: ch}
	body, _ := proto.Marshal(proto.DiscoveryResponse{Nonce: 7})
	msg := inbound.Succeeded(peers.New(imposter.id.PublicKey(), peers.CommunicationNode),
		envelope.NewHeader(envelope.ToPublicKey(a.id.PublicKey()), envelope.MessageTypeDiscoveryResponse, envelope.MainNet),
		imposter.id.PublicKey(), body, body)
	if err := a.svc.HandleDiscoveryResponse(context.Background(), msg); err != nil {
		t.Fatalf("HandleDiscoveryResponse: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("pending discovery resolved by the wrong peer")
	default:
	}
}

func TestPeerLimiter_TrackedPeersAreBounded(t *testing.T) {
	l := newPeerLimiter(1, 1)
	now := time.Now()
	for i := 0; i < limiterCapacity+100; i++ {
		if !l.allow(dht.NodeIDFromUint64(uint64(i)), now) {
			t.Fatalf("first request of peer %d refused", i)
		}
	}
	if got := l.tracked(); got != limiterCapacity {
		t.Fatalf("expected %d tracked peers, got %d", limiterCapacity, got)
	}
	last := dht.NodeIDFromUint64(uint64(limiterCapacity + 99))
	if l.allow(last, now) {
		t.Fatalf("recent peer should still be limited")
	}
}
