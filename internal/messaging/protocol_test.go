package messaging

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/proto"
	"p2p-relay/internal/transport"
)

type fakeConn struct {
	peer    dht.NodeID
	stream  io.ReadWriteCloser
	openErr error
}

func (c *fakeConn) PeerNodeID() dht.NodeID { return c.peer }

func (c *fakeConn) OpenSubstream(ctx context.Context, protocol string) (io.ReadWriteCloser, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.stream, nil
}

func (c *fakeConn) Close() error { return nil }

type fakeConnManager struct {
	mu    sync.Mutex
	dials int
	dial  func(ctx context.Context, attempt int) (Connection, error)
}

func (m *fakeConnManager) DialPeer(ctx context.Context, peer dht.NodeID) (Connection, error) {
	m.mu.Lock()
	m.dials++
	attempt := m.dials
	m.mu.Unlock()
	return m.dial(ctx, attempt)
}

func (m *fakeConnManager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

func newTestProtocol(t *testing.T, cm ConnectionManager, cfg Config) *Protocol {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	p := NewProtocol(cfg, id, cm, nil, nil)
	t.Cleanup(p.Close)
	return p
}

func collect(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed after %d events", len(out))
			}
			out = append(out, e)
		case <-deadline:
			t.Fatalf("timed out waiting for events: have=%d want=%d", len(out), n)
		}
	}
	return out
}

func expectNoEvent(t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(wait):
	}
}

// readBodies decodes frames from the far end of a pipe.
func readBodies(t *testing.T, r io.Reader, n int) <-chan []string {
	t.Helper()
	out := make(chan []string, 1)
	go func() {
		var bodies []string
		for len(bodies) < n {
			frame, err := transport.ReadFrame(r)
			if err != nil {
				break
			}
			env, err := openEnvelope(frame)
			if err != nil {
				break
			}
			bodies = append(bodies, string(env.Body))
		}
		out <- bodies
	}()
	return out
}

func TestWorker_DialFailureFlushesEveryQueuedMessage(t *testing.T) {
	release := make(chan struct{})
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		<-release
		return nil, errors.New("connection refused")
	}}
	p := newTestProtocol(t, cm, Config{})
	events, unsub := p.Subscribe(16)
	defer unsub()

	peer := dht.NodeIDFromUint64(7)
	tags := map[MessageTag]bool{}
	for i := 0; i < 3; i++ {
		tag := NewMessageTag()
		tags[tag] = true
		p.SendMessage(OutboundMessage{Tag: tag, PeerNodeID: peer, Body: []byte("x")})
	}
	close(release)

	for _, e := range collect(t, events, 3, 2*time.Second) {
		if e.Type != EventSendMessageFailed {
			t.Fatalf("expected only failures, got %s", e.Type)
		}
		if !tags[e.Tag] || e.Message == nil || e.Message.Tag != e.Tag {
			t.Fatalf("unexpected failed event %+v", e)
		}
		delete(tags, e.Tag)
	}
	expectNoEvent(t, events, 50*time.Millisecond)
	if cm.Dials() != 1 {
		t.Fatalf("expected a single dial, got %d", cm.Dials())
	}
}

func TestWorker_DialCancelledIsRetriedAndDeliveryIsFIFO(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	peer := dht.NodeIDFromUint64(9)
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		if attempt < 3 {
			return nil, ErrDialCancelled
		}
		return &fakeConn{peer: peer, stream: local}, nil
	}}
	p := newTestProtocol(t, cm, Config{DialRetryBackoff: time.Millisecond})
	events, unsub := p.Subscribe(16)
	defer unsub()

	got := readBodies(t, remote, 3)
	var order []MessageTag
	for _, body := range []string{"one", "two", "three"} {
		tag := NewMessageTag()
		order = append(order, tag)
		p.SendMessage(OutboundMessage{Tag: tag, PeerNodeID: peer, Body: []byte(body)})
	}

	evs := collect(t, events, 3, 2*time.Second)
	for i, e := range evs {
		if e.Type != EventMessageSent || e.Tag != order[i] {
			t.Fatalf("event %d: expected sent %s, got %s %s", i, order[i], e.Type, e.Tag)
		}
	}
	bodies := <-got
	if len(bodies) != 3 || bodies[0] != "one" || bodies[1] != "two" || bodies[2] != "three" {
		t.Fatalf("expected FIFO delivery, got %v", bodies)
	}
	if cm.Dials() != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", cm.Dials())
	}
	if st, ok := p.WorkerState(peer); !ok || st != StateStreaming {
		t.Fatalf("expected streaming worker, got %s (running=%v)", st, ok)
	}
}

func TestWorker_SubstreamFailureFlushesQueue(t *testing.T) {
	release := make(chan struct{})
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		<-release
		return &fakeConn{openErr: errors.New("protocol not supported")}, nil
	}}
	p := newTestProtocol(t, cm, Config{})
	events, unsub := p.Subscribe(16)
	defer unsub()

	peer := dht.NodeIDFromUint64(3)
	p.SendMessage(OutboundMessage{Tag: 1, PeerNodeID: peer})
	p.SendMessage(OutboundMessage{Tag: 2, PeerNodeID: peer})
	close(release)

	for _, e := range collect(t, events, 2, 2*time.Second) {
		if e.Type != EventSendMessageFailed {
			t.Fatalf("expected failure, got %s", e.Type)
		}
	}
}

func TestWorker_WriteFailureFailsMessageAndRest(t *testing.T) {
	local, remote := net.Pipe()
	remote.Close()

	peer := dht.NodeIDFromUint64(4)
	release := make(chan struct{})
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		<-release
		return &fakeConn{peer: peer, stream: local}, nil
	}}
	p := newTestProtocol(t, cm, Config{})
	events, unsub := p.Subscribe(16)
	defer unsub()

	p.SendMessage(OutboundMessage{Tag: 10, PeerNodeID: peer})
	p.SendMessage(OutboundMessage{Tag: 11, PeerNodeID: peer})
	close(release)

	evs := collect(t, events, 2, 2*time.Second)
	if evs[0].Type != EventSendMessageFailed || evs[0].Tag != 10 {
		t.Fatalf("expected first message to fail, got %+v", evs[0])
	}
	if evs[1].Type != EventSendMessageFailed || evs[1].Tag != 11 {
		t.Fatalf("expected queued message to fail, got %+v", evs[1])
	}
}

func TestWorker_OversizedMessageFailsAlone(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	peer := dht.NodeIDFromUint64(5)
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		return &fakeConn{peer: peer, stream: local}, nil
	}}
	p := newTestProtocol(t, cm, Config{})
	events, unsub := p.Subscribe(16)
	defer unsub()

	got := readBodies(t, remote, 1)
	p.SendMessage(OutboundMessage{Tag: 20, PeerNodeID: peer, Body: make([]byte, transport.MaxFrameSize)})
	p.SendMessage(OutboundMessage{Tag: 21, PeerNodeID: peer, Body: []byte("small")})

	evs := collect(t, events, 2, 2*time.Second)
	if evs[0].Type != EventSendMessageFailed || evs[0].Tag != 20 {
		t.Fatalf("expected oversized message to fail, got %+v", evs[0])
	}
	if evs[1].Type != EventMessageSent || evs[1].Tag != 21 {
		t.Fatalf("expected next message to be sent, got %+v", evs[1])
	}
	if bodies := <-got; len(bodies) != 1 || bodies[0] != "small" {
		t.Fatalf("unexpected bodies on the wire: %d", len(bodies))
	}
	if st, ok := p.WorkerState(peer); !ok || st != StateStreaming {
		t.Fatalf("worker should keep streaming, got %s (running=%v)", st, ok)
	}
}

func TestProtocol_ClosePeerFlushesAsFailures(t *testing.T) {
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := newTestProtocol(t, cm, Config{})
	events, unsub := p.Subscribe(16)
	defer unsub()

	peer := dht.NodeIDFromUint64(5)
	p.SendMessage(OutboundMessage{Tag: 1, PeerNodeID: peer})
	p.SendMessage(OutboundMessage{Tag: 2, PeerNodeID: peer})
	if !p.ClosePeer(peer) {
		t.Fatalf("expected a running worker")
	}
	for _, e := range collect(t, events, 2, 2*time.Second) {
		if e.Type != EventSendMessageFailed {
			t.Fatalf("expected failure, got %s", e.Type)
		}
	}
	if _, ok := p.WorkerState(peer); ok {
		t.Fatalf("worker should be gone")
	}
	if p.ClosePeer(peer) {
		t.Fatalf("second close should report no worker")
	}
}

func TestWorker_IdleCloseReachesClosed(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	peer := dht.NodeIDFromUint64(6)
	cm := &fakeConnManager{dial: func(ctx context.Context, attempt int) (Connection, error) {
		return &fakeConn{peer: peer, stream: local}, nil
	}}
	p := newTestProtocol(t, cm, Config{IdleTimeout: 20 * time.Millisecond})
	events, unsub := p.Subscribe(16)
	defer unsub()

	got := readBodies(t, remote, 1)
	p.SendMessage(OutboundMessage{Tag: 1, PeerNodeID: peer, Body: []byte("hi")})
	if e := collect(t, events, 1, time.Second)[0]; e.Type != EventMessageSent {
		t.Fatalf("expected sent, got %s", e.Type)
	}
	<-got

	deadline := time.Now().Add(time.Second)
	for p.ActiveWorkers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle worker never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProtocol_HandleSubstreamVerifiesSignatures(t *testing.T) {
	p := newTestProtocol(t, &fakeConnManager{}, Config{})
	sender, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	local, remote := net.Pipe()
	go p.HandleSubstream(context.Background(), ProtocolID, local)

	good, err := sealEnvelope(sender, []byte("good"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	forged := proto.MustMarshal(proto.SignedEnvelope{
		PublicKey: sender.PublicKey(),
		Signature: sender.Sign([]byte("something else")),
		Body:      []byte("forged"),
	})
	if err := transport.WriteFrame(remote, forged); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := transport.WriteFrame(remote, good); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-p.Inbound():
		if string(msg.Body) != "good" {
			t.Fatalf("expected only the signed message, got %q", msg.Body)
		}
		if msg.SourceNodeID != sender.NodeID() {
			t.Fatalf("unexpected source %s", msg.SourceNodeID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for inbound message")
	}
	remote.Close()
}

func TestEventHub_PublishNeverBlocks(t *testing.T) {
	dropped := 0
	h := newEventHub(func() { dropped++ })
	_, unsub := h.subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.publish(Event{Type: EventMessageSent, Tag: MessageTag(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if dropped != 9 {
		t.Fatalf("expected 9 dropped events, got %d", dropped)
	}
}

func TestProtocol_SendAfterCloseFails(t *testing.T) {
	p := newTestProtocol(t, &fakeConnManager{}, Config{})
	events, unsub := p.Subscribe(4)
	p.Close()
	defer unsub()
	// Subscriptions are closed by Close.
	if _, ok := <-events; ok {
		t.Fatalf("expected closed event channel")
	}
	p.SendMessage(OutboundMessage{Tag: 1, PeerNodeID: dht.NodeIDFromUint64(1)})
	if p.ActiveWorkers() != 0 {
		t.Fatalf("no worker should start after Close")
	}
}
