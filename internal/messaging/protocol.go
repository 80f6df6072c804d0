package messaging

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/telemetry"
	"p2p-relay/internal/transport"
)

type Config struct {
	// QueueSize bounds each peer's outbound queue. A full queue fails the message.
	QueueSize int
	// IdleTimeout closes a streaming worker with nothing to send. Zero disables it.
	IdleTimeout time.Duration
	// DialRetryBackoff is the pause before redialling after ErrDialCancelled.
	DialRetryBackoff time.Duration
	// InboundBuffer bounds verified inbound messages awaiting the pipeline.
	InboundBuffer int
}

func DefaultConfig() Config {
	return Config{
		QueueSize:        256,
		IdleTimeout:      2 * time.Minute,
		DialRetryBackoff: 50 * time.Millisecond,
		InboundBuffer:    256,
	}
}

// Protocol owns one delivery worker per destination peer and reads inbound
// messaging substreams.
type Protocol struct {
	cfg      Config
	identity *identity.NodeIdentity
	connMgr  ConnectionManager
	logger   *zap.Logger
	metrics  metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[dht.NodeID]*worker

	events  *eventHub
	inbound chan InboundMessage
}

func NewProtocol(cfg Config, id *identity.NodeIdentity, connMgr ConnectionManager, logger *zap.Logger, m metrics.Metrics) *Protocol {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DialRetryBackoff <= 0 {
		cfg.DialRetryBackoff = def.DialRetryBackoff
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = def.InboundBuffer
	}
	m = metrics.OrNoop(m)
	ctx, cancel := context.WithCancel(context.Background())
	return &Protocol{
		cfg:      cfg,
		identity: id,
		connMgr:  connMgr,
		logger:   telemetry.OrNop(logger).Named("messaging"),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[dht.NodeID]*worker),
		events:   newEventHub(func() { m.IncMessaging(metrics.EventDropped) }),
		inbound:  make(chan InboundMessage, cfg.InboundBuffer),
	}
}

// Subscribe returns a channel of messaging events. Slow subscribers lose
// events rather than stall delivery. Call the returned func to unsubscribe.
func (p *Protocol) Subscribe(buffer int) (<-chan Event, func()) {
	return p.events.subscribe(buffer)
}

// Inbound yields verified messages read from peers.
func (p *Protocol) Inbound() <-chan InboundMessage { return p.inbound }

// SendMessage queues msg on the worker for its peer, starting one if needed.
// It never blocks; the outcome arrives as an event carrying msg.Tag.
func (p *Protocol) SendMessage(msg OutboundMessage) {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		p.failed(msg)
		return
	}
	w, ok := p.workers[msg.PeerNodeID]
	if !ok {
		w = p.spawnLocked(msg.PeerNodeID)
	}
	select {
	case w.queue <- msg:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.logger.Warn("outbound queue full, dropping message",
			zap.Stringer("peer", msg.PeerNodeID), zap.Stringer("tag", msg.Tag))
		p.failed(msg)
	}
}

func (p *Protocol) spawnLocked(peer dht.NodeID) *worker {
	ctx, cancel := context.WithCancel(p.ctx)
	w := &worker{
		peer:   peer,
		queue:  make(chan OutboundMessage, p.cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers[peer] = w
	p.metrics.SetActiveWorkers(len(p.workers))
	p.wg.Add(1)
	go p.runWorker(w)
	return w
}

// retire detaches w so no new messages reach it, then closes its queue.
func (p *Protocol) retire(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.workers[w.peer]; ok && cur == w {
		delete(p.workers, w.peer)
		p.metrics.SetActiveWorkers(len(p.workers))
	}
	w.closeOnce.Do(func() { close(w.queue) })
}

// ClosePeer cancels the worker for peer. Messages still queued are reported
// as failed. It returns false when no worker was running.
func (p *Protocol) ClosePeer(peer dht.NodeID) bool {
	p.mu.Lock()
	w, ok := p.workers[peer]
	p.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	p.retire(w)
	return true
}

// WorkerState reports the state of the worker for peer, if one is running.
func (p *Protocol) WorkerState(peer dht.NodeID) (WorkerState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[peer]
	if !ok {
		return StateIdle, false
	}
	return w.State(), true
}

func (p *Protocol) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// HandleSubstream reads signed frames from an inbound messaging substream
// until it ends. Its signature matches transport.StreamHandler.
func (p *Protocol) HandleSubstream(ctx context.Context, protocol string, s io.ReadWriteCloser) {
	defer s.Close()
	for {
		frame, err := transport.ReadFrame(s)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && p.ctx.Err() == nil {
				p.logger.Debug("inbound substream ended", zap.Error(err))
			}
			return
		}
		env, err := openEnvelope(frame)
		if err != nil {
			p.logger.Warn("discarding inbound frame", zap.Error(err))
			continue
		}
		msg := InboundMessage{
			Tag:             NewMessageTag(),
			SourcePublicKey: env.PublicKey,
			SourceNodeID:    dht.NodeIDFromPublicKey(env.PublicKey),
			Body:            env.Body,
		}
		p.metrics.IncMessaging(metrics.EventReceived)
		p.events.publish(Event{Type: EventMessageReceived, Tag: msg.Tag, PeerNodeID: msg.SourceNodeID})

		select {
		case p.inbound <- msg:
		case <-ctx.Done():
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// Close stops every worker, failing whatever they still hold, and closes
// all event subscriptions.
func (p *Protocol) Close() {
	p.cancel()
	p.mu.Lock()
	ws := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		ws = append(ws, w)
	}
	p.mu.Unlock()
	for _, w := range ws {
		p.retire(w)
	}
	p.wg.Wait()
	p.events.close()
}

func (p *Protocol) sent(w *worker, msg OutboundMessage) {
	p.metrics.IncMessaging(metrics.EventSent)
	p.events.publish(Event{Type: EventMessageSent, Tag: msg.Tag, PeerNodeID: w.peer})
}

func (p *Protocol) failed(msg OutboundMessage) {
	p.metrics.IncMessaging(metrics.EventSendFailed)
	m := msg
	p.events.publish(Event{Type: EventSendMessageFailed, Tag: msg.Tag, PeerNodeID: msg.PeerNodeID, Message: &m})
}
