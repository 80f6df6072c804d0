package inbound

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/telemetry"
)

type Config struct {
	Network        envelope.Network
	DedupCacheSize int
	DedupTTL       time.Duration
}

func DefaultConfig() Config {
	return Config{Network: envelope.MainNet, DedupCacheSize: 10000, DedupTTL: 10 * time.Minute}
}

// Pipeline decodes, filters and decrypts verified messaging frames and
// hands them to a handler chain.
type Pipeline struct {
	cfg      Config
	identity *identity.NodeIdentity
	dir      *peers.Directory
	dedup    *Dedup
	handler  Handler
	logger   *zap.Logger
	metrics  metrics.Metrics
}

func NewPipeline(cfg Config, id *identity.NodeIdentity, dir *peers.Directory, handler Handler, logger *zap.Logger, m metrics.Metrics) *Pipeline {
	if handler == nil {
		handler = Discard
	}
	return &Pipeline{
		cfg:      cfg,
		identity: id,
		dir:      dir,
		dedup:    NewDedup(cfg.DedupCacheSize, cfg.DedupTTL),
		handler:  handler,
		logger:   telemetry.OrNop(logger).Named("inbound"),
		metrics:  metrics.OrNoop(m),
	}
}

// Run processes messages from in until ctx ends or in is closed.
func (p *Pipeline) Run(ctx context.Context, in <-chan messaging.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := p.Process(ctx, msg); err != nil {
				p.logger.Debug("inbound message dropped",
					zap.Stringer("tag", msg.Tag), zap.Stringer("source", msg.SourceNodeID), zap.Error(err))
			}
		}
	}
}

var (
	ErrDuplicate    = errors.New("inbound: duplicate message")
	ErrWrongNetwork = errors.New("inbound: message for another network")
)

// Process runs a single inbound message through the pipeline.
func (p *Pipeline) Process(ctx context.Context, in messaging.InboundMessage) error {
	env, err := envelope.Decode(in.Body)
	if err != nil {
		p.logger.Warn("malformed envelope", zap.Stringer("source", in.SourceNodeID), zap.Error(err))
		return err
	}
	if env.Header.Network != p.cfg.Network {
		return ErrWrongNetwork
	}
	if p.dedup.Seen(in.Body) {
		return ErrDuplicate
	}

	msg, err := Decrypt(p.identity, env)
	if err != nil {
		p.logger.Warn("rejecting inbound message",
			zap.Stringer("source", in.SourceNodeID), zap.Stringer("type", env.Header.MessageType), zap.Error(err))
		return err
	}
	msg.Tag = in.Tag
	msg.Source = p.sourcePeer(in)
	msg.ForThisNode = p.forThisNode(msg)

	return p.handler.HandleMessage(ctx, msg)
}

// sourcePeer returns the directory record of the sender. Unknown senders get
// a transient record that is not added to the directory.
func (p *Pipeline) sourcePeer(in messaging.InboundMessage) peers.Peer {
	if err := p.dir.SetState(in.SourceNodeID, peers.StateOnline); err == nil {
		if known, err := p.dir.Find(in.SourceNodeID); err == nil {
			return known
		}
	}
	transient := peers.New(in.SourcePublicKey, peers.CommunicationClient)
	transient.State = peers.StateOnline
	transient.LastSeen = time.Now()
	return transient
}

func (p *Pipeline) forThisNode(msg *DecryptedMessage) bool {
	if msg.DecryptionFailed() {
		return false
	}
	if msg.Header.Destination.IsUnknown() {
		return true
	}
	return msg.Header.Destination.MatchesSelf(p.identity.PublicKey(), p.identity.NodeID())
}
