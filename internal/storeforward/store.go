package storeforward

import (
	"context"

	"go.uber.org/zap"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/telemetry"
)

// Store is the inbound stage that stages messages meant for other peers.
type Store struct {
	cfg     Config
	repo    Repository
	dir     *peers.Directory
	next    inbound.Handler
	logger  *zap.Logger
	metrics metrics.Metrics
}

func NewStore(cfg Config, repo Repository, dir *peers.Directory, next inbound.Handler, logger *zap.Logger, m metrics.Metrics) *Store {
	if next == nil {
		next = inbound.Discard
	}
	return &Store{
		cfg:     cfg.withDefaults(),
		repo:    repo,
		dir:     dir,
		next:    next,
		logger:  telemetry.OrNop(logger).Named("saf.store"),
		metrics: metrics.OrNoop(m),
	}
}

func StoreLayer(cfg Config, repo Repository, dir *peers.Directory, logger *zap.Logger, m metrics.Metrics) inbound.Middleware {
	return func(next inbound.Handler) inbound.Handler {
		return NewStore(cfg, repo, dir, next, logger, m)
	}
}

func (s *Store) HandleMessage(ctx context.Context, msg *inbound.DecryptedMessage) error {
	if priority, ok := s.priorityFor(msg); ok {
		if err := s.stage(ctx, msg, priority); err != nil {
			s.logger.Error("failed to store message", zap.Stringer("tag", msg.Tag), zap.Error(err))
		}
	}
	return s.next.HandleMessage(ctx, msg)
}

// priorityFor decides whether msg is staged and at which priority.
func (s *Store) priorityFor(msg *inbound.DecryptedMessage) (Priority, bool) {
	if !s.cfg.Enabled || s.repo == nil {
		return 0, false
	}
	if msg.ForThisNode {
		return 0, false
	}
	switch msg.Header.MessageType {
	case envelope.MessageTypeNone, envelope.MessageTypeDiscovery:
	default:
		return 0, false
	}
	if !msg.Header.IsEncrypted() && msg.Header.Destination.IsUnknown() {
		return 0, false
	}
	if pub := msg.Header.Destination.PublicKey(); pub != nil && s.dir.ExistsPublicKey(pub) {
		return PriorityHigh, true
	}
	return PriorityLow, true
}

func (s *Store) stage(ctx context.Context, msg *inbound.DecryptedMessage, priority Priority) error {
	sm, err := NewStoredMessage(msg, priority)
	if err != nil {
		return err
	}
	stored, err := s.repo.Insert(ctx, sm)
	if err != nil {
		return err
	}
	s.metrics.IncStored(priority.String())
	s.logger.Debug("message stored",
		zap.Stringer("id", stored.ID),
		zap.Stringer("priority", priority),
		zap.Stringer("destination", msg.Header.Destination))
	return nil
}
