package storeforward

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/proto"
	"p2p-relay/internal/telemetry"
)

var ErrUnauthenticated = errors.New("storeforward: request without authenticated origin")

// Sender queues a send with explicit parameters.
type Sender interface {
	SendMessage(ctx context.Context, params outbound.SendParams, body []byte) outbound.SendResult
}

// Service answers stored-message requests from peers and retrieves this
// node's own stored messages from its neighbours.
type Service struct {
	cfg      Config
	identity *identity.NodeIdentity
	dir      *peers.Directory
	repo     Repository
	sender   Sender
	deliver  inbound.Handler
	seen     *inbound.Dedup
	logger   *zap.Logger
}

// NewService builds the service. deliver receives stored messages that turn
// out to be for this node.
func NewService(cfg Config, id *identity.NodeIdentity, dir *peers.Directory, repo Repository, sender Sender, deliver inbound.Handler, logger *zap.Logger) *Service {
	if deliver == nil {
		deliver = inbound.Discard
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		identity: id,
		dir:      dir,
		repo:     repo,
		sender:   sender,
		deliver:  deliver,
		seen:     inbound.NewDedup(0, 0),
		logger:   telemetry.OrNop(logger).Named("saf"),
	}
}

// RequestStoredMessages asks the neighbours of this node for messages stored
// at or after since.
func (s *Service) RequestStoredMessages(ctx context.Context, since time.Time) (outbound.SendResult, error) {
	req := proto.SafRequest{}
	if !since.IsZero() {
		req.Since = since.UnixNano()
	}
	body, err := proto.Marshal(req)
	if err != nil {
		return outbound.SendResult{}, err
	}
	res := s.sender.SendMessage(ctx, outbound.SendParams{
		Strategy:      outbound.Neighbours(s.identity.NodeID()),
		Destination:   envelope.Unknown(),
		MessageType:   envelope.MessageTypeSafRequestMessages,
		IncludeOrigin: true,
	}, body)
	s.logger.Debug("requested stored messages", zap.Stringer("status", res.Status), zap.Int("peers", len(res.Tags)))
	return res, nil
}

// HandleRequest answers a SafRequestMessages from a peer.
func (s *Service) HandleRequest(ctx context.Context, msg *inbound.DecryptedMessage) error {
	if !s.cfg.Enabled {
		return nil
	}
	requester := msg.Origin()
	if requester == nil {
		return ErrUnauthenticated
	}
	var req proto.SafRequest
	if err := proto.Unmarshal(msg.Plaintext, &req); err != nil {
		return fmt.Errorf("storeforward: decode request: %w", err)
	}
	var since time.Time
	if req.Since > 0 {
		since = time.Unix(0, req.Since)
	}

	found, err := s.collect(ctx, requester, dht.NodeIDFromPublicKey(requester), since)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		s.logger.Debug("no stored messages for requester", zap.String("requester", peers.ShortKey(requester)))
		return nil
	}

	batches := s.batch(found)
	for i, batch := range batches {
		body, err := proto.Marshal(proto.SafStoredMessages{Messages: batch})
		if err != nil {
			return err
		}
		res := s.sender.SendMessage(ctx, outbound.SendParams{
			Destination:   envelope.ToPublicKey(requester),
			MessageType:   envelope.MessageTypeSafStoredMessages,
			Encryption:    outbound.EncryptFor(requester),
			IncludeOrigin: true,
		}, body)
		s.logger.Debug("sent stored messages",
			zap.String("requester", peers.ShortKey(requester)),
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("messages", len(batch)),
			zap.Stringer("status", res.Status))
	}
	return nil
}

// storedEntryOverhead covers the CBOR framing of one StoredMessage entry.
const storedEntryOverhead = 32

// batch splits found into replies of at most MaxResponseBytes each, keeping
// the order. A message too large for any reply is skipped.
func (s *Service) batch(found []StoredMessage) [][]proto.StoredMessage {
	var (
		out  [][]proto.StoredMessage
		cur  []proto.StoredMessage
		size int
	)
	for _, m := range found {
		n := len(m.Header) + len(m.Body) + storedEntryOverhead
		if n > s.cfg.MaxResponseBytes {
			s.logger.Warn("stored message too large to return",
				zap.Stringer("id", m.ID), zap.Int("bytes", n))
			continue
		}
		if size+n > s.cfg.MaxResponseBytes {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, proto.StoredMessage{
			StoredAt: m.StoredAt.UnixNano(),
			Header:   m.Header,
			Body:     m.Body,
		})
		size += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// collect gathers every stored message the requester may receive, oldest
// first, without duplicates.
func (s *Service) collect(ctx context.Context, pub ed25519.PublicKey, id dht.NodeID, since time.Time) ([]StoredMessage, error) {
	limit := s.cfg.MaxReturned
	threshold := s.dir.RegionThreshold(id, s.cfg.RegionSize)

	queries := []func() ([]StoredMessage, error){
		func() ([]StoredMessage, error) { return s.repo.FindForPeer(ctx, pub, id, since, limit) },
		func() ([]StoredMessage, error) { return s.repo.FindRegional(ctx, id, &threshold, since, limit) },
		func() ([]StoredMessage, error) { return s.repo.FindAnonymous(ctx, since, limit) },
		func() ([]StoredMessage, error) {
			return s.repo.FindByTypeForKey(ctx, pub, envelope.MessageTypeDiscovery, since, limit)
		},
	}
	seen := make(map[uuid.UUID]struct{})
	var out []StoredMessage
	for _, q := range queries {
		msgs, err := q()
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b StoredMessage) int { return a.StoredAt.Compare(b.StoredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HandleStoredMessages unpacks a SafStoredMessages response and delivers the
// messages this node can read.
func (s *Service) HandleStoredMessages(ctx context.Context, msg *inbound.DecryptedMessage) error {
	var resp proto.SafStoredMessages
	if err := proto.Unmarshal(msg.Plaintext, &resp); err != nil {
		return fmt.Errorf("storeforward: decode stored messages: %w", err)
	}
	delivered := 0
	for _, stored := range resp.Messages {
		h, err := envelope.DecodeHeader(stored.Header)
		if err != nil {
			s.logger.Debug("skipping stored message with bad header", zap.Error(err))
			continue
		}
		env := envelope.DhtEnvelope{Header: h, Body: stored.Body}
		raw, err := env.Encode()
		if err != nil || s.seen.Seen(raw) {
			continue
		}
		inner, err := inbound.Decrypt(s.identity, env)
		if err != nil || inner.DecryptionFailed() {
			continue
		}
		if !h.Destination.IsUnknown() && !h.Destination.MatchesSelf(s.identity.PublicKey(), s.identity.NodeID()) {
			continue
		}
		inner.Tag = msg.Tag
		inner.Source = msg.Source
		inner.ForThisNode = true
		if err := s.deliver.HandleMessage(ctx, inner); err != nil {
			s.logger.Debug("stored message handler failed", zap.Error(err))
			continue
		}
		delivered++
	}
	s.logger.Info("received stored messages",
		zap.Int("total", len(resp.Messages)), zap.Int("delivered", delivered))
	return nil
}

// Cleanup applies the retention windows once.
func (s *Service) Cleanup(ctx context.Context, now time.Time) error {
	low, err := s.repo.DeleteOlderThan(ctx, PriorityLow, now.Add(-s.cfg.LowRetention))
	if err != nil {
		return err
	}
	high, err := s.repo.DeleteOlderThan(ctx, PriorityHigh, now.Add(-s.cfg.HighRetention))
	if err != nil {
		return err
	}
	if low+high > 0 {
		s.logger.Info("expired stored messages", zap.Int("low", low), zap.Int("high", high))
	}
	return nil
}

// RunCleanup calls Cleanup every CleanupInterval until ctx ends.
func (s *Service) RunCleanup(ctx context.Context) {
	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := s.Cleanup(ctx, now); err != nil && ctx.Err() == nil {
				s.logger.Error("stored message cleanup failed", zap.Error(err))
			}
		}
	}
}
