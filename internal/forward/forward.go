// Package forward relays inbound messages this node cannot read.
package forward

import (
	"context"
	"crypto/ed25519"

	"go.uber.org/zap"

	"p2p-relay/internal/inbound"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/telemetry"
)

// Requester queues a send with explicit parameters.
type Requester interface {
	SendMessage(ctx context.Context, params outbound.SendParams, body []byte) outbound.SendResult
}

// Forwarder is the inbound stage that relays undecryptable messages and
// then always passes them on.
type Forwarder struct {
	dir       *peers.Directory
	requester Requester
	next      inbound.Handler
	logger    *zap.Logger
	metrics   metrics.Metrics
}

func New(dir *peers.Directory, requester Requester, next inbound.Handler, logger *zap.Logger, m metrics.Metrics) *Forwarder {
	if next == nil {
		next = inbound.Discard
	}
	return &Forwarder{
		dir:       dir,
		requester: requester,
		next:      next,
		logger:    telemetry.OrNop(logger).Named("forward"),
		metrics:   metrics.OrNoop(m),
	}
}

// Layer adapts New to an inbound.Middleware.
func Layer(dir *peers.Directory, requester Requester, logger *zap.Logger, m metrics.Metrics) inbound.Middleware {
	return func(next inbound.Handler) inbound.Handler {
		return New(dir, requester, next, logger, m)
	}
}

func (f *Forwarder) HandleMessage(ctx context.Context, msg *inbound.DecryptedMessage) error {
	if shouldForward(msg) {
		f.forward(ctx, msg)
	}
	return f.next.HandleMessage(ctx, msg)
}

// shouldForward covers ciphertext we hold no key for, plus cleartext
// addressed to some other node. Discovery by node id has no key to encrypt
// for and travels that way.
func shouldForward(msg *inbound.DecryptedMessage) bool {
	if msg.DecryptionFailed() {
		return true
	}
	return !msg.Header.IsEncrypted() && !msg.ForThisNode && !msg.Header.Destination.IsUnknown()
}

func (f *Forwarder) forward(ctx context.Context, msg *inbound.DecryptedMessage) {
	if msg.Header.Destination.MatchesPeer(msg.Source) {
		f.metrics.IncForward(metrics.ForwardSelfSource)
		f.logger.Warn("peer sent a message destined for itself, discarding",
			zap.Stringer("source", msg.Source.NodeID), zap.Stringer("tag", msg.Tag))
		return
	}

	excluded := []ed25519.PublicKey{msg.Source.PublicKey}
	if origin := msg.Origin(); origin != nil {
		excluded = append(excluded, origin)
	}
	strategy := outbound.SelectStrategy(f.dir, msg.Header.Destination, msg.Header.MessageType, excluded)

	header := msg.Header
	res := f.requester.SendMessage(ctx, outbound.SendParams{
		Strategy:      strategy,
		Destination:   msg.Header.Destination,
		MessageType:   msg.Header.MessageType,
		ForwardHeader: &header,
	}, msg.Body)

	if !res.IsQueued() {
		f.metrics.IncForward(metrics.ForwardFailed)
		f.logger.Debug("no peers to forward to",
			zap.Stringer("strategy", strategy), zap.Stringer("destination", msg.Header.Destination))
		return
	}
	f.metrics.IncForward(metrics.ForwardSent)
	f.logger.Debug("message forwarded",
		zap.Stringer("strategy", strategy), zap.Int("peers", len(res.Tags)), zap.Stringer("type", msg.Header.MessageType))
}

var _ inbound.Handler = (*Forwarder)(nil)
