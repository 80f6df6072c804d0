package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"p2p-relay/internal/crypto/ecies"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/proto"
	"p2p-relay/internal/telemetry"
)

type Config struct {
	// NumNeighbours is K for neighbour strategies.
	NumNeighbours    int
	Network          envelope.Network
	DiscoveryEnabled bool
	DiscoveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		NumNeighbours:    8,
		Network:          envelope.MainNet,
		DiscoveryEnabled: true,
		DiscoveryTimeout: 30 * time.Second,
	}
}

// Messenger queues a single-peer message for delivery.
type Messenger interface {
	SendMessage(msg messaging.OutboundMessage)
}

// Discoverer locates a peer that is not in the directory yet and adds it.
type Discoverer interface {
	Discover(ctx context.Context, dest envelope.Destination) (peers.Peer, error)
}

// Dispatcher turns a logical send into per-peer outbound messages.
type Dispatcher struct {
	cfg        Config
	identity   *identity.NodeIdentity
	dir        *peers.Directory
	messenger  Messenger
	discoverer Discoverer
	logger     *zap.Logger
	metrics    metrics.Metrics
}

func NewDispatcher(cfg Config, id *identity.NodeIdentity, dir *peers.Directory, messenger Messenger, logger *zap.Logger, m metrics.Metrics) *Dispatcher {
	if cfg.NumNeighbours <= 0 {
		cfg.NumNeighbours = DefaultConfig().NumNeighbours
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultConfig().DiscoveryTimeout
	}
	return &Dispatcher{
		cfg:       cfg,
		identity:  id,
		dir:       dir,
		messenger: messenger,
		logger:    telemetry.OrNop(logger).Named("outbound"),
		metrics:   metrics.OrNoop(m),
	}
}

// SetDiscoverer wires discovery in. Call it before the first Send.
func (d *Dispatcher) SetDiscoverer(disc Discoverer) { d.discoverer = disc }

func (d *Dispatcher) Config() Config { return d.cfg }

// Send delivers body to dest. A concrete destination missing from the
// directory triggers discovery when enabled, in which case the result is
// PendingDiscovery and resolves once the peer is found or the timeout passes.
func (d *Dispatcher) Send(ctx context.Context, dest envelope.Destination, msgType envelope.MessageType, enc Encryption, body []byte) SendResult {
	params := SendParams{
		Destination:   dest,
		MessageType:   msgType,
		Encryption:    enc,
		IncludeOrigin: true,
	}
	if d.shouldDiscover(dest) {
		return d.sendAfterDiscovery(ctx, params, body)
	}
	return d.SendMessage(ctx, params, body)
}

func (d *Dispatcher) shouldDiscover(dest envelope.Destination) bool {
	if !d.cfg.DiscoveryEnabled || d.discoverer == nil {
		return false
	}
	switch dest.Kind() {
	case envelope.DestinationPublicKey:
		return !d.dir.ExistsPublicKey(dest.PublicKey())
	case envelope.DestinationNodeID:
		id, _ := dest.NodeID()
		return !d.dir.Exists(id)
	}
	return false
}

func (d *Dispatcher) sendAfterDiscovery(ctx context.Context, params SendParams, body []byte) SendResult {
	out := make(chan SendResult, 1)
	go func() {
		start := time.Now()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DiscoveryTimeout)
		defer cancel()

		p, err := d.discoverer.Discover(dctx, params.Destination)
		d.metrics.ObserveDiscovery(time.Since(start), err == nil)
		if err != nil {
			d.logger.Info("discovery failed, message not sent",
				zap.Stringer("destination", params.Destination), zap.Error(err))
			out <- failed()
			return
		}
		params.Strategy = DirectNodeID(p.NodeID)
		out <- d.SendMessage(dctx, params, body)
	}()
	return SendResult{Status: StatusPendingDiscovery, pending: out}
}

// SendMessage resolves params to peers and queues one message per peer.
func (d *Dispatcher) SendMessage(ctx context.Context, params SendParams, body []byte) SendResult {
	strategy := params.Strategy
	if !strategy.IsSet() {
		strategy = SelectStrategy(d.dir, params.Destination, params.MessageType, nil)
	}
	plan := Resolve(d.dir, strategy, d.cfg.NumNeighbours)
	if plan.IsEmpty() {
		d.metrics.IncDispatch(strategy.Kind.String(), false)
		d.logger.Debug("no peers for strategy",
			zap.Stringer("strategy", strategy), zap.Stringer("destination", params.Destination))
		return failed()
	}

	wire, err := d.buildEnvelope(params, body)
	if err == nil && len(wire) > messaging.MaxMessageSize {
		err = fmt.Errorf("%w: %d bytes", messaging.ErrMessageTooLarge, len(wire))
	}
	if err != nil {
		d.metrics.IncDispatch(strategy.Kind.String(), false)
		d.logger.Error("failed to build envelope", zap.Error(err))
		return failed()
	}

	tags := make([]messaging.MessageTag, 0, len(plan.Peers))
	for _, p := range plan.Peers {
		tag := messaging.NewMessageTag()
		d.messenger.SendMessage(messaging.OutboundMessage{Tag: tag, PeerNodeID: p.NodeID, Body: wire})
		tags = append(tags, tag)
	}
	d.metrics.IncDispatch(strategy.Kind.String(), true)
	d.logger.Debug("message queued",
		zap.Stringer("strategy", strategy),
		zap.Stringer("type", params.MessageType),
		zap.Int("peers", len(tags)))
	return queued(tags)
}

var errMissingRecipient = errors.New("outbound: encryption requires a recipient key")

func (d *Dispatcher) buildEnvelope(params SendParams, body []byte) ([]byte, error) {
	env, err := d.Seal(params, body)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

// Seal builds the envelope SendMessage would put on the wire for params,
// without sending it.
func (d *Dispatcher) Seal(params SendParams, body []byte) (envelope.DhtEnvelope, error) {
	if params.ForwardHeader != nil {
		return envelope.DhtEnvelope{Header: *params.ForwardHeader, Body: body}, nil
	}

	h := envelope.NewHeader(params.Destination, params.MessageType, d.cfg.Network)
	if !params.Encryption.IsEncrypted() {
		if params.IncludeOrigin {
			mac, err := d.originMAC(body)
			if err != nil {
				return envelope.DhtEnvelope{}, err
			}
			h.OriginMAC = mac
		}
		return envelope.DhtEnvelope{Header: h, Body: body}, nil
	}

	to := params.Encryption.Recipient()
	if len(to) == 0 {
		return envelope.DhtEnvelope{}, errMissingRecipient
	}
	key, err := ecies.NewSenderKey(to)
	if err != nil {
		return envelope.DhtEnvelope{}, fmt.Errorf("outbound: key agreement: %w", err)
	}
	ct, err := ecies.Seal(key, ecies.LabelBody, body)
	if err != nil {
		return envelope.DhtEnvelope{}, err
	}
	h.Flags |= envelope.FlagEncrypted
	h.EphemeralPublicKey = key.EphemeralPublicKey()
	if params.IncludeOrigin {
		mac, err := d.originMAC(ct)
		if err != nil {
			return envelope.DhtEnvelope{}, err
		}
		if h.OriginMAC, err = ecies.Seal(key, ecies.LabelOrigin, mac); err != nil {
			return envelope.DhtEnvelope{}, err
		}
	}
	return envelope.DhtEnvelope{Header: h, Body: ct}, nil
}

// originMAC signs the wire body with this node's key.
func (d *Dispatcher) originMAC(wireBody []byte) ([]byte, error) {
	return proto.Marshal(proto.OriginMAC{
		PublicKey: d.identity.PublicKey(),
		Signature: d.identity.Sign(wireBody),
	})
}
