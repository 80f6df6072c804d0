// Package discovery finds peers that are missing from the directory and
// announces this node to the network.
package discovery

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

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

var (
	ErrDiscoveryTimeout = errors.New("discovery: timed out")
	ErrDiscoveryFailed  = errors.New("discovery: request could not be sent")
	ErrUnauthenticated  = errors.New("discovery: message without authenticated origin")
	ErrRateLimited      = errors.New("discovery: rate limited")
)

// Sender queues a send with explicit parameters.
type Sender interface {
	SendMessage(ctx context.Context, params outbound.SendParams, body []byte) outbound.SendResult
}

type Config struct {
	// Addresses and Features are what this node advertises.
	Addresses []string
	Features  peers.Features
	// RequestRate and RequestBurst bound discovery requests per source peer.
	// A zero rate disables the limit.
	RequestRate  float64
	RequestBurst float64
}

func DefaultConfig() Config {
	return Config{Features: peers.CommunicationNode, RequestRate: 1, RequestBurst: 5}
}

type pendingDiscovery struct {
	dest envelope.Destination
	ch   chan peers.Peer
}

type Service struct {
	cfg      Config
	identity *identity.NodeIdentity
	dir      *peers.Directory
	sender   Sender
	limiter  *peerLimiter
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[uint64]pendingDiscovery
	addrs   []string
}

func New(cfg Config, id *identity.NodeIdentity, dir *peers.Directory, sender Sender, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		identity: id,
		dir:      dir,
		sender:   sender,
		limiter:  newPeerLimiter(cfg.RequestRate, cfg.RequestBurst),
		logger:   telemetry.OrNop(logger).Named("discovery"),
		pending:  make(map[uint64]pendingDiscovery),
		addrs:    append([]string(nil), cfg.Addresses...),
	}
}

// SetAddresses replaces the addresses advertised in joins and discovery
// replies, typically once the listener is bound.
func (s *Service) SetAddresses(addrs []string) {
	s.mu.Lock()
	s.addrs = append([]string(nil), addrs...)
	s.mu.Unlock()
}

func (s *Service) advertised() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.addrs...)
}

// Discover sends a discovery request towards dest and waits for the answer.
// The peer that answers is added to the directory before it is returned.
func (s *Service) Discover(ctx context.Context, dest envelope.Destination) (peers.Peer, error) {
	target, ok := dest.NodeID()
	if !ok {
		return peers.Peer{}, fmt.Errorf("discovery: destination %s is not concrete", dest)
	}
	nonce := newNonce()
	ch := make(chan peers.Peer, 1)
	s.mu.Lock()
	s.pending[nonce] = pendingDiscovery{dest: dest, ch: ch}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, nonce)
		s.mu.Unlock()
	}()

	body, err := proto.Marshal(proto.DiscoveryRequest{
		Nonce:     nonce,
		Addresses: s.advertised(),
		Features:  uint32(s.cfg.Features),
	})
	if err != nil {
		return peers.Peer{}, err
	}
	enc := outbound.ClearText()
	if pub := dest.PublicKey(); pub != nil {
		enc = outbound.EncryptFor(pub)
	}
	res := s.sender.SendMessage(ctx, outbound.SendParams{
		Strategy:      outbound.NeighboursIncludeClients(target),
		Destination:   dest,
		MessageType:   envelope.MessageTypeDiscovery,
		Encryption:    enc,
		IncludeOrigin: true,
	}, body)
	if !res.IsQueued() {
		return peers.Peer{}, ErrDiscoveryFailed
	}
	s.logger.Debug("discovery request sent", zap.Stringer("destination", dest), zap.Int("peers", len(res.Tags)))

	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return peers.Peer{}, ErrDiscoveryTimeout
		}
		return peers.Peer{}, ctx.Err()
	}
}

// HandleDiscoveryRequest adds the requester and answers it directly.
func (s *Service) HandleDiscoveryRequest(ctx context.Context, msg *inbound.DecryptedMessage) error {
	origin := msg.Origin()
	if origin == nil {
		return ErrUnauthenticated
	}
	if !s.limiter.allow(dht.NodeIDFromPublicKey(origin), time.Now()) {
		s.logger.Warn("discovery request rate limited", zap.String("origin", peers.ShortKey(origin)))
		return ErrRateLimited
	}
	var req proto.DiscoveryRequest
	if err := proto.Unmarshal(msg.Plaintext, &req); err != nil {
		return fmt.Errorf("discovery: decode request: %w", err)
	}
	s.learn(origin, req.Features, req.Addresses)

	body, err := proto.Marshal(proto.DiscoveryResponse{
		Nonce:     req.Nonce,
		Addresses: s.advertised(),
		Features:  uint32(s.cfg.Features),
	})
	if err != nil {
		return err
	}
	res := s.sender.SendMessage(ctx, outbound.SendParams{
		Destination:   envelope.ToPublicKey(origin),
		MessageType:   envelope.MessageTypeDiscoveryResponse,
		Encryption:    outbound.EncryptFor(origin),
		IncludeOrigin: true,
	}, body)
	s.logger.Debug("answered discovery request",
		zap.String("origin", peers.ShortKey(origin)), zap.Stringer("status", res.Status))
	return nil
}

// HandleDiscoveryResponse completes a pending Discover call.
func (s *Service) HandleDiscoveryResponse(_ context.Context, msg *inbound.DecryptedMessage) error {
	origin := msg.Origin()
	if origin == nil {
		return ErrUnauthenticated
	}
	var resp proto.DiscoveryResponse
	if err := proto.Unmarshal(msg.Plaintext, &resp); err != nil {
		return fmt.Errorf("discovery: decode response: %w", err)
	}

	s.mu.Lock()
	pd, ok := s.pending[resp.Nonce]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("discovery response without pending request", zap.String("origin", peers.ShortKey(origin)))
		return nil
	}
	if !answers(pd.dest, origin) {
		s.logger.Warn("discovery response from unexpected peer",
			zap.String("origin", peers.ShortKey(origin)), zap.Stringer("expected", pd.dest))
		return nil
	}

	p, err := s.learn(origin, resp.Features, resp.Addresses)
	if err != nil {
		return err
	}
	select {
	case pd.ch <- p:
	default:
	}
	return nil
}

func answers(dest envelope.Destination, origin ed25519.PublicKey) bool {
	if pub := dest.PublicKey(); pub != nil {
		return pub.Equal(origin)
	}
	id, ok := dest.NodeID()
	return ok && id == dht.NodeIDFromPublicKey(origin)
}

// Join announces this node to every known communication node.
func (s *Service) Join(ctx context.Context) (outbound.SendResult, error) {
	body, err := proto.Marshal(proto.JoinMessage{
		Addresses: s.advertised(),
		Features:  uint32(s.cfg.Features),
	})
	if err != nil {
		return outbound.SendResult{}, err
	}
	res := s.sender.SendMessage(ctx, outbound.SendParams{
		Strategy:      outbound.Flood(),
		Destination:   envelope.Unknown(),
		MessageType:   envelope.MessageTypeJoin,
		IncludeOrigin: true,
	}, body)
	s.logger.Info("join sent", zap.Stringer("status", res.Status), zap.Int("peers", len(res.Tags)))
	return res, nil
}

// HandleJoin records the joining peer.
func (s *Service) HandleJoin(_ context.Context, msg *inbound.DecryptedMessage) error {
	origin := msg.Origin()
	if origin == nil {
		return ErrUnauthenticated
	}
	var join proto.JoinMessage
	if err := proto.Unmarshal(msg.Plaintext, &join); err != nil {
		return fmt.Errorf("discovery: decode join: %w", err)
	}
	_, err := s.learn(origin, join.Features, join.Addresses)
	return err
}

func (s *Service) learn(pub ed25519.PublicKey, features uint32, addrs []string) (peers.Peer, error) {
	p := peers.New(pub, peers.Features(features), addrs...)
	p.State = peers.StateOnline
	if err := s.dir.Add(p); err != nil {
		s.logger.Debug("could not add peer", zap.String("peer", peers.ShortKey(pub)), zap.Error(err))
		return peers.Peer{}, err
	}
	s.logger.Debug("peer learned", zap.String("peer", peers.ShortKey(pub)), zap.Strings("addresses", addrs))
	return s.dir.Find(p.NodeID)
}

func newNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

var _ outbound.Discoverer = (*Service)(nil)
