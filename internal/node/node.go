// Package node wires the routing layer together: transport, delivery
// workers, inbound pipeline, forwarding, discovery and store-and-forward.
package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"p2p-relay/internal/bootstrap"
	"p2p-relay/internal/connmgr"
	"p2p-relay/internal/discovery"
	"p2p-relay/internal/envelope"
	"p2p-relay/internal/forward"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/inbound"
	"p2p-relay/internal/messaging"
	"p2p-relay/internal/metrics"
	"p2p-relay/internal/outbound"
	"p2p-relay/internal/peers"
	"p2p-relay/internal/storeforward"
	"p2p-relay/internal/telemetry"
	"p2p-relay/internal/transport"
)

var ErrNotStarted = errors.New("node: not started")

// Message is an application message delivered to this node.
type Message struct {
	Tag messaging.MessageTag
	// Origin is the authenticated author, nil when the sender stayed anonymous.
	Origin    ed25519.PublicKey
	Relay     peers.Peer
	Encrypted bool
	Body      []byte
}

type Node struct {
	cfg      Config
	identity *identity.NodeIdentity
	tr       transport.Transport
	logger   *zap.Logger
	metrics  metrics.Metrics

	dir        *peers.Directory
	peerStore  *peers.FileStore
	repo       *storeforward.BoltRepository
	conns      *connmgr.Manager
	protocol   *messaging.Protocol
	dispatcher *outbound.Dispatcher
	discovery  *discovery.Service
	saf        *storeforward.Service
	pipeline   *inbound.Pipeline

	messages chan Message

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	listening string
}

// New builds a node around id. The store-and-forward database is opened
// under cfg.DataDir.
func New(cfg Config, id *identity.NodeIdentity, tr transport.Transport, logger *zap.Logger, m metrics.Metrics) (*Node, error) {
	logger = telemetry.OrNop(logger)
	m = metrics.OrNoop(m)
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = DefaultConfig().MessageBuffer
	}
	cfg.Outbound.Network = cfg.Network
	cfg.Inbound.Network = cfg.Network
	cfg.Discovery.Features = cfg.Features

	if cfg.DataDir == "" {
		return nil, errors.New("node: data dir is required")
	}
	repo, err := storeforward.OpenBolt(cfg.SAFPath())
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		identity:  id,
		tr:        tr,
		logger:    logger,
		metrics:   m,
		dir:       peers.NewDirectory(id.NodeID()),
		peerStore: peers.NewFileStore(cfg.PeerStorePath()),
		repo:      repo,
		messages:  make(chan Message, cfg.MessageBuffer),
	}
	n.conns = connmgr.New(cfg.ConnMgr, tr, n.dir, logger)
	n.protocol = messaging.NewProtocol(cfg.Messaging, id, n.conns, logger, m)
	n.dispatcher = outbound.NewDispatcher(cfg.Outbound, id, n.dir, n.protocol, logger, m)
	n.discovery = discovery.New(cfg.Discovery, id, n.dir, n.dispatcher, logger)
	n.dispatcher.SetDiscoverer(n.discovery)

	router := inbound.NewRouter(logger).
		Route(envelope.MessageTypeNone, inbound.HandlerFunc(n.deliver)).
		Route(envelope.MessageTypeJoin, inbound.HandlerFunc(n.discovery.HandleJoin)).
		Route(envelope.MessageTypeDiscovery, inbound.HandlerFunc(n.discovery.HandleDiscoveryRequest)).
		Route(envelope.MessageTypeDiscoveryResponse, inbound.HandlerFunc(n.discovery.HandleDiscoveryResponse))
	n.saf = storeforward.NewService(cfg.StoreForward, id, n.dir, repo, n.dispatcher, router, logger)
	router.
		Route(envelope.MessageTypeSafRequestMessages, inbound.HandlerFunc(n.saf.HandleRequest)).
		Route(envelope.MessageTypeSafStoredMessages, inbound.HandlerFunc(n.saf.HandleStoredMessages))

	chain := inbound.Chain(router,
		forward.Layer(n.dir, n.dispatcher, logger, m),
		storeforward.StoreLayer(cfg.StoreForward, repo, n.dir, logger, m),
	)
	n.pipeline = inbound.NewPipeline(cfg.Inbound, id, n.dir, chain, logger, m)
	return n, nil
}

func (n *Node) Identity() *identity.NodeIdentity { return n.identity }

func (n *Node) Directory() *peers.Directory { return n.dir }

func (n *Node) Repository() *storeforward.BoltRepository { return n.repo }

func (n *Node) Dispatcher() *outbound.Dispatcher { return n.dispatcher }

// Messages yields application messages addressed to this node.
func (n *Node) Messages() <-chan Message { return n.messages }

// Subscribe exposes the per-message delivery events.
func (n *Node) Subscribe(buffer int) (<-chan messaging.Event, func()) {
	return n.protocol.Subscribe(buffer)
}

// ListenAddr is the bound address once Start has returned.
func (n *Node) ListenAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listening
}

// Start binds the transport, seeds the directory, announces the node to its
// neighbours and asks them for messages stored while it was away.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return errors.New("node: already started")
	}
	n.started = true
	n.mu.Unlock()

	addr, err := n.tr.Listen(ctx, n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("node: listen: %w", err)
	}
	advertised := n.cfg.PublicAddresses
	if len(advertised) == 0 {
		advertised = []string{addr}
	}
	n.discovery.SetAddresses(advertised)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.mu.Lock()
	n.listening = addr
	n.cancel = cancel
	n.mu.Unlock()

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		err := n.conns.Serve(runCtx, transport.Protocols{messaging.ProtocolID: n.protocol.HandleSubstream})
		if err != nil {
			n.logger.Error("accept loop stopped", zap.Error(err))
		}
	}()
	go func() {
		defer n.wg.Done()
		n.pipeline.Run(runCtx, n.protocol.Inbound())
	}()
	if n.cfg.StoreForward.Enabled {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.saf.RunCleanup(runCtx)
		}()
	}

	added := bootstrap.RunOnce(ctx, n.dir, bootstrap.DefaultConfig(), n.logger,
		bootstrap.StaticSource{Entries: n.cfg.BootstrapPeers, Label: "seeds"},
		bootstrap.PeerStoreSource{Store: n.peerStore},
	)
	n.logger.Info("node started",
		zap.String("node_id", n.identity.NodeID().Hex()),
		zap.String("listen", addr),
		zap.Strings("advertised", advertised),
		zap.Int("bootstrap_peers", added))

	if n.dir.Len() > 0 {
		if _, err := n.discovery.Join(ctx); err != nil {
			n.logger.Warn("join failed", zap.Error(err))
		}
		// Only messages stored since the last shutdown; earlier ones were
		// already retrieved by a previous run.
		since, err := n.repo.LastOnline()
		if err != nil {
			n.logger.Warn("could not read last online time", zap.Error(err))
		}
		if _, err := n.saf.RequestStoredMessages(ctx, since); err != nil {
			n.logger.Warn("stored message request failed", zap.Error(err))
		}
	}
	return nil
}

// Stop shuts down workers and the transport and saves the directory.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	n.protocol.Close()
	var errs []error
	if err := n.tr.Close(); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	n.wg.Wait()

	if err := n.peerStore.Save(n.dir.All()); err != nil {
		errs = append(errs, fmt.Errorf("node: save peers: %w", err))
	}
	if cancel != nil {
		if err := n.repo.SetLastOnline(time.Now()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.repo.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
