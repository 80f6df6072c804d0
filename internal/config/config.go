// Package config loads relay settings from the environment.
package config

import (
	"fmt"
	"strings"

	"p2p-relay/internal/envelope"
	"p2p-relay/internal/node"
	"p2p-relay/internal/paths"
	"p2p-relay/internal/telemetry"
)

const Prefix = "RELAY_"

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

type Config struct {
	Node        node.Config
	Transport   string
	Log         telemetry.LogConfig
	MetricsAddr string
}

// Load reads every RELAY_ key through m on top of the defaults.
func Load(m *Manager) (Config, error) {
	def := node.DefaultConfig()
	key := func(k string) string { return Prefix + k }

	cfg := Config{Node: def, Log: telemetry.DefaultLogConfig()}
	n := &cfg.Node

	n.DataDir = m.GetString(key("DATA_DIR"), paths.DefaultDataDir())
	n.ListenAddr = m.GetString(key("LISTEN_ADDR"), def.ListenAddr)
	n.PublicAddresses = m.GetStringSlice(key("PUBLIC_ADDRESSES"), nil)
	n.BootstrapPeers = m.GetStringSlice(key("BOOTSTRAP_PEERS"), nil)

	network, err := envelope.ParseNetwork(strings.ToLower(m.GetString(key("NETWORK"), def.Network.String())))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrConfigValueInvalid, key("NETWORK"), err)
	}
	n.Network = network

	cfg.Transport = strings.ToLower(m.GetString(key("TRANSPORT"), TransportTCP))
	if cfg.Transport != TransportTCP && cfg.Transport != TransportQUIC {
		return Config{}, fmt.Errorf("%w: %s: %q", ErrConfigValueInvalid, key("TRANSPORT"), cfg.Transport)
	}

	n.Outbound.NumNeighbours = m.GetIntRange(key("NUM_NEIGHBOURS"), def.Outbound.NumNeighbours, 1, 64)
	n.Outbound.DiscoveryEnabled = m.GetBool(key("DISCOVERY_ENABLED"), def.Outbound.DiscoveryEnabled)
	n.Outbound.DiscoveryTimeout = m.GetDuration(key("DISCOVERY_TIMEOUT"), def.Outbound.DiscoveryTimeout)

	n.StoreForward.Enabled = m.GetBool(key("SAF_ENABLED"), def.StoreForward.Enabled)
	n.StoreForward.LowRetention = m.GetDuration(key("SAF_LOW_RETENTION"), def.StoreForward.LowRetention)
	n.StoreForward.HighRetention = m.GetDuration(key("SAF_HIGH_RETENTION"), def.StoreForward.HighRetention)
	n.StoreForward.CleanupInterval = m.GetDuration(key("SAF_CLEANUP_INTERVAL"), def.StoreForward.CleanupInterval)
	n.StoreForward.MaxReturned = m.GetIntRange(key("SAF_MAX_RETURNED"), def.StoreForward.MaxReturned, 1, 10000)
	n.StoreForward.MaxResponseBytes = m.GetIntRange(key("SAF_MAX_RESPONSE_BYTES"), def.StoreForward.MaxResponseBytes, 1<<10, def.StoreForward.MaxResponseBytes)

	n.Messaging.QueueSize = m.GetIntRange(key("OUTBOUND_QUEUE_SIZE"), def.Messaging.QueueSize, 1, 1<<16)
	n.Messaging.IdleTimeout = m.GetDuration(key("WORKER_IDLE_TIMEOUT"), def.Messaging.IdleTimeout)
	n.MessageBuffer = m.GetIntRange(key("EVENT_BUFFER"), def.MessageBuffer, 1, 1<<16)

	n.Inbound.DedupCacheSize = m.GetIntRange(key("DEDUP_CACHE_SIZE"), def.Inbound.DedupCacheSize, 16, 1<<22)
	n.Inbound.DedupTTL = m.GetDuration(key("DEDUP_TTL"), def.Inbound.DedupTTL)

	cfg.MetricsAddr = m.GetString(key("METRICS_ADDR"), "")
	cfg.Log.Level = m.GetString(key("LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.OutputPath = m.GetString(key("LOG_FILE"), "")
	cfg.Log.Development = m.GetBool(key("LOG_DEV"), false)
	return cfg, nil
}
