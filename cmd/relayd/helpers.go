package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"p2p-relay/internal/config"
	"p2p-relay/internal/identity"
	"p2p-relay/internal/paths"
	"p2p-relay/internal/telemetry"
	"p2p-relay/internal/transport"
	"p2p-relay/internal/transport/quic"
	"p2p-relay/internal/transport/tcp"
)

// loadConfig reads RELAY_ variables, then applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.NewManager(config.EnvSource{}, nil))
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if v, _ := flags.GetString("data"); v != "" {
		cfg.Node.DataDir = v
	}
	if flags.Lookup("listen") != nil && flags.Changed("listen") {
		cfg.Node.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Lookup("bootstrap") != nil && flags.Changed("bootstrap") {
		cfg.Node.BootstrapPeers, _ = flags.GetStringSlice("bootstrap")
	}
	if flags.Lookup("transport") != nil && flags.Changed("transport") {
		cfg.Transport, _ = flags.GetString("transport")
	}
	if flags.Lookup("metrics") != nil && flags.Changed("metrics") {
		cfg.MetricsAddr, _ = flags.GetString("metrics")
	}
	cfg.Node.DataDir = paths.Expand(cfg.Node.DataDir)
	return cfg, nil
}

func newTransport(kind string, id *identity.NodeIdentity, logger *zap.Logger) (transport.Transport, error) {
	switch kind {
	case config.TransportTCP:
		return tcp.New(tcp.DefaultConfig(), id, logger)
	case config.TransportQUIC:
		return quic.New(quic.DefaultConfig(), id, logger)
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

func newLogger(cfg config.Config, id *identity.NodeIdentity) (*zap.Logger, error) {
	lc := cfg.Log
	if id != nil {
		lc.NodeID = id.NodeID().String()
	}
	return telemetry.NewLogger(lc)
}
