// Package bootstrap seeds the peer directory from configured sources.
package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"p2p-relay/internal/peers"
	"p2p-relay/internal/telemetry"
)

type Config struct {
	// MaxPeersPerRound caps the peers taken from each source, unless the
	// source is Bounded.
	MaxPeersPerRound int
}

func DefaultConfig() Config {
	return Config{MaxPeersPerRound: 64}
}

// RunOnce gathers candidates from sources and adds them to dir. Sources are
// consulted in order; the first record for a key wins. It returns how many
// peers were added.
func RunOnce(ctx context.Context, dir *peers.Directory, cfg Config, logger *zap.Logger, sources ...PeerSource) int {
	logger = telemetry.OrNop(logger).Named("bootstrap")
	if cfg.MaxPeersPerRound <= 0 {
		cfg.MaxPeersPerRound = DefaultConfig().MaxPeersPerRound
	}

	seen := make(map[string]struct{})
	added := 0
	for _, s := range sources {
		if ctx.Err() != nil {
			break
		}
		cands, err := s.Discover(ctx)
		if err != nil {
			logger.Warn("source failed", zap.String("source", s.Name()), zap.Error(err))
			continue
		}
		limit := cfg.MaxPeersPerRound
		if b, ok := s.(Bounded); ok {
			limit = b.MaxPeers()
		}
		taken := 0
		for _, p := range cands {
			if limit > 0 && taken >= limit {
				break
			}
			key := string(p.PublicKey)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if err := dir.Add(p); err != nil {
				logger.Debug("skipping candidate", zap.String("source", s.Name()), zap.Error(err))
				continue
			}
			added++
			taken++
		}
		logger.Info("source consulted",
			zap.String("source", s.Name()), zap.Int("candidates", len(cands)), zap.Int("added", taken))
	}
	return added
}
