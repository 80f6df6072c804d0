package storeforward

import (
	"time"

	"p2p-relay/internal/messaging"
)

// responseOverhead is reserved in every reply for the outer envelope header,
// encryption and origin signature.
const responseOverhead = 64 << 10

type Config struct {
	// Enabled turns on staging of messages for other peers and answering
	// their requests.
	Enabled bool
	// MaxReturned caps the messages sent back for one request.
	MaxReturned int
	// MaxResponseBytes caps the stored messages packed into one reply. A
	// request that matches more is answered with several replies.
	MaxResponseBytes int
	// RegionSize is the neighbourhood used to bound regional messages.
	RegionSize      int
	LowRetention    time.Duration
	HighRetention   time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxReturned:      500,
		MaxResponseBytes: messaging.MaxMessageSize - responseOverhead,
		RegionSize:       8,
		LowRetention:     6 * time.Hour,
		HighRetention:    3 * 24 * time.Hour,
		CleanupInterval:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxReturned <= 0 {
		c.MaxReturned = def.MaxReturned
	}
	if c.MaxResponseBytes <= 0 || c.MaxResponseBytes > def.MaxResponseBytes {
		c.MaxResponseBytes = def.MaxResponseBytes
	}
	if c.RegionSize <= 0 {
		c.RegionSize = def.RegionSize
	}
	if c.LowRetention <= 0 {
		c.LowRetention = def.LowRetention
	}
	if c.HighRetention <= 0 {
		c.HighRetention = def.HighRetention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}
