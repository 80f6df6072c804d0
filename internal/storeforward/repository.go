package storeforward

import (
	"context"
	"crypto/ed25519"
	"time"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
)

// Repository persists stored messages. Every finder returns messages oldest
// first, restricted to those stored at or after since (the zero time means no
// restriction) and capped at limit.
type Repository interface {
	// Insert assigns ID and StoredAt when they are unset and returns the
	// stored record.
	Insert(ctx context.Context, msg StoredMessage) (StoredMessage, error)
	FindForPeer(ctx context.Context, pub ed25519.PublicKey, id dht.NodeID, since time.Time, limit int) ([]StoredMessage, error)
	// FindRegional returns ordinary messages for node ids other than id. A
	// non-nil threshold keeps only destinations within that distance of id.
	FindRegional(ctx context.Context, id dht.NodeID, threshold *dht.Distance, since time.Time, limit int) ([]StoredMessage, error)
	FindAnonymous(ctx context.Context, since time.Time, limit int) ([]StoredMessage, error)
	FindByTypeForKey(ctx context.Context, pub ed25519.PublicKey, msgType envelope.MessageType, since time.Time, limit int) ([]StoredMessage, error)
	// DeleteOlderThan removes messages of priority stored strictly before cutoff.
	DeleteOlderThan(ctx context.Context, priority Priority, cutoff time.Time) (int, error)
	Close() error
}
