package discovery

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"p2p-relay/internal/dht"
)

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func (b *tokenBucket) allow(now time.Time, rate, burst, cost float64) bool {
	if b.last.IsZero() {
		b.last = now
		b.tokens = burst
	}
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}

// limiterCapacity bounds how many peers are tracked at once. Buckets idle
// for limiterTTL are dropped; a returning peer starts with a full bucket.
const (
	limiterCapacity = 4096
	limiterTTL      = 10 * time.Minute
)

// peerLimiter keeps one bucket per recently active peer.
type peerLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets *expirable.LRU[dht.NodeID, *tokenBucket]
}

func newPeerLimiter(rate, burst float64) *peerLimiter {
	return &peerLimiter{
		rate:    rate,
		burst:   burst,
		buckets: expirable.NewLRU[dht.NodeID, *tokenBucket](limiterCapacity, nil, limiterTTL),
	}
}

func (l *peerLimiter) allow(id dht.NodeID, now time.Time) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets.Get(id)
	if !ok {
		b = &tokenBucket{}
	}
	// Add refreshes the entry's expiry.
	l.buckets.Add(id, b)
	return b.allow(now, l.rate, l.burst, 1)
}

func (l *peerLimiter) tracked() int { return l.buckets.Len() }
