package inbound

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Dedup remembers recently seen envelopes so relayed copies are handled once.
type Dedup struct {
	mu   sync.Mutex
	seen *expirable.LRU[[sha256.Size]byte, struct{}]
}

func NewDedup(size int, ttl time.Duration) *Dedup {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Dedup{seen: expirable.NewLRU[[sha256.Size]byte, struct{}](size, nil, ttl)}
}

// Seen records raw and reports whether it had already been recorded.
func (d *Dedup) Seen(raw []byte) bool {
	key := sha256.Sum256(raw)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen.Get(key); ok {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}

func (d *Dedup) Len() int { return d.seen.Len() }
