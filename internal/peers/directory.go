package peers

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"p2p-relay/internal/dht"
)

var (
	ErrPeerNotFound = errors.New("peers: peer not found")
	ErrInvalidPeer  = errors.New("peers: invalid peer")
)

// Filter keeps a peer in a selection when it returns true.
type Filter func(Peer) bool

// Directory is the node's view of known peers. Safe for concurrent use.
type Directory struct {
	self dht.NodeID

	mu    sync.RWMutex
	byID  map[dht.NodeID]*Peer
	byKey map[string]dht.NodeID
}

func NewDirectory(self dht.NodeID) *Directory {
	return &Directory{
		self:  self,
		byID:  make(map[dht.NodeID]*Peer),
		byKey: make(map[string]dht.NodeID),
	}
}

func (d *Directory) Self() dht.NodeID { return d.self }

// Add inserts or updates the record for p.PublicKey. A zero NodeID is derived
// from the key. Addresses and features are replaced when the incoming record
// carries them.
func (d *Directory) Add(p Peer) error {
	if len(p.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key length %d", ErrInvalidPeer, len(p.PublicKey))
	}
	id := p.NodeID
	if id.IsZero() {
		id = dht.NodeIDFromPublicKey(p.PublicKey)
	}
	if id == d.self {
		return fmt.Errorf("%w: refusing to add self", ErrInvalidPeer)
	}
	p = p.clone()
	p.NodeID = id
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.byKey[string(p.PublicKey)]; ok && prev != id {
		return fmt.Errorf("%w: key already bound to %s", ErrInvalidPeer, prev)
	}
	if existing, ok := d.byID[id]; ok {
		if string(existing.PublicKey) != string(p.PublicKey) {
			return fmt.Errorf("%w: node id %s already bound to another key", ErrInvalidPeer, id)
		}
		if len(p.Addresses) > 0 {
			existing.Addresses = p.Addresses
		}
		if p.Features != 0 {
			existing.Features = p.Features
		}
		if p.State != StateUnknown {
			existing.State = p.State
		}
		if p.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = p.LastSeen
		}
		return nil
	}
	d.byID[id] = &p
	d.byKey[string(p.PublicKey)] = id
	return nil
}

func (d *Directory) Remove(id dht.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byID[id]
	if !ok {
		return ErrPeerNotFound
	}
	delete(d.byKey, string(p.PublicKey))
	delete(d.byID, id)
	return nil
}

func (d *Directory) Exists(id dht.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byID[id]
	return ok
}

func (d *Directory) ExistsPublicKey(pub ed25519.PublicKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byKey[string(pub)]
	return ok
}

func (d *Directory) Find(id dht.NodeID) (Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byID[id]
	if !ok {
		return Peer{}, ErrPeerNotFound
	}
	return p.clone(), nil
}

func (d *Directory) FindByPublicKey(pub ed25519.PublicKey) (Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byKey[string(pub)]
	if !ok {
		return Peer{}, ErrPeerNotFound
	}
	return d.byID[id].clone(), nil
}

// SetState records a connectivity change and touches LastSeen when the peer came online.
func (d *Directory) SetState(id dht.NodeID, state ConnState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byID[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.State = state
	if state == StateOnline {
		p.LastSeen = time.Now()
	}
	return nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// All returns every record ordered by NodeID.
func (d *Directory) All() []Peer {
	d.mu.RLock()
	out := make([]Peer, 0, len(d.byID))
	for _, p := range d.byID {
		out = append(out, p.clone())
	}
	d.mu.RUnlock()
	slices.SortFunc(out, func(a, b Peer) int { return ByPublicKey(a, b) })
	return out
}

// Select returns the peers accepted by filter, unordered.
func (d *Directory) Select(filter Filter) []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.byID))
	for _, p := range d.byID {
		if filter == nil || filter(*p) {
			out = append(out, p.clone())
		}
	}
	return out
}

// Closest returns up to n peers nearest to target that pass filter. Ties on
// distance are broken by most recently seen, then by public key bytes.
func (d *Directory) Closest(target dht.NodeID, n int, filter Filter) []Peer {
	if n <= 0 {
		return nil
	}
	cands := d.Select(filter)
	slices.SortFunc(cands, Chain(ByDistanceTo(target), ByLastSeen, ByPublicKey))
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// RegionThreshold is the distance from target to its n-th closest known
// communication node. With fewer than n such peers the whole keyspace counts.
func (d *Directory) RegionThreshold(target dht.NodeID, n int) dht.Distance {
	closest := d.Closest(target, n, func(p Peer) bool {
		return p.NodeID != target && !p.IsClient()
	})
	if n <= 0 || len(closest) < n {
		return dht.MaxDistance
	}
	return closest[len(closest)-1].NodeID.Distance(target)
}
