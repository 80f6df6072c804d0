package peers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"p2p-relay/internal/dht"
)

type peerRecord struct {
	PublicKey string     `json:"public_key"`
	NodeID    dht.NodeID `json:"node_id"`
	Addresses []string   `json:"addresses"`
	Features  Features   `json:"features"`
	LastSeen  time.Time  `json:"last_seen"`
}

// FileStore persists a directory snapshot as JSON so a restarted node has
// somebody to talk to.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) Path() string { return s.path }

// Load returns the stored peers. A missing file is an empty snapshot.
func (s *FileStore) Load() ([]Peer, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []peerRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("peerstore decode: %w", err)
	}
	out := make([]Peer, 0, len(recs))
	for _, r := range recs {
		pub, err := ParsePublicKeyHex(r.PublicKey)
		if err != nil || len(r.Addresses) == 0 {
			continue
		}
		out = append(out, Peer{
			PublicKey: pub,
			NodeID:    r.NodeID,
			Addresses: r.Addresses,
			Features:  r.Features,
			LastSeen:  r.LastSeen,
		})
	}
	return out, nil
}

// Save writes every peer that has at least one address.
func (s *FileStore) Save(peers []Peer) error {
	recs := make([]peerRecord, 0, len(peers))
	for _, p := range peers {
		if len(p.Addresses) == 0 {
			continue
		}
		recs = append(recs, peerRecord{
			PublicKey: PublicKeyHex(p.PublicKey),
			NodeID:    p.NodeID,
			Addresses: p.Addresses,
			Features:  p.Features,
			LastSeen:  p.LastSeen,
		})
	}

	// Stable output helps with diffs + sanity.
	sort.Slice(recs, func(i, j int) bool { return recs[i].PublicKey < recs[j].PublicKey })

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("peerstore encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
