package storeforward

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"p2p-relay/internal/dht"
	"p2p-relay/internal/envelope"
)

const (
	bMessages   = "messages"
	bByStoredAt = "messages_by_stored_at"
	bMeta       = "meta"

	keyLastOnline = "last_online"

	defaultTO    = 2 * time.Second
	defaultLimit = 500
)

// BoltRepository keeps stored messages in a bbolt file: one bucket of JSON
// records keyed by id, plus an index ordered by stored-at time.
type BoltRepository struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the repository at path.
func OpenBolt(path string) (*BoltRepository, error) {
	if path == "" {
		return nil, errors.New("storeforward: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bMessages, bByStoredAt, bMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Close() error { return r.db.Close() }

func (r *BoltRepository) Insert(ctx context.Context, msg StoredMessage) (StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}
	if msg.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return StoredMessage{}, err
		}
		msg.ID = id
	}
	if msg.StoredAt.IsZero() {
		msg.StoredAt = time.Now()
	}
	msg.StoredAt = msg.StoredAt.UTC()

	val, err := json.Marshal(msg)
	if err != nil {
		return StoredMessage{}, err
	}
	err = r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bMessages)).Put(msg.ID[:], val); err != nil {
			return err
		}
		return tx.Bucket([]byte(bByStoredAt)).Put(tsKey(msg.StoredAt, msg.ID), nil)
	})
	if err != nil {
		return StoredMessage{}, fmt.Errorf("%w: insert: %v", ErrStorage, err)
	}
	return msg, nil
}

// Get returns a single message by id.
func (r *BoltRepository) Get(ctx context.Context, id uuid.UUID) (StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}
	var out StoredMessage
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bMessages)).Get(id[:])
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &out)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return StoredMessage{}, fmt.Errorf("%w: get: %v", ErrStorage, err)
	}
	return out, err
}

// List returns every message stored at or after since.
func (r *BoltRepository) List(ctx context.Context, since time.Time, limit int) ([]StoredMessage, error) {
	return r.scan(ctx, since, limit, func(StoredMessage) bool { return true })
}

func (r *BoltRepository) FindForPeer(ctx context.Context, pub ed25519.PublicKey, id dht.NodeID, since time.Time, limit int) ([]StoredMessage, error) {
	return r.scan(ctx, since, limit, func(m StoredMessage) bool {
		if m.DestinationPublicKey != nil && bytes.Equal(m.DestinationPublicKey, pub) {
			return true
		}
		return m.DestinationNodeID != nil && *m.DestinationNodeID == id
	})
}

func (r *BoltRepository) FindRegional(ctx context.Context, id dht.NodeID, threshold *dht.Distance, since time.Time, limit int) ([]StoredMessage, error) {
	return r.scan(ctx, since, limit, func(m StoredMessage) bool {
		if m.DestinationNodeID == nil || *m.DestinationNodeID == id || m.MessageType != envelope.MessageTypeNone {
			return false
		}
		if threshold == nil {
			return true
		}
		return m.DestinationNodeID.Distance(id).Cmp(*threshold) <= 0
	})
}

func (r *BoltRepository) FindAnonymous(ctx context.Context, since time.Time, limit int) ([]StoredMessage, error) {
	return r.scan(ctx, since, limit, func(m StoredMessage) bool {
		return m.OriginPublicKey == nil && m.DestinationPublicKey == nil && m.IsEncrypted &&
			m.MessageType == envelope.MessageTypeNone
	})
}

func (r *BoltRepository) FindByTypeForKey(ctx context.Context, pub ed25519.PublicKey, msgType envelope.MessageType, since time.Time, limit int) ([]StoredMessage, error) {
	return r.scan(ctx, since, limit, func(m StoredMessage) bool {
		if m.MessageType != msgType {
			return false
		}
		return m.DestinationPublicKey == nil || bytes.Equal(m.DestinationPublicKey, pub)
	})
}

func (r *BoltRepository) DeleteOlderThan(ctx context.Context, priority Priority, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := r.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bMessages))
		byTS := tx.Bucket([]byte(bByStoredAt))

		// Collect first; bbolt cursors must not delete while iterating.
		var doomed [][]byte
		end := tsKey(cutoff, uuid.Nil)
		c := byTS.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Next() {
			_, id, ok := splitTSKey(k)
			if !ok {
				continue
			}
			raw := byID.Get(id[:])
			if raw == nil {
				doomed = append(doomed, append([]byte(nil), k...))
				continue
			}
			var m StoredMessage
			if err := json.Unmarshal(raw, &m); err != nil || m.Priority != priority {
				continue
			}
			doomed = append(doomed, append([]byte(nil), k...))
		}
		for _, k := range doomed {
			_, id, _ := splitTSKey(k)
			if byID.Get(id[:]) != nil {
				if err := byID.Delete(id[:]); err != nil {
					return err
				}
				n++
			}
			if err := byTS.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %v", ErrStorage, err)
	}
	return n, nil
}

// SetLastOnline records when this node was last known to be online. It is
// the lower bound for the next stored-message request.
func (r *BoltRepository) SetLastOnline(t time.Time) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(t.UnixNano()))
	err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bMeta)).Put([]byte(keyLastOnline), v[:])
	})
	if err != nil {
		return fmt.Errorf("%w: set last online: %v", ErrStorage, err)
	}
	return nil
}

// LastOnline returns the time saved by SetLastOnline, or the zero time if
// none was saved.
func (r *BoltRepository) LastOnline() (time.Time, error) {
	var t time.Time
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bMeta)).Get([]byte(keyLastOnline))
		if len(v) != 8 {
			return nil
		}
		t = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: last online: %v", ErrStorage, err)
	}
	return t, nil
}

// Count returns the number of stored messages.
func (r *BoltRepository) Count() (int, error) {
	var n int
	err := r.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bMessages)).Stats().KeyN
		return nil
	})
	return n, err
}

// scan walks the stored-at index from since and collects matches until limit.
func (r *BoltRepository) scan(ctx context.Context, since time.Time, limit int, match func(StoredMessage) bool) ([]StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	out := make([]StoredMessage, 0, min(limit, 64))

	err := r.db.View(func(tx *bolt.Tx) error {
		byID := tx.Bucket([]byte(bMessages))
		c := tx.Bucket([]byte(bByStoredAt)).Cursor()

		var k []byte
		if since.IsZero() {
			k, _ = c.First()
		} else {
			k, _ = c.Seek(tsKey(since, uuid.Nil))
		}
		for ; k != nil && len(out) < limit; k, _ = c.Next() {
			_, id, ok := splitTSKey(k)
			if !ok {
				continue
			}
			raw := byID.Get(id[:])
			if raw == nil {
				continue
			}
			var m StoredMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				// Skip corrupt records rather than failing every query.
				continue
			}
			if match(m) {
				out = append(out, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
	}
	return out, nil
}

// tsKey orders entries by stored-at time, then by id.
func tsKey(ts time.Time, id uuid.UUID) []byte {
	b := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(b[:8], uint64(ts.UnixNano()))
	copy(b[8:], id[:])
	return b
}

func splitTSKey(k []byte) (time.Time, uuid.UUID, bool) {
	var id uuid.UUID
	if len(k) != 8+len(id) {
		return time.Time{}, id, false
	}
	copy(id[:], k[8:])
	return time.Unix(0, int64(binary.BigEndian.Uint64(k[:8]))).UTC(), id, true
}

var _ Repository = (*BoltRepository)(nil)
