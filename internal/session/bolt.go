package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/capitalize-ai/assistant-relay/internal/model"
)

var sessionsBucket = []byte("sessions")

// BoltStore keeps sessions in a bbolt file so they survive restarts.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// Get returns the session stored under key.
func (s *BoltStore) Get(ctx context.Context, key string) (*model.Session, error) {
	var sess *model.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		var decoded model.Session
		if err := json.Unmarshal(v, &decoded); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		sess = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.Expired(s.now()) {
		_ = s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return sess, nil
}

// Put stores sess.
func (s *BoltStore) Put(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(sess.Key), data)
	})
}

// Delete removes key.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(key))
	})
}

// Prune removes expired sessions and returns how many were removed.
func (s *BoltStore) Prune() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess model.Session
			if err := json.Unmarshal(v, &sess); err != nil || sess.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
