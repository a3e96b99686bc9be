package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/session"
)

// SessionBucket is the key-value bucket holding session mappings.
const SessionBucket = "relay_sessions"

// SessionKV stores session mappings in a JetStream key-value bucket shared
// by every relay instance.
type SessionKV struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// NewSessionKV opens the session bucket, creating it with ttl when missing.
func NewSessionKV(ctx context.Context, client *Client, ttl time.Duration) (*SessionKV, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, SessionBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      SessionBucket,
			Description: "Relay session to thread mappings",
			TTL:         ttl,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session bucket: %w", err)
	}

	return &SessionKV{kv: kv, now: time.Now}, nil
}

// SessionKey encodes a caller supplied key into the bucket's key alphabet.
func SessionKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Get returns the session stored under key.
func (s *SessionKV) Get(ctx context.Context, key string) (*model.Session, error) {
	entry, err := s.kv.Get(ctx, SessionKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		return nil, session.ErrNotFound
	}
	return &sess, nil
}

// Put stores sess.
func (s *SessionKV) Put(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if _, err := s.kv.Put(ctx, SessionKey(sess.Key), data); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SessionKV) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, SessionKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the Client.
func (s *SessionKV) Close() error {
	return nil
}
