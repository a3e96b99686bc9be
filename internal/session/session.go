// Package session maps caller session keys onto assistant threads.
package session

import (
	"context"
	"errors"

	"github.com/capitalize-ai/assistant-relay/internal/model"
)

// ErrNotFound is returned when no live mapping exists for a key.
var ErrNotFound = errors.New("session not found")

// Store persists session to thread mappings. Expired sessions are reported
// as ErrNotFound.
type Store interface {
	Get(ctx context.Context, key string) (*model.Session, error)
	Put(ctx context.Context, sess *model.Session) error
	Delete(ctx context.Context, key string) error
	Close() error
}
