package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/session"
)

// conversation is the thread binding for one exchange.
type conversation struct {
	key      string
	session  *model.Session
	threadID string
	release  func()
}

// openConversation resolves the thread an exchange continues. Under session
// scope the session is locked until the returned conversation is closed, so
// two runs never overlap on one thread.
func (s *RelayService) openConversation(ctx context.Context, key string) (*conversation, error) {
	if s.opts.Scope != ScopeSession {
		return &conversation{}, nil
	}
	if key == "" {
		key = uuid.NewString()
	}

	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	conv := &conversation{key: key, release: release}
	sess, err := s.sessions.Get(ctx, key)
	switch {
	case err == nil:
		conv.session = sess
		conv.threadID = sess.ThreadID
	case errors.Is(err, session.ErrNotFound):
	default:
		release()
		return nil, err
	}
	return conv, nil
}

func (c *conversation) close() {
	if c.release != nil {
		c.release()
	}
}

// commit stores the thread after a successful exchange.
func (s *RelayService) commit(ctx context.Context, conv *conversation, threadID string) {
	if conv.key == "" {
		return
	}

	now := s.now()
	sess := &model.Session{Key: conv.key, ThreadID: threadID, CreatedAt: now}
	if conv.session != nil && conv.session.ThreadID == threadID {
		sess.CreatedAt = conv.session.CreatedAt
		sess.Turns = conv.session.Turns
	}
	sess.UpdatedAt = now
	sess.Turns++
	if s.opts.SessionTTL > 0 {
		sess.ExpiresAt = now.Add(s.opts.SessionTTL)
	}

	if err := s.sessions.Put(ctx, sess); err != nil {
		s.logger.Warn("Failed to store session", zap.String("session", conv.key), zap.Error(err))
	}
}

// forgetStaleThread drops the mapping when the remote thread is gone or
// stuck behind another run, so the next exchange starts fresh.
func (s *RelayService) forgetStaleThread(ctx context.Context, conv *conversation, err error) {
	if conv.threadID == "" {
		return
	}
	var remote *apperr.RemoteCallFailed
	if !errors.As(err, &remote) {
		return
	}
	if !apperr.IsOpenAINotFoundError(remote.Err) && !apperr.IsOpenAIThreadBusyError(remote.Err) {
		return
	}

	s.logger.Info("Forgetting stale thread",
		zap.String("session", conv.key),
		zap.String("thread_id", conv.threadID),
		zap.String("step", remote.Step),
	)
	if err := s.sessions.Delete(ctx, conv.key); err != nil {
		s.logger.Warn("Failed to delete session", zap.String("session", conv.key), zap.Error(err))
	}
}

// Session returns the thread mapping stored for key.
func (s *RelayService) Session(ctx context.Context, key string) (*model.Session, error) {
	sess, err := s.sessions.Get(ctx, key)
	if errors.Is(err, session.ErrNotFound) {
		return nil, &apperr.NotFound{What: "session"}
	}
	return sess, err
}

// ResetSession forgets the thread mapped to key. The next exchange on the
// key starts a new thread.
func (s *RelayService) ResetSession(ctx context.Context, key string) error {
	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	if err := s.sessions.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info("Session reset", zap.String("session", key))
	return nil
}
