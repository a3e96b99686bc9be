package nats

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/internal/session"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

func runJetStream(t *testing.T) *Client {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	opts.JetStreamMaxStore = 16 << 30
	opts.JetStreamMaxMemory = 64 << 20

	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, Config{URL: srv.ClientURL()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestExchangeSubject(t *testing.T) {
	assert.Equal(t, "relay.exchange.chat.success", ExchangeSubject(model.ExchangeChat, model.OutcomeSuccess))
	assert.Equal(t, "relay.exchange.image.error", ExchangeSubject(model.ExchangeImage, model.OutcomeError))
}

func TestSessionKeyIsValidKVKey(t *testing.T) {
	valid := regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

	for _, key := range []string{"alice", "user@example.com", "a b/c.d", "über-session", "550e8400-e29b-41d4-a716-446655440000"} {
		encoded := SessionKey(key)
		assert.Regexp(t, valid, encoded, key)
	}
	assert.NotEqual(t, SessionKey("a.b"), SessionKey("a_b"))
}

func TestSessionKV(t *testing.T) {
	ctx := context.Background()
	store, err := NewSessionKV(ctx, runJetStream(t), time.Hour)
	require.NoError(t, err)

	_, err = store.Get(ctx, "alice:default")
	assert.ErrorIs(t, err, session.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Put(ctx, &model.Session{
		Key:       "alice:default",
		ThreadID:  "thread_1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	sess, err := store.Get(ctx, "alice:default")
	require.NoError(t, err)
	assert.Equal(t, "thread_1", sess.ThreadID)
	assert.True(t, now.Equal(sess.CreatedAt))

	require.NoError(t, store.Put(ctx, &model.Session{
		Key:       "bob:default",
		ThreadID:  "thread_2",
		ExpiresAt: now.Add(-time.Minute),
	}))
	_, err = store.Get(ctx, "bob:default")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "alice:default"))
	_, err = store.Get(ctx, "alice:default")
	assert.ErrorIs(t, err, session.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "never-stored"))
}

func TestExchangeStreamRecent(t *testing.T) {
	ctx := context.Background()
	stream := NewExchangeStream(runJetStream(t), time.Hour)
	require.NoError(t, stream.EnsureStream(ctx))
	require.NoError(t, stream.EnsureStream(ctx))

	exchanges, last, hasMore, err := stream.Recent(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, exchanges)
	assert.Zero(t, last)
	assert.False(t, hasMore)

	for i := 1; i <= 5; i++ {
		ex := &model.Exchange{
			ID:       fmt.Sprintf("ex-%d", i),
			Kind:     model.ExchangeChat,
			UserText: fmt.Sprintf("message %d", i),
			Outcome:  model.OutcomeSuccess,
		}
		require.NoError(t, stream.Record(ctx, ex))
		assert.Equal(t, uint64(i), ex.Sequence)
	}

	t.Run("newest without cursor", func(t *testing.T) {
		exchanges, last, hasMore, err := stream.Recent(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, exchanges, 2)
		assert.Equal(t, uint64(4), exchanges[0].Sequence)
		assert.Equal(t, "message 5", exchanges[1].UserText)
		assert.Equal(t, uint64(5), last)
		assert.False(t, hasMore)
	})

	t.Run("page after cursor", func(t *testing.T) {
		exchanges, last, hasMore, err := stream.Recent(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, exchanges, 2)
		assert.Equal(t, uint64(3), exchanges[0].Sequence)
		assert.Equal(t, uint64(4), exchanges[1].Sequence)
		assert.Equal(t, uint64(4), last)
		assert.True(t, hasMore)
	})

	t.Run("cursor at tail", func(t *testing.T) {
		exchanges, last, hasMore, err := stream.Recent(ctx, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, exchanges)
		assert.Equal(t, uint64(5), last)
		assert.False(t, hasMore)
	})

	t.Run("duplicate id is not recorded twice", func(t *testing.T) {
		ex := &model.Exchange{ID: "ex-5", Kind: model.ExchangeChat, Outcome: model.OutcomeSuccess}
		require.NoError(t, stream.Record(ctx, ex))
		assert.Equal(t, uint64(5), ex.Sequence)
	})
}
