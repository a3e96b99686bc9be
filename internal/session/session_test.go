package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-relay/internal/model"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := OpenBoltStore(filepath.Join(t.TempDir(), "nested", "sessions.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "alice")
			assert.ErrorIs(t, err, ErrNotFound)

			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, store.Put(ctx, &model.Session{
				Key:       "alice",
				ThreadID:  "thread_1",
				CreatedAt: now,
				UpdatedAt: now,
				ExpiresAt: now.Add(time.Hour),
				Turns:     1,
			}))

			sess, err := store.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "thread_1", sess.ThreadID)
			assert.Equal(t, 1, sess.Turns)
			assert.True(t, sess.CreatedAt.Equal(now))

			require.NoError(t, store.Delete(ctx, "alice"))
			require.NoError(t, store.Delete(ctx, "alice"))
			_, err = store.Get(ctx, "alice")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, &model.Session{
				Key:       "bob",
				ThreadID:  "thread_2",
				ExpiresAt: time.Now().Add(-time.Minute),
			}))

			_, err := store.Get(ctx, "bob")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStorePrunesUnreadSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	for _, key := range []string{"erin", "frank", "grace"} {
		require.NoError(t, store.Put(ctx, &model.Session{
			Key:       key,
			ThreadID:  "thread_" + key,
			ExpiresAt: now.Add(30 * time.Second),
		}))
	}
	assert.Equal(t, 3, store.Len())

	// Expired but inside the sweep interval: nothing is dropped yet.
	now = now.Add(45 * time.Second)
	require.NoError(t, store.Put(ctx, &model.Session{Key: "heidi", ThreadID: "thread_heidi", ExpiresAt: now.Add(time.Hour)}))
	assert.Equal(t, 4, store.Len())

	now = now.Add(pruneInterval)
	require.NoError(t, store.Put(ctx, &model.Session{Key: "ivan", ThreadID: "thread_ivan", ExpiresAt: now.Add(time.Hour)}))
	assert.Equal(t, 2, store.Len())

	sess, err := store.Get(ctx, "heidi")
	require.NoError(t, err)
	assert.Equal(t, "thread_heidi", sess.ThreadID)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 2, store.Prune())
	assert.Zero(t, store.Len())
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.bolt")

	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &model.Session{Key: "carol", ThreadID: "thread_3"}))
	require.NoError(t, store.Put(ctx, &model.Session{Key: "dave", ThreadID: "thread_4", ExpiresAt: time.Now().Add(-time.Second)}))
	require.NoError(t, store.Close())

	store, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	sess, err := store.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "thread_3", sess.ThreadID)

	removed, err := store.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestLocksSerializePerKey(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, "same")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Zero(t, locks.Len())
}

func TestLocksIndependentKeys(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	releaseA, err := locks.Acquire(ctx, "a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locks.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocksAcquireHonorsContext(t *testing.T) {
	locks := NewLocks()

	release, err := locks.Acquire(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Zero(t, locks.Len())
}
