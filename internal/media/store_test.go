package media

import (
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestStoreSaveOpenRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save([]byte("payload"), ".png")
	require.NoError(t, err)
	assert.Regexp(t, `^\d+-[0-9a-f]{8}\.png$`, name)

	f, info, err := store.Open(name)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int64(7), info.Size())

	require.NoError(t, store.Remove(name))
	require.NoError(t, store.Remove(name))

	_, _, err = store.Open(name)
	var notFound *apperr.NotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestStoreSaveUniqueNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	fixed := time.Unix(1700000000, 0)
	store.now = func() time.Time { return fixed }

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		name, err := store.Save([]byte{byte(i)}, ".jpg")
		require.NoError(t, err)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
}

func TestStoreOpenRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret"), []byte("x"), 0o600))
	store, err := NewStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	for _, name := range []string{"", "../secret", "..", ".", "a/b.png", `..\secret`, ".upload-123"} {
		_, _, err := store.Open(name)
		var notFound *apperr.NotFound
		assert.ErrorAs(t, err, &notFound, name)
	}
}

func TestStoreSweep(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	oldName, err := store.Save([]byte("old"), ".png")
	require.NoError(t, err)
	freshName, err := store.Save([]byte("fresh"), ".png")
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), oldName), past, past))

	removed, err := store.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(store.Dir(), oldName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(store.Dir(), freshName))
	assert.NoError(t, err)
}

func TestSweeperRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	name, err := store.Save([]byte("old"), ".png")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), name), past, past))

	sweeper, err := NewSweeper(store, "@every 1h", 24*time.Hour, logger.NewNop())
	require.NoError(t, err)
	sweeper.Run()

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewSweeper(store, "every so often", time.Hour, logger.NewNop())
	assert.Error(t, err)
}
