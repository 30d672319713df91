package digest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	assert.Equal(t, Of("abc"), Of("  abc\n\n"))
	assert.NotEqual(t, Of("abc"), Of("abd"))
	assert.Len(t, Of(""), 64)
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no digest")

	require.NoError(t, s.Save(ctx, Of("first")))
	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Of("first"), got)

	require.NoError(t, s.Save(ctx, Of("second")))
	got, _, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Of("second"), got)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.json")
	testStore(t, NewFileStore(path))

	// Survives a restart.
	got, ok, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Of("second"), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestBadgerStore_InMemory(t *testing.T) {
	s, err := OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	testStore(t, s)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Of("kept")))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Of("kept"), got)
}
