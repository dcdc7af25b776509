package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fanvault/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStaging(t *testing.T) *StagingStore {
	t.Helper()
	s, err := NewStagingStore(t.TempDir(), "/api/admin/staging/")
	require.NoError(t, err)
	return s
}

func TestStagingStore_WriteReadDelete(t *testing.T) {
	s := newTestStaging(t)

	rel, err := s.Write("anime", "1700000000000-abc-cat.png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "anime/1700000000000-abc-cat.png", rel)
	assert.True(t, s.Exists(rel))

	info, err := os.Stat(filepath.Join(s.Root(), "anime", "1700000000000-abc-cat.png"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := s.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(s.Root(), "anime"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.Delete(rel))
	assert.False(t, s.Exists(rel))
	require.NoError(t, s.Delete(rel), "deleting an absent file is not an error")

	_, err = s.Read(rel)
	assert.True(t, errors.Is(err, ErrStagedFileMissing))
}

func TestStagingStore_ResolveRejectsTraversal(t *testing.T) {
	s := newTestStaging(t)

	for _, rel := range []string{"", "/etc/passwd", "../x", "anime/../../x", ".."} {
		_, err := s.Resolve(rel)
		assert.ErrorIs(t, err, ErrInvalidStagedPath, rel)
	}

	abs, err := s.Resolve("fanart/a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "fanart", "a.png"), abs)
}

func TestStagingStore_PreviewURL(t *testing.T) {
	s := newTestStaging(t)
	assert.Equal(t, "/api/admin/staging/official/x.jpg", s.PreviewURL("official/x.jpg"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cat.png", "cat.png"},
		{"my cute cat!!.png", "my_cute_cat_.png"},
		{"../../etc/passwd", "passwd"},
		{"日本語.jpg", "jpg"},
		{"", "upload"},
		{"???", "upload"},
		{"C:\\Users\\me\\pic.jpeg", "pic.jpeg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}

	long := strings.Repeat("a", 250) + ".png"
	assert.Len(t, []rune(SanitizeFilename(long)), 100)
}

func TestStagedName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "1700000000123-tok-cat.png", StagedName(now, "tok", "cat.png"))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("https://cdn.test")

	url, err := m.Put(ctx, "anime/a.png", "image/png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/anime/a.png", url)
	assert.Equal(t, []string{"anime/a.png"}, m.Keys())

	require.NoError(t, m.Delete(ctx, "anime/a.png"))
	require.NoError(t, m.Delete(ctx, "anime/a.png"))
	assert.Empty(t, m.Keys())

	boom := errors.New("boom")
	m.FailPuts(boom)
	_, err = m.Put(ctx, "k", "image/png", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, m.PutCalls())
}

func TestFileSystemStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fsStore, err := NewFileSystemStore(root, "/media")
	require.NoError(t, err)

	url, err := fsStore.Put(ctx, "wallpaper/w.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "/media/wallpaper/w.jpg", url)

	data, err := os.ReadFile(filepath.Join(root, "wallpaper", "w.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	// Keys cannot climb out of the root.
	_, err = fsStore.Put(ctx, "../../escape.jpg", "image/jpeg", []byte("x"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "escape.jpg"))
	assert.NoError(t, err)

	require.NoError(t, fsStore.Delete(ctx, "wallpaper/w.jpg"))
	require.NoError(t, fsStore.Delete(ctx, "wallpaper/w.jpg"))
}

func TestNewObjectStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	store, err := NewObjectStoreFromConfig(ctx, &config.Config{ObjectStoreDriver: "memory", MediaURLPrefix: "/media"})
	require.NoError(t, err)
	assert.True(t, store.IsConfigured())

	store, err = NewObjectStoreFromConfig(ctx, &config.Config{ObjectStoreDriver: "filesystem", MediaDir: t.TempDir(), MediaURLPrefix: "/media"})
	require.NoError(t, err)
	assert.IsType(t, &FileSystemStore{}, store)

	store, err = NewObjectStoreFromConfig(ctx, &config.Config{ObjectStoreDriver: "s3"})
	require.NoError(t, err)
	assert.False(t, store.IsConfigured())
	_, err = store.Put(ctx, "k", "image/png", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewObjectStoreFromConfig(ctx, &config.Config{ObjectStoreDriver: "gcs"})
	assert.Error(t, err)
}
