package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutAndGet(t *testing.T) {
	store := NewMemoryStore()

	url, err := store.Put(context.Background(), "checkin/E1/photo.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "memory://checkin/E1/photo.png", url)

	data, ok := store.Get("checkin/E1/photo.png")
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestDiskStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/uploads/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "checkin/E1/photo.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/checkin/E1/photo.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "checkin", "E1", "photo.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestDiskStoreCleansTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/uploads")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "../../etc/passwd", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/etc/passwd", url)

	_, err = os.Stat(filepath.Join(dir, "etc", "passwd"))
	assert.NoError(t, err, "blob must land inside the base directory")
}
