package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUploadAndRemove(t *testing.T) {
	store := NewMemoryStore()

	ref, err := store.Upload(context.Background(), "/chats/c1/audio/a.webm", strings.NewReader("abc"), 3, "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "chats/c1/audio/a.webm", ref.Key)
	assert.Equal(t, "memory://chats/c1/audio/a.webm", ref.URL)
	assert.True(t, store.Has(ref.Key))

	require.NoError(t, store.Remove(context.Background(), ref.Key))
	assert.False(t, store.Has(ref.Key))
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	_, err := NewMemoryStore().Upload(context.Background(), " / ", strings.NewReader("x"), 1, "")
	require.Error(t, err)
}

func TestNewS3StoreValidatesInput(t *testing.T) {
	_, err := NewS3Store("", false, "a", "b", "bucket", "", nil)
	require.Error(t, err)

	_, err = NewS3Store("http://localhost:9000", false, "a", "b", " ", "", nil)
	require.Error(t, err)
}

func TestParseEndpointStripsScheme(t *testing.T) {
	assert.Equal(t, "localhost:9000", parseEndpoint("http://localhost:9000"))
	assert.Equal(t, "minio:9000", parseEndpoint("minio:9000"))
}
