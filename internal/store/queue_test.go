package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-messaging/internal/models"
)

func TestOfflineQueueAppendLoadReplace(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(NewMemoryStore())

	pending, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	first := PendingMessage{MessageID: "m1", Draft: models.Draft{ReceiverID: "u2", Content: "Hi"}, QueuedAt: time.Unix(10, 0).UTC()}
	second := PendingMessage{MessageID: "m2", Draft: models.Draft{ReceiverID: "u2", Content: "there"}, QueuedAt: time.Unix(11, 0).UTC()}
	require.NoError(t, q.Append(ctx, first))
	require.NoError(t, q.Append(ctx, second))
	require.NoError(t, q.Append(ctx, first))

	pending, err = q.Load(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m1", pending[0].MessageID)
	assert.Equal(t, "Hi", pending[0].Draft.Content)
	assert.Equal(t, "m2", pending[1].MessageID)

	require.NoError(t, q.Replace(ctx, nil))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOfflineQueueCorruptBlob(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	require.NoError(t, kv.Set(ctx, OfflineQueueKey, []byte("{not json")))

	_, err := NewOfflineQueue(kv).Load(ctx)
	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "decode", storeErr.Op)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	value := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", value))
	value[0] = 'x'

	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))

	_, ok, err = kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "floppy"}, nil)
	assert.Error(t, err)
}

func TestOpenDefaultsToMemory(t *testing.T) {
	kv, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, kv)
}
