package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendHelloAndSnapshot(t *testing.T) {
	b := NewMemoryBackend(time.Second)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Hello(ctx, "user-1", []string{"key-a", "key-b"}, "key-a", time.Minute))

	statuses, err := b.Snapshot(ctx, "key-a")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "user-1", statuses[0].UserID)
	assert.Equal(t, "key-a", statuses[0].ActiveSigningPubkey)

	statuses, err = b.Snapshot(ctx, "key-b")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "user-1", statuses[0].UserID)
}

func TestMemoryBackendActiveWithoutPriorHelloStillWrites(t *testing.T) {
	b := NewMemoryBackend(time.Second)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Active(ctx, "user-ghost", "key-a", time.Minute))

	// Active alone doesn't add to the reverse index, so no snapshot sees it.
	statuses, err := b.Snapshot(ctx, "key-a")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestMemoryBackendDisconnectRemovesFromIndex(t *testing.T) {
	b := NewMemoryBackend(time.Second)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Hello(ctx, "user-1", []string{"key-a"}, "key-a", time.Minute))
	require.NoError(t, b.Disconnect(ctx, "user-1", []string{"key-a"}))

	statuses, err := b.Snapshot(ctx, "key-a")
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestMemoryBackendRefreshBatch(t *testing.T) {
	b := NewMemoryBackend(time.Second)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Refresh(ctx, nil, time.Minute))

	users := []RefreshUser{
		{UserID: "user-1", SigningPubkeys: []string{"key-a"}, Active: "key-a"},
		{UserID: "user-2", SigningPubkeys: []string{"key-a"}, Active: ""},
	}
	require.NoError(t, b.Refresh(ctx, users, time.Minute))

	statuses, err := b.Snapshot(ctx, "key-a")
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}

func TestMemoryBackendSweepEvictsExpiredAndRepairsIndex(t *testing.T) {
	b := NewMemoryBackend(time.Second)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Hello(ctx, "user-1", []string{"key-a"}, "key-a", 200*time.Millisecond))

	time.Sleep(1700 * time.Millisecond)

	b.mu.Lock()
	_, stillPresent := b.users["user-1"]
	_, indexStillPresent := b.byKey["key-a"]
	b.mu.Unlock()
	assert.False(t, stillPresent)
	assert.False(t, indexStillPresent)
}

func TestMemoryBackendSnapshotRepairsStaleMemberOnRead(t *testing.T) {
	b := NewMemoryBackend(time.Hour) // sweeper won't fire during the test
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Hello(ctx, "user-1", []string{"key-a"}, "key-a", 50*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	statuses, err := b.Snapshot(ctx, "key-a")
	require.NoError(t, err)
	assert.Empty(t, statuses)

	b.mu.Lock()
	_, indexStillPresent := b.byKey["key-a"]
	b.mu.Unlock()
	assert.False(t, indexStillPresent)
}

func TestMemoryBackendHelloReplacesPriorKeyMembership(t *testing.T) {
	b := NewMemoryBackend(time.Second)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Hello(ctx, "user-1", []string{"key-a"}, "key-a", time.Minute))
	require.NoError(t, b.Hello(ctx, "user-1", []string{"key-b"}, "key-b", time.Minute))

	statuses, err := b.Snapshot(ctx, "key-a")
	require.NoError(t, err)
	assert.Empty(t, statuses)

	statuses, err = b.Snapshot(ctx, "key-b")
	require.NoError(t, err)
	assert.Len(t, statuses, 1)
}
