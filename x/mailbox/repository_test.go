package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/affinidi/didcomm-mediator/core"
)

// newTestRepository wires the real repository against miniredis, since the
// insert/delete semantics that matter here — the Lua scripts in scripts.go —
// have no equivalent in the hand-rolled fakeMailboxRepository the service
// tests run against.
func newTestRepository(t *testing.T) (Repository, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRepository(rdb), rdb
}

func TestDeleteRemovesEnvelopeHashOnlyOnceBothQueuesRelease(t *testing.T) {
	repo, rdb := newTestRepository(t)
	ctx := context.Background()

	msg := core.Message{
		ContentHash:   "hash-1",
		SenderHash:    "sender-hash",
		RecipientHash: "recipient-hash",
		Envelope:      []byte("envelope-bytes"),
		Size:          64,
		ReceivedAt:    time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	}

	outcome, err := repo.Put(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, core.PutResultStored, outcome.Status)

	vals, err := rdb.HGetAll(ctx, msgKey(msg.ContentHash)).Result()
	require.NoError(t, err)
	require.NotEmpty(t, vals, "envelope hash should exist after Put")

	// Deleting from only the sender's send-queue must not remove the
	// envelope hash: the recipient's receive-queue still references it.
	removed, err := repo.Delete(ctx, msg.SenderHash, QueueSend, msg.ContentHash)
	require.NoError(t, err)
	require.True(t, removed)

	vals, err = rdb.HGetAll(ctx, msgKey(msg.ContentHash)).Result()
	require.NoError(t, err)
	require.NotEmpty(t, vals, "envelope hash must survive while the receive-queue still references it")

	// Deleting from the receive-queue too releases the last reference, and
	// the shared envelope hash must be gone.
	removed, err = repo.Delete(ctx, msg.RecipientHash, QueueReceive, msg.ContentHash)
	require.NoError(t, err)
	require.True(t, removed)

	vals, err = rdb.HGetAll(ctx, msgKey(msg.ContentHash)).Result()
	require.NoError(t, err)
	require.Empty(t, vals, "envelope hash must be deleted once neither queue references it")
}

func TestSweepExpiredReleasesEnvelopeHashAcrossBothQueueEntries(t *testing.T) {
	repo, rdb := newTestRepository(t)
	ctx := context.Background()

	msg := core.Message{
		ContentHash:   "hash-2",
		SenderHash:    "sender-hash",
		RecipientHash: "recipient-hash",
		Envelope:      []byte("envelope-bytes"),
		Size:          32,
		ReceivedAt:    time.Now(),
		ExpiresAt:     time.Now().Add(-time.Minute),
	}

	_, err := repo.Put(ctx, msg)
	require.NoError(t, err)

	entries, err := repo.ExpireBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "expiry index carries one entry per queue")

	for _, entry := range entries {
		_, err := repo.Delete(ctx, entry.DIDHash, entry.Queue, entry.ContentHash)
		require.NoError(t, err)
	}

	vals, err := rdb.HGetAll(ctx, msgKey(msg.ContentHash)).Result()
	require.NoError(t, err)
	require.Empty(t, vals, "sweeping both queue entries must delete the shared envelope hash")
}
