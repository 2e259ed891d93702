package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorvnbridge/types"
)

// setupTestStore connects to TEST_DATABASE_URL and truncates the bridge tables.
// Tests are skipped when no database is configured.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	ctx := context.Background()
	store, err := Open(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.pool.Exec(ctx, "TRUNCATE TABLE users, processed_txs, payout_attempts")
	require.NoError(t, err)

	return store
}

func TestStore_MarkProcessedOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, processed)

	inserted, err := store.MarkProcessed(ctx, &types.ProcessedRecord{TxID: "abc", Outcome: types.OutcomePaid, DestTxHash: "0x1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.MarkProcessed(ctx, &types.ProcessedRecord{TxID: "abc", Outcome: types.OutcomeBelowMinimum})
	require.NoError(t, err)
	assert.False(t, inserted)

	rec, err := store.GetProcessed(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.OutcomePaid, rec.Outcome)

	rec, err = store.GetProcessed(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_Bindings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &types.AddressBinding{SourceAddress: "RSender", DestinationAddress: "0x00000000000000000000000000000000000000a1"}
	require.NoError(t, store.UpsertBinding(ctx, first))

	second := &types.AddressBinding{SourceAddress: "RSender", DestinationAddress: "0x00000000000000000000000000000000000000b2"}
	require.NoError(t, store.UpsertBinding(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	rec, err := store.GetBinding(ctx, "RSender")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, second.DestinationAddress, rec.DestinationAddress)

	rec, err = store.GetBinding(ctx, "RUnknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_Attempts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAttempt(ctx, &types.PayoutAttempt{DepositTxID: "abc", TxHash: "0x1", RawTx: "0xf8", Nonce: 3}))
	require.NoError(t, store.SaveAttempt(ctx, &types.PayoutAttempt{DepositTxID: "abc", TxHash: "0x2", RawTx: "0xf9", Nonce: 4}))

	attempt, err := store.GetAttempt(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, "0x2", attempt.TxHash)
	assert.Equal(t, uint64(4), attempt.Nonce)

	require.NoError(t, store.DeleteAttempt(ctx, "abc"))
	attempt, err = store.GetAttempt(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, attempt)
}
