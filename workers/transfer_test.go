package workers

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorvnbridge/config"
	"gorvnbridge/types"
)

func TestExecutor_NotConfigured(t *testing.T) {
	store, _ := newTestStore(t)
	chain := newFakeChain()

	executor, err := NewExecutor(chain, store, ExecutorConfig{GasPrice: big.NewInt(1)}, discardLogger(), nil)
	require.NoError(t, err)
	assert.False(t, executor.Configured())

	_, err = executor.Transfer(context.Background(), "abc", destination, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotConfigured)
	assert.Equal(t, types.NotConfigured, types.TransferErrorKindOf(err))
	assert.Empty(t, chain.Sent())
}

func TestNewExecutor_KeyMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	key, _ := newTestKey(t)

	_, err := NewExecutor(newFakeChain(), store, ExecutorConfig{
		From:     "0x00000000000000000000000000000000000000a1",
		Key:      key,
		ChainID:  big.NewInt(1),
		GasPrice: big.NewInt(1),
	}, discardLogger(), nil)
	assert.Error(t, err)
}

func TestExecutor_Transfer(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	chain := newFakeChain()
	chain.pendingNonce = 7
	executor, from := newTestExecutor(t, chain, store)

	receipt, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, receipt.Recovered)
	assert.Equal(t, uint64(7), receipt.Nonce)
	assert.Equal(t, destination, receipt.To)

	sent := chain.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, receipt.TransactionHash, tx.Hash().Hex())
	assert.Equal(t, "100000000000000000000", tx.Value().String())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, int64(20_000_000_000), tx.GasPrice().Int64())
	assert.Equal(t, common.HexToAddress(destination), *tx.To())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)

	attempt, err := store.GetAttempt(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, tx.Hash().Hex(), attempt.TxHash)
	assert.Equal(t, uint64(7), attempt.Nonce)
	assert.InDelta(t, time.Now().Unix(), attempt.TsCreated, 60)
}

func TestExecutor_RejectsBadInput(t *testing.T) {
	store, _ := newTestStore(t)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)

	_, err := executor.Transfer(context.Background(), "abc", "not-an-address", decimal.NewFromInt(1))
	assert.Equal(t, types.Rejected, types.TransferErrorKindOf(err))

	_, err = executor.Transfer(context.Background(), "abc", destination, decimal.RequireFromString("0.0000000000000000001"))
	assert.Equal(t, types.Rejected, types.TransferErrorKindOf(err))

	assert.Empty(t, chain.Sent())
}

func TestExecutor_ConcurrentTransfersGetDistinctNonces(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := executor.Transfer(ctx, uuid.NewString(), destination, decimal.NewFromInt(int64(i+1)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sent := chain.Sent()
	require.Len(t, sent, n)
	nonces := make([]uint64, 0, n)
	for i, tx := range sent {
		// broadcast order follows nonce order
		assert.Equal(t, uint64(i), tx.Nonce())
		nonces = append(nonces, tx.Nonce())
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i := 1; i < len(nonces); i++ {
		assert.NotEqual(t, nonces[i-1], nonces[i])
	}
}

func TestExecutor_TimeoutAfterLanding_NoSecondPayout(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)

	chain.sendHook = func(tx *ethtypes.Transaction) (bool, error) {
		return true, context.DeadlineExceeded
	}
	_, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Equal(t, types.NetworkError, types.TransferErrorKindOf(err))

	chain.sendHook = nil
	receipt, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, receipt.Recovered)

	sent := chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Hash().Hex(), receipt.TransactionHash)
}

func TestExecutor_TimeoutBeforeLanding_RebroadcastsSameTransaction(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)

	chain.sendHook = func(tx *ethtypes.Transaction) (bool, error) {
		return false, context.DeadlineExceeded
	}
	_, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Empty(t, chain.Sent())

	journaled, err := store.GetAttempt(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, journaled)

	chain.sendHook = nil
	receipt, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, receipt.Recovered)
	assert.Equal(t, journaled.TxHash, receipt.TransactionHash)
	assert.Len(t, chain.Sent(), 1)
}

func TestExecutor_SupersededJournalEntrySignsFresh(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)

	// the first payout never reaches the chain
	chain.sendHook = func(tx *ethtypes.Transaction) (bool, error) {
		return false, errors.New("connection reset by peer")
	}
	_, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(1))
	require.Error(t, err)
	chain.sendHook = nil

	// another payout takes its nonce
	other, err := executor.Transfer(ctx, "def", destination, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), other.Nonce)

	_, err = executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, types.Rejected, types.TransferErrorKindOf(err))

	attempt, err := store.GetAttempt(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, attempt)

	receipt, err := executor.Transfer(ctx, "abc", destination, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, receipt.Recovered)
	assert.Equal(t, uint64(1), receipt.Nonce)
	assert.Len(t, chain.Sent(), 2)
}

func TestExecutor_InsufficientFunds(t *testing.T) {
	store, _ := newTestStore(t)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)
	chain.sendHook = func(tx *ethtypes.Transaction) (bool, error) {
		return false, errors.New("insufficient funds for gas * price + value")
	}

	_, err := executor.Transfer(context.Background(), "abc", destination, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Equal(t, types.InsufficientFunds, types.TransferErrorKindOf(err))
}

func TestLoadSigningKey(t *testing.T) {
	key, from := newTestKey(t)

	var cfg config.Configuration
	loaded, err := LoadSigningKey(&cfg)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	cfg.Bridge.PrivateKey = "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	loaded, err = LoadSigningKey(&cfg)
	require.NoError(t, err)
	assert.Equal(t, from, crypto.PubkeyToAddress(loaded.PublicKey))

	data, err := keystore.EncryptKey(&keystore.Key{Id: uuid.New(), Address: from, PrivateKey: key}, "secret", keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg.Bridge.PrivateKey = ""
	cfg.Bridge.KeystorePath = path
	cfg.Bridge.KeystorePassword = "secret"
	loaded, err = LoadSigningKey(&cfg)
	require.NoError(t, err)
	assert.Equal(t, from, crypto.PubkeyToAddress(loaded.PublicKey))

	cfg.Bridge.KeystorePassword = "wrong"
	_, err = LoadSigningKey(&cfg)
	assert.Error(t, err)
}
