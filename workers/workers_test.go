package workers

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"gorvnbridge/redis"
)

const (
	bridgeAddr  = "RBridgeCustodialAddress"
	destination = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redis.NewStore(redis.NewPool("redis://" + mr.Addr()))
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func newTestQueue(t *testing.T, mr *miniredis.Miniredis, maxAttempts int) *redis.Queue {
	t.Helper()
	pool := redis.NewPool("redis://" + mr.Addr())
	t.Cleanup(func() { pool.Close() })
	return redis.NewQueue(pool, "payouts", redis.QueueOptions{
		MaxAttempts: maxAttempts,
		Backoff:     10 * time.Second,
		MaxBackoff:  time.Minute,
	})
}

// fakeChain is an in-memory EVM node: it tracks the pending nonce of the
// sender and refuses reused nonces the way a real mempool does.
type fakeChain struct {
	mu           sync.Mutex
	pendingNonce uint64
	txs          map[common.Hash]*ethtypes.Transaction
	sent         []*ethtypes.Transaction
	// sendHook can fail a send, land reports whether the tx reached the chain anyway
	sendHook func(tx *ethtypes.Transaction) (land bool, err error)
}

func newFakeChain() *fakeChain {
	return &fakeChain{txs: make(map[common.Hash]*ethtypes.Transaction)}
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingNonce, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.txs[tx.Hash()]; ok {
		return errAlreadyKnown
	}
	if tx.Nonce() < c.pendingNonce {
		return errNonceTooLow
	}
	if c.sendHook != nil {
		if land, err := c.sendHook(tx); err != nil {
			if land {
				c.accept(tx)
			}
			return err
		}
	}
	c.accept(tx)
	return nil
}

func (c *fakeChain) accept(tx *ethtypes.Transaction) {
	c.txs[tx.Hash()] = tx
	c.sent = append(c.sent, tx)
	if tx.Nonce()+1 > c.pendingNonce {
		c.pendingNonce = tx.Nonce() + 1
	}
}

func (c *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (c *fakeChain) Sent() []*ethtypes.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent := make([]*ethtypes.Transaction, len(c.sent))
	copy(sent, c.sent)
	return sent
}

type chainError string

func (e chainError) Error() string { return string(e) }

const (
	errAlreadyKnown = chainError("already known")
	errNonceTooLow  = chainError("nonce too low")
)

func newTestKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func newTestExecutor(t *testing.T, chain DestinationChain, journal Journal) (*Executor, common.Address) {
	t.Helper()
	key, from := newTestKey(t)
	executor, err := NewExecutor(chain, journal, ExecutorConfig{
		From:     from.Hex(),
		Key:      key,
		ChainID:  big.NewInt(1),
		GasLimit: 21000,
		GasPrice: big.NewInt(20_000_000_000),
		Timeout:  time.Second,
	}, discardLogger(), nil)
	require.NoError(t, err)
	return executor, from
}
