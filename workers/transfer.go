package workers

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"gorvnbridge/EVMRPC"
	"gorvnbridge/config"
	"gorvnbridge/metrics"
	"gorvnbridge/types"
)

// DestinationChain is what the executor needs from an EVM node.
type DestinationChain interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
}

var _ DestinationChain = (*EVMRPC.Client)(nil)

type ExecutorConfig struct {
	From     string
	Key      *ecdsa.PrivateKey
	ChainID  *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Timeout  time.Duration
}

// Executor signs and broadcasts plain value transfers from the custodial account.
type Executor struct {
	client   DestinationChain
	journal  Journal
	from     common.Address
	key      *ecdsa.PrivateKey
	signer   ethtypes.Signer
	gasLimit uint64
	gasPrice *big.Int
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// held from nonce read to submit
	mu        sync.Mutex
	nextNonce uint64
}

// NewExecutor builds an executor. Without a key or a from address it is
// created unconfigured and refuses every transfer.
func NewExecutor(client DestinationChain, journal Journal, cfg ExecutorConfig, logger *slog.Logger, m *metrics.Metrics) (*Executor, error) {
	e := &Executor{
		client:   client,
		journal:  journal,
		key:      cfg.Key,
		gasLimit: cfg.GasLimit,
		gasPrice: cfg.GasPrice,
		timeout:  cfg.Timeout,
		logger:   logger.With(slog.String("component", "executor")),
		metrics:  m,
	}
	if cfg.From != "" {
		if !common.IsHexAddress(cfg.From) {
			return nil, fmt.Errorf("invalid bridge address %q", cfg.From)
		}
		e.from = common.HexToAddress(cfg.From)
	}
	if e.gasLimit == 0 {
		e.gasLimit = config.DEFAULT_GAS_LIMIT
	}
	if e.gasPrice == nil || e.gasPrice.Sign() <= 0 {
		return nil, errors.New("gas price must be positive")
	}
	if e.timeout <= 0 {
		e.timeout = 20 * time.Second
	}

	if e.key != nil {
		if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
			return nil, errors.New("chain id is required to sign payouts")
		}
		if derived := crypto.PubkeyToAddress(e.key.PublicKey); e.from != (common.Address{}) && derived != e.from {
			return nil, fmt.Errorf("private key belongs to %s, not to bridge address %s", derived.Hex(), e.from.Hex())
		}
		e.signer = ethtypes.LatestSignerForChainID(cfg.ChainID)
	}
	return e, nil
}

func (e *Executor) Configured() bool {
	return e.key != nil && e.from != (common.Address{})
}

func (e *Executor) From() common.Address {
	return e.from
}

// Transfer pays amount ETH to to. depositTxID keys the broadcast journal so a
// retried call finds the transaction signed by an earlier one instead of
// paying again.
func (e *Executor) Transfer(ctx context.Context, depositTxID, to string, amount decimal.Decimal) (*types.TransferReceipt, error) {
	if !e.Configured() {
		e.logger.Error("refusing payout, bridge address or private key not configured", "txid", depositTxID)
		return nil, types.NewTransferError(types.NotConfigured, types.ErrNotConfigured)
	}
	if !common.IsHexAddress(to) {
		return nil, types.NewTransferError(types.Rejected, fmt.Errorf("invalid destination address %q", to))
	}
	wei := types.ToWei(amount)
	if !wei.IsPositive() {
		return nil, types.NewTransferError(types.Rejected, fmt.Errorf("amount %s is below one wei", amount))
	}

	start := time.Now()

	attempt, err := e.getAttempt(ctx, depositTxID)
	if err != nil {
		return nil, types.NewTransferError(types.NetworkError, fmt.Errorf("cannot read broadcast journal: %w", err))
	}

	var receipt *types.TransferReceipt
	if attempt != nil {
		receipt, err = e.resume(ctx, attempt)
	} else {
		receipt, err = e.send(ctx, depositTxID, common.HexToAddress(to), wei.BigInt())
	}
	if err != nil {
		return nil, err
	}

	e.metrics.RecordBroadcast(time.Since(start).Seconds(), receipt.Recovered)
	return receipt, nil
}

func (e *Executor) send(ctx context.Context, depositTxID string, to common.Address, value *big.Int) (*types.TransferReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.nonce(ctx)
	if err != nil {
		return nil, types.NewTransferError(types.NetworkError, fmt.Errorf("cannot get pending nonce: %w", err))
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      e.gasLimit,
		GasPrice: e.gasPrice,
	})
	signed, err := ethtypes.SignTx(tx, e.signer, e.key)
	if err != nil {
		return nil, types.NewTransferError(types.SigningError, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, types.NewTransferError(types.SigningError, err)
	}

	// journaled before it leaves the process, a timeout below can still mean it landed
	attempt := &types.PayoutAttempt{
		DepositTxID: depositTxID,
		TxHash:      signed.Hash().Hex(),
		RawTx:       hexutil.Encode(raw),
		Nonce:       nonce,
		TsCreated:   time.Now().Unix(),
	}
	if err := e.saveAttempt(ctx, attempt); err != nil {
		return nil, types.NewTransferError(types.NetworkError, fmt.Errorf("cannot journal payout: %w", err))
	}

	e.logger.Info("broadcasting payout", "txid", depositTxID, "hash", attempt.TxHash, "nonce", nonce, "to", to.Hex(), "wei", value.String())

	if err := e.broadcast(ctx, signed); err != nil {
		if EVMRPC.IsNonceTooLow(err) {
			// a fresh hash at a used nonce can never be mined
			e.dropAttempt(ctx, depositTxID)
		}
		return nil, types.NewTransferError(EVMRPC.Classify(err), fmt.Errorf("broadcast %s: %w", attempt.TxHash, err))
	}

	e.nextNonce = nonce + 1
	return receiptFor(signed, false), nil
}

// resume settles a journaled transaction: found on chain it is the payout,
// otherwise the same signed bytes are sent again.
func (e *Executor) resume(ctx context.Context, attempt *types.PayoutAttempt) (*types.TransferReceipt, error) {
	hash := common.HexToHash(attempt.TxHash)
	log := e.logger.With("txid", attempt.DepositTxID, "hash", attempt.TxHash, "nonce", attempt.Nonce)

	found, err := e.lookup(ctx, hash)
	if err != nil {
		return nil, types.NewTransferError(types.NetworkError, fmt.Errorf("cannot look up journaled payout %s: %w", attempt.TxHash, err))
	}

	var tx ethtypes.Transaction
	raw, err := hexutil.Decode(attempt.RawTx)
	if err == nil {
		err = tx.UnmarshalBinary(raw)
	}
	if err != nil {
		if found != nil {
			return receiptFor(found, true), nil
		}
		return nil, types.NewTransferError(types.SigningError, fmt.Errorf("corrupt journal entry for %s: %w", attempt.DepositTxID, err))
	}

	if found != nil {
		log.Info("journaled payout already on chain")
		e.advanceNonce(attempt.Nonce)
		return receiptFor(&tx, true), nil
	}

	log.Warn("journaled payout not found on chain, broadcasting it again")
	if err := e.broadcast(ctx, &tx); err != nil {
		if !EVMRPC.IsNonceTooLow(err) {
			return nil, types.NewTransferError(EVMRPC.Classify(err), fmt.Errorf("rebroadcast %s: %w", attempt.TxHash, err))
		}

		// the nonce is used, either by this transaction just now or by another one
		found, lerr := e.lookup(ctx, hash)
		if lerr != nil {
			return nil, types.NewTransferError(types.NetworkError, fmt.Errorf("cannot look up journaled payout %s: %w", attempt.TxHash, lerr))
		}
		if found != nil {
			e.advanceNonce(attempt.Nonce)
			return receiptFor(&tx, true), nil
		}

		log.Warn("journaled payout superseded, next attempt signs a new transaction")
		e.dropAttempt(ctx, attempt.DepositTxID)
		return nil, types.NewTransferError(types.Rejected, fmt.Errorf("journaled payout %s superseded at nonce %d: %w", attempt.TxHash, attempt.Nonce, err))
	}

	e.advanceNonce(attempt.Nonce)
	return receiptFor(&tx, true), nil
}

// nonce must be called with mu held.
func (e *Executor) nonce(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	pending, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return 0, err
	}
	// a node behind our own broadcasts must not hand out a nonce twice
	if pending > e.nextNonce {
		e.nextNonce = pending
	}
	return e.nextNonce, nil
}

func (e *Executor) advanceNonce(used uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if used+1 > e.nextNonce {
		e.nextNonce = used + 1
	}
}

func (e *Executor) broadcast(ctx context.Context, tx *ethtypes.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.client.SendTransaction(ctx, tx)
	if EVMRPC.IsAlreadyKnown(err) {
		return nil
	}
	return err
}

// lookup returns nil, nil when no node knows the transaction.
func (e *Executor) lookup(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, _, err := e.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (e *Executor) getAttempt(ctx context.Context, depositTxID string) (*types.PayoutAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.journal.GetAttempt(ctx, depositTxID)
}

func (e *Executor) saveAttempt(ctx context.Context, attempt *types.PayoutAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.journal.SaveAttempt(ctx, attempt)
}

func (e *Executor) dropAttempt(ctx context.Context, depositTxID string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.journal.DeleteAttempt(ctx, depositTxID); err != nil {
		e.logger.Error("cannot delete journaled payout", "txid", depositTxID, "error", err)
	}
}

func receiptFor(tx *ethtypes.Transaction, recovered bool) *types.TransferReceipt {
	receipt := &types.TransferReceipt{
		TransactionHash: tx.Hash().Hex(),
		Nonce:           tx.Nonce(),
		AmountWei:       tx.Value().String(),
		Recovered:       recovered,
	}
	if to := tx.To(); to != nil {
		receipt.To = to.Hex()
	}
	return receipt
}

// LoadSigningKey reads the custodial key from BRIDGE_PRIVATE_KEY or from an
// encrypted keystore file. It returns nil when neither is set.
func LoadSigningKey(cfg *config.Configuration) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.Bridge.PrivateKey != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Bridge.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("error instantiating private key: %w", err)
		}
		return key, nil
	case cfg.Bridge.KeystorePath != "":
		data, err := os.ReadFile(cfg.Bridge.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("cannot read keystore: %w", err)
		}
		key, err := keystore.DecryptKey(data, cfg.Bridge.KeystorePassword)
		if err != nil {
			return nil, fmt.Errorf("cannot decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	default:
		return nil, nil
	}
}
