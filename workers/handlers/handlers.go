package handlers

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"gorvnbridge/redis"
	"gorvnbridge/types"
)

type Directory interface {
	UpsertBinding(ctx context.Context, rec *types.AddressBinding) error
}

type Ledger interface {
	GetProcessed(ctx context.Context, txid string) (*types.ProcessedRecord, error)
}

type Queue interface {
	DeadLetters(ctx context.Context) ([]*types.PayoutJob, error)
	Stats(ctx context.Context) (*redis.QueueStats, error)
}

type SourceWallet interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

type DestinationNode interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Handlers serves the bridge API. Every dependency is required.
type Handlers struct {
	Directory     Directory
	Ledger        Ledger
	Queue         Queue
	RVN           SourceWallet
	ETH           DestinationNode
	BridgeAddress common.Address
	PayoutEnabled bool
	Rate          types.Rate
	MinDeposit    decimal.Decimal
	Logger        *slog.Logger
}
