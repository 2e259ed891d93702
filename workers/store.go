package workers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorvnbridge/config"
	"gorvnbridge/postgres"
	"gorvnbridge/redis"
	"gorvnbridge/types"
)

// Ledger records which source transactions are done.
type Ledger interface {
	IsProcessed(ctx context.Context, txid string) (bool, error)
	MarkProcessed(ctx context.Context, rec *types.ProcessedRecord) (bool, error)
	GetProcessed(ctx context.Context, txid string) (*types.ProcessedRecord, error)
}

// Directory maps source addresses to destination addresses.
type Directory interface {
	GetBinding(ctx context.Context, sourceAddress string) (*types.AddressBinding, error)
	UpsertBinding(ctx context.Context, rec *types.AddressBinding) error
}

// Journal keeps the last signed payout per deposit until it is known to be on chain.
type Journal interface {
	SaveAttempt(ctx context.Context, attempt *types.PayoutAttempt) error
	GetAttempt(ctx context.Context, depositTxID string) (*types.PayoutAttempt, error)
	DeleteAttempt(ctx context.Context, depositTxID string) error
}

type Store interface {
	Ledger
	Directory
	Journal
	Close() error
}

var (
	_ Store = (*redis.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// OpenStore picks the backend from the DATABASE_URL scheme.
func OpenStore(ctx context.Context, databaseURL string) (Store, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		pool, err := redis.Open(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return redis.NewStore(pool), nil
	case "postgres", "postgresql":
		store, err := postgres.Open(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}
}

// bound on a single ledger, directory or journal call when none is configured
const DEFAULT_STORE_TIMEOUT = 5 * time.Second

// payout jobs queue name
const QUEUE_PAYOUTS = "payouts"

// OpenQueue connects to REDIS_URL and returns the payout queue.
func OpenQueue(ctx context.Context, cfg *config.Configuration) (*redis.Queue, error) {
	pool, err := redis.Open(ctx, cfg.Storage.QueueURL)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to queue: %w", err)
	}
	return redis.NewQueue(pool, QUEUE_PAYOUTS, redis.QueueOptions{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
	}), nil
}
