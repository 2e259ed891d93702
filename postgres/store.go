package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gorvnbridge/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                  TEXT NOT NULL,
	source_address      TEXT PRIMARY KEY,
	destination_address TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processed_txs (
	txid                TEXT NOT NULL,
	outcome             TEXT NOT NULL,
	source_address      TEXT NOT NULL DEFAULT '',
	amount              TEXT NOT NULL DEFAULT '',
	destination_address TEXT NOT NULL DEFAULT '',
	destination_amount  TEXT NOT NULL DEFAULT '',
	dest_tx_hash        TEXT NOT NULL DEFAULT '',
	message             TEXT NOT NULL DEFAULT '',
	processed_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS processed_txs_txid_idx ON processed_txs (txid);

CREATE TABLE IF NOT EXISTS payout_attempts (
	deposit_txid TEXT PRIMARY KEY,
	tx_hash      TEXT NOT NULL,
	raw_tx       TEXT NOT NULL,
	nonce        BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store keeps the processed ledger, the address directory and the broadcast journal in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects, pings and makes sure the tables exist.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) IsProcessed(ctx context.Context, txid string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_txs WHERE txid = $1)`, txid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed tx: %w", err)
	}
	return exists, nil
}

// MarkProcessed inserts the record unless the txid is already there.
// It reports whether this call inserted it.
func (s *Store) MarkProcessed(ctx context.Context, rec *types.ProcessedRecord) (bool, error) {
	if rec == nil || rec.TxID == "" {
		return false, errors.New("processed record must have a txid")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_txs
			(txid, outcome, source_address, amount, destination_address, destination_amount, dest_tx_hash, message, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (txid) DO NOTHING`,
		rec.TxID, string(rec.Outcome), rec.SourceAddress, rec.Amount,
		rec.DestinationAddress, rec.DestinationAmount, rec.DestTxHash, rec.Message, rec.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert processed tx: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetProcessed(ctx context.Context, txid string) (*types.ProcessedRecord, error) {
	var (
		rec     types.ProcessedRecord
		outcome string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT txid, outcome, source_address, amount, destination_address, destination_amount, dest_tx_hash, message, processed_at
		FROM processed_txs WHERE txid = $1`, txid,
	).Scan(&rec.TxID, &outcome, &rec.SourceAddress, &rec.Amount, &rec.DestinationAddress,
		&rec.DestinationAmount, &rec.DestTxHash, &rec.Message, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed tx: %w", err)
	}
	rec.Outcome = types.Outcome(outcome)
	return &rec, nil
}

// UpsertBinding stores the destination for a source address, last write wins.
func (s *Store) UpsertBinding(ctx context.Context, rec *types.AddressBinding) error {
	if rec == nil {
		return errors.New("null object to store")
	}
	if rec.SourceAddress == "" || rec.DestinationAddress == "" {
		return errors.New("address binding needs both addresses")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var created, updated time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, source_address, destination_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_address) DO UPDATE
			SET destination_address = EXCLUDED.destination_address, updated_at = now()
		RETURNING id, created_at, updated_at`,
		rec.ID, rec.SourceAddress, rec.DestinationAddress,
	).Scan(&rec.ID, &created, &updated)
	if err != nil {
		return fmt.Errorf("failed to upsert address binding: %w", err)
	}
	rec.TsCreated = created.Unix()
	rec.TsUpdated = updated.Unix()
	return nil
}

func (s *Store) GetBinding(ctx context.Context, sourceAddress string) (*types.AddressBinding, error) {
	var (
		rec              types.AddressBinding
		created, updated time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_address, destination_address, created_at, updated_at
		FROM users WHERE source_address = $1`, sourceAddress,
	).Scan(&rec.ID, &rec.SourceAddress, &rec.DestinationAddress, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address binding: %w", err)
	}
	rec.TsCreated = created.Unix()
	rec.TsUpdated = updated.Unix()
	return &rec, nil
}

func (s *Store) SaveAttempt(ctx context.Context, attempt *types.PayoutAttempt) error {
	if attempt == nil || attempt.DepositTxID == "" {
		return errors.New("payout attempt must have a deposit txid")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payout_attempts (deposit_txid, tx_hash, raw_tx, nonce)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (deposit_txid) DO UPDATE
			SET tx_hash = EXCLUDED.tx_hash, raw_tx = EXCLUDED.raw_tx, nonce = EXCLUDED.nonce, created_at = now()`,
		attempt.DepositTxID, attempt.TxHash, attempt.RawTx, int64(attempt.Nonce),
	)
	if err != nil {
		return fmt.Errorf("failed to save payout attempt: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, depositTxID string) (*types.PayoutAttempt, error) {
	var (
		attempt types.PayoutAttempt
		nonce   int64
		created time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT deposit_txid, tx_hash, raw_tx, nonce, created_at
		FROM payout_attempts WHERE deposit_txid = $1`, depositTxID,
	).Scan(&attempt.DepositTxID, &attempt.TxHash, &attempt.RawTx, &nonce, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout attempt: %w", err)
	}
	attempt.Nonce = uint64(nonce)
	attempt.TsCreated = created.Unix()
	return &attempt, nil
}

func (s *Store) DeleteAttempt(ctx context.Context, depositTxID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM payout_attempts WHERE deposit_txid = $1`, depositTxID); err != nil {
		return fmt.Errorf("failed to delete payout attempt: %w", err)
	}
	return nil
}
