package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gomodule/redigo/redis"

	"gorvnbridge/config"
	"gorvnbridge/types"
)

func (s *Store) IsProcessed(ctx context.Context, txid string) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	exists, err := redis.Bool(conn.Do("EXISTS", config.REDIS_PROCESSED_PREFIX+txid))
	if err != nil {
		return false, fmt.Errorf("redis EXISTS: %w", err)
	}
	return exists, nil
}

// MarkProcessed inserts the record unless one already exists for the txid.
// It reports whether this call inserted it.
func (s *Store) MarkProcessed(ctx context.Context, rec *types.ProcessedRecord) (bool, error) {
	if rec == nil || rec.TxID == "" {
		return false, errors.New("processed record must have a txid")
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("cannot marshal processed record to JSON: %w", err)
	}

	_, err = redis.String(conn.Do("SET", config.REDIS_PROCESSED_PREFIX+rec.TxID, recJSON, "NX"))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis SET: %w", err)
	}
	return true, nil
}

// GetProcessed returns nil when the txid was never processed.
func (s *Store) GetProcessed(ctx context.Context, txid string) (*types.ProcessedRecord, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", config.REDIS_PROCESSED_PREFIX+txid))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET: %w", err)
	}

	var rec types.ProcessedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
