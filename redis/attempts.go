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

// SaveAttempt journals a signed payout before it is broadcast. An existing
// entry for the same deposit is overwritten.
func (s *Store) SaveAttempt(ctx context.Context, attempt *types.PayoutAttempt) error {
	if attempt == nil || attempt.DepositTxID == "" {
		return errors.New("payout attempt must have a deposit txid")
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("cannot marshal payout attempt to JSON: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("SET", config.REDIS_ATTEMPTS_PREFIX+attempt.DepositTxID, data); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, depositTxID string) (*types.PayoutAttempt, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", config.REDIS_ATTEMPTS_PREFIX+depositTxID))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET: %w", err)
	}

	var attempt types.PayoutAttempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *Store) DeleteAttempt(ctx context.Context, depositTxID string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", config.REDIS_ATTEMPTS_PREFIX+depositTxID); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}
