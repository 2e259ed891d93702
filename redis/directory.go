package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	"gorvnbridge/config"
	"gorvnbridge/types"
)

// RVN addresses are base58 and case sensitive, keys keep them verbatim.
func bindingKey(sourceAddress string) string {
	return config.REDIS_USERS_PREFIX + sourceAddress
}

// UpsertBinding stores the destination for a source address, last write wins.
func (s *Store) UpsertBinding(ctx context.Context, rec *types.AddressBinding) error {
	if rec == nil {
		return errors.New("null object to store")
	}
	if rec.SourceAddress == "" || rec.DestinationAddress == "" {
		return errors.New("address binding needs both addresses")
	}

	existing, err := s.GetBinding(ctx, rec.SourceAddress)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	if existing != nil {
		rec.ID = existing.ID
		rec.TsCreated = existing.TsCreated
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.TsCreated == 0 {
		rec.TsCreated = now
	}
	rec.TsUpdated = now

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cannot marshal address binding to JSON: %w", err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("SET", bindingKey(rec.SourceAddress), recJSON); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

// GetBinding returns nil when the source address was never registered.
func (s *Store) GetBinding(ctx context.Context, sourceAddress string) (*types.AddressBinding, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", bindingKey(sourceAddress)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET: %w", err)
	}

	var rec types.AddressBinding
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
