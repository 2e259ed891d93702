package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// NewPool creates a connection pool for a redis:// URL.
func NewPool(rawURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 4 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.DialURL(rawURL, timeoutDialOptions()...) },
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Open creates a pool and checks the server is reachable, without persistence do not continue.
func Open(ctx context.Context, rawURL string) (*redis.Pool, error) {
	pool := NewPool(rawURL)
	conn, err := pool.GetContext(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return pool, nil
}

// Store keeps the processed ledger, the address directory and the broadcast journal in Redis.
type Store struct {
	pool *redis.Pool
}

func NewStore(pool *redis.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	return s.pool.Close()
}
