package EVMRPC

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client fails over across a list of node URLs, in order.
type Client struct {
	urls   []string
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func New(urls []string, logger *slog.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("no EVM node URL configured")
	}
	return &Client{
		urls:    urls,
		logger:  logger.With(slog.String("component", "evmrpc")),
		clients: make(map[string]*ethclient.Client),
	}, nil
}

func (c *Client) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[url]; ok {
		return client, nil
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	c.clients[url] = client
	return client, nil
}

// WithClient runs f against each node until one succeeds and returns the last error otherwise.
func WithClient[T any](ctx context.Context, c *Client, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	for _, url := range c.urls {
		var client *ethclient.Client
		client, err = c.dial(ctx, url)
		if err != nil {
			c.logger.Warn("error connecting to node", "url", url, "error", err)
			continue
		}

		res, err = f(client)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			// no point trying the next node on an expired context
			return
		}
		c.logger.Warn("node call failed", "url", url, "error", err)
	}
	return
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, account)
	})
}

func (c *Client) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	_, err := WithClient(ctx, c, func(client *ethclient.Client) (struct{}, error) {
		return struct{}{}, client.SendTransaction(ctx, tx)
	})
	return err
}

// TransactionByHash reports whether any node knows the transaction, pending or mined.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	type found struct {
		tx      *ethtypes.Transaction
		pending bool
	}
	res, err := WithClient(ctx, c, func(client *ethclient.Client) (found, error) {
		tx, pending, err := client.TransactionByHash(ctx, hash)
		return found{tx, pending}, err
	})
	return res.tx, res.pending, err
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, account, nil)
	})
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for url, client := range c.clients {
		client.Close()
		delete(c.clients, url)
	}
}
