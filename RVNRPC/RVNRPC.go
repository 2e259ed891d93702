package RVNRPC

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ybbus/jsonrpc"

	"gorvnbridge/types"
)

// Client talks to a ravend-style wallet over JSON-RPC with basic auth.
type Client struct {
	rpc     jsonrpc.RPCClient
	timeout time.Duration
}

const DEFAULT_TIMEOUT = 15 * time.Second

// New builds a client for endpoint, every call is bounded by timeout.
func New(endpoint, user, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}
	auth := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	rpc := jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
		HTTPClient: &http.Client{Timeout: timeout},
		CustomHeaders: map[string]string{
			"Authorization": "Basic " + auth,
		},
	})
	return &Client{rpc: rpc, timeout: timeout}
}

// the jsonrpc client has no context support, the http timeout bounds the
// goroutine and ctx lets the caller stop waiting earlier
func (c *Client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	type result struct {
		resp *jsonrpc.RPCResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.rpc.Call(method, params...)
		done <- result{resp, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return fmt.Errorf("rpc %s: %w", method, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return fmt.Errorf("rpc %s: %w", method, res.err)
	}
	if res.resp == nil {
		return fmt.Errorf("rpc %s: empty response", method)
	}
	if res.resp.Error != nil {
		return fmt.Errorf("rpc %s: %w", method, res.resp.Error)
	}
	if err := res.resp.GetObject(out); err != nil {
		return fmt.Errorf("rpc %s: cannot decode result: %w", method, err)
	}
	return nil
}

// ListTransactions returns the count most recent wallet entries, amounts kept exact.
func (c *Client) ListTransactions(ctx context.Context, count int) ([]types.DepositEvent, error) {
	var txs []types.DepositEvent
	if err := c.call(ctx, &txs, "listtransactions", "*", count); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := c.call(ctx, &balance, "getbalance"); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
