package EVMRPC

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"gorvnbridge/types"
)

// node error messages are not typed over JSON-RPC, only the text survives
var (
	alreadyKnownTokens      = []string{"already known", "known transaction", "already imported"}
	nonceTooLowTokens       = []string{"nonce too low"}
	insufficientFundsTokens = []string{"insufficient funds"}
	rejectedTokens          = []string{
		"replacement transaction underpriced",
		"transaction underpriced",
		"intrinsic gas too low",
		"exceeds block gas limit",
		"invalid sender",
		"invalid chain id",
		"only replay-protected",
	}
	transientTokens = []string{
		"timeout",
		"timed out",
		"temporar",
		"unavailable",
		"connection reset",
		"connection refused",
		"broken pipe",
		"too many requests",
		"rate limit",
	}
)

func IsAlreadyKnown(err error) bool {
	return err != nil && containsAny(strings.ToLower(err.Error()), alreadyKnownTokens)
}

func IsNonceTooLow(err error) bool {
	return err != nil && containsAny(strings.ToLower(err.Error()), nonceTooLowTokens)
}

// Classify maps a failed send to a transfer error kind. Anything not clearly
// a refusal by the node is a NetworkError, so the job is retried.
func Classify(err error) types.TransferErrorKind {
	if err == nil {
		return ""
	}
	if kind := types.TransferErrorKindOf(err); kind != "" {
		return kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NetworkError
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return types.NetworkError
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, insufficientFundsTokens) {
		return types.InsufficientFunds
	}
	if containsAny(lower, nonceTooLowTokens) || containsAny(lower, rejectedTokens) {
		return types.Rejected
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.NetworkError
	}
	if containsAny(lower, transientTokens) {
		return types.NetworkError
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		// -32000 is the catch all server error, too vague to call a rejection
		if rpcErr.ErrorCode() == -32000 || rpcErr.ErrorCode() == -32603 {
			return types.NetworkError
		}
		return types.Rejected
	}

	return types.NetworkError
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
