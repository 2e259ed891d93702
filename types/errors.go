package types

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by the executor when signing credentials are missing.
// Jobs failing with it must stay unprocessed.
var ErrNotConfigured = errors.New("payout path not configured: missing bridge address or private key")

type TransferErrorKind string

const (
	InsufficientFunds TransferErrorKind = "insufficient_funds"
	NetworkError      TransferErrorKind = "network_error"
	SigningError      TransferErrorKind = "signing_error"
	Rejected          TransferErrorKind = "rejected"
	NotConfigured     TransferErrorKind = "not_configured"
)

type TransferError struct {
	Kind TransferErrorKind
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewTransferError(kind TransferErrorKind, err error) *TransferError {
	return &TransferError{Kind: kind, Err: err}
}

// TransferErrorKindOf returns the kind of a classified transfer failure, or "" if err is not one.
func TransferErrorKindOf(err error) TransferErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
