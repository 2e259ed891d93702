package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// only incoming wallet entries of this category are deposits
const CategoryReceive = "receive"

// DepositEvent is a source chain transaction crediting the custodial address.
// It is never stored as is, only its TxID ends up in the processed ledger.
type DepositEvent struct {
	TxID          string          `json:"txid"`
	SourceAddress string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Confirmations int64           `json:"confirmations"`
	Time          int64           `json:"time"`
}

// AddressBinding is stored in the users collection, keyed by source address.
// Last write wins.
type AddressBinding struct {
	ID                 string `json:"id"`
	SourceAddress      string `json:"sourceAddress"`
	DestinationAddress string `json:"destinationAddress"`
	TsCreated          int64  `json:"tsCreated"`
	TsUpdated          int64  `json:"tsUpdated"`
}

type Outcome string

const (
	OutcomePaid               Outcome = "paid"
	OutcomeBelowMinimum       Outcome = "below_minimum"
	OutcomeUnregistered       Outcome = "unregistered"
	OutcomeInvalidDestination Outcome = "invalid_destination"
)

// ProcessedRecord marks a source txid as handled. Inserted once, never changed.
type ProcessedRecord struct {
	TxID               string    `json:"txid"`
	Outcome            Outcome   `json:"outcome"`
	SourceAddress      string    `json:"sourceAddress"`
	Amount             string    `json:"amount"`
	DestinationAddress string    `json:"destinationAddress,omitempty"`
	DestinationAmount  string    `json:"destinationAmount,omitempty"`
	DestTxHash         string    `json:"destTxHash,omitempty"`
	Message            string    `json:"message,omitempty"`
	ProcessedAt        time.Time `json:"processedAt"`
}

type JobStatus string

const (
	JobWaiting JobStatus = "waiting"
	JobActive  JobStatus = "active"
	JobDelayed JobStatus = "delayed"
	JobDead    JobStatus = "dead"
)

// PayoutJob is the queued unit of work. ID equals the deposit txid so a
// deposit can only sit in the queue once.
type PayoutJob struct {
	ID        string       `json:"id"`
	Deposit   DepositEvent `json:"deposit"`
	Status    JobStatus    `json:"status"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"lastError,omitempty"`
	TsCreated int64        `json:"tsCreated"`
	TsUpdated int64        `json:"tsUpdated"`
}

// PayoutAttempt is the broadcast journal entry of a signed payout transaction.
type PayoutAttempt struct {
	DepositTxID string `json:"depositTxid"`
	TxHash      string `json:"txHash"`
	RawTx       string `json:"rawTx"` // 0x-prefixed RLP
	Nonce       uint64 `json:"nonce"`
	TsCreated   int64  `json:"tsCreated"`
}

// TransferReceipt is returned by the executor on an accepted broadcast.
type TransferReceipt struct {
	TransactionHash string
	Nonce           uint64
	To              string
	AmountWei       string
	// set when an earlier journaled broadcast was found instead of sending a new one
	Recovered bool
}
