package events

import (
	"time"

	"gorvnbridge/types"
)

// PayoutEvent is published once a deposit is recorded as processed.
type PayoutEvent struct {
	TxID               string        `json:"txid"`
	Outcome            types.Outcome `json:"outcome"`
	SourceAddress      string        `json:"source_address"`
	Amount             string        `json:"amount"`
	DestinationAddress string        `json:"destination_address,omitempty"`
	DestinationAmount  string        `json:"destination_amount,omitempty"`
	DestTxHash         string        `json:"dest_tx_hash,omitempty"`
	Message            string        `json:"message,omitempty"`
	ProcessedAt        time.Time     `json:"processed_at"`
	PublishedAt        time.Time     `json:"published_at"`
}

func FromProcessedRecord(rec *types.ProcessedRecord) *PayoutEvent {
	return &PayoutEvent{
		TxID:               rec.TxID,
		Outcome:            rec.Outcome,
		SourceAddress:      rec.SourceAddress,
		Amount:             rec.Amount,
		DestinationAddress: rec.DestinationAddress,
		DestinationAmount:  rec.DestinationAmount,
		DestTxHash:         rec.DestTxHash,
		Message:            rec.Message,
		ProcessedAt:        rec.ProcessedAt,
		PublishedAt:        time.Now().UTC(),
	}
}
