package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"gorvnbridge/events"
	"gorvnbridge/metrics"
	"gorvnbridge/types"
)

// Transferer pays a converted amount on the destination chain.
type Transferer interface {
	Transfer(ctx context.Context, depositTxID, to string, amount decimal.Decimal) (*types.TransferReceipt, error)
}

type ProcessorConfig struct {
	Rate      types.Rate
	MinAmount decimal.Decimal
	// per call bound on ledger and directory calls
	StoreTimeout time.Duration
}

// Processor is the queue job handler. It is safe to run for the same deposit
// more than once, the ledger check comes first and the ledger write comes last.
type Processor struct {
	ledger    Ledger
	directory Directory
	executor  Transferer
	publisher events.Publisher
	rate      types.Rate
	minAmount decimal.Decimal
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewProcessor(ledger Ledger, directory Directory, executor Transferer, publisher events.Publisher, cfg ProcessorConfig, logger *slog.Logger, m *metrics.Metrics) *Processor {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DEFAULT_STORE_TIMEOUT
	}
	return &Processor{
		ledger:    ledger,
		directory: directory,
		executor:  executor,
		publisher: publisher,
		rate:      cfg.Rate,
		minAmount: cfg.MinAmount,
		timeout:   cfg.StoreTimeout,
		logger:    logger.With(slog.String("component", "processor")),
		metrics:   m,
	}
}

// Handle turns one deposit into a payout or a recorded skip. A returned error
// means nothing was recorded and the job should be retried.
func (p *Processor) Handle(ctx context.Context, job *types.PayoutJob) error {
	deposit := job.Deposit
	log := p.logger.With("txid", deposit.TxID, "attempt", job.Attempts)

	processed, err := p.isProcessed(ctx, deposit.TxID)
	if err != nil {
		return fmt.Errorf("cannot check processed ledger: %w", err)
	}
	if processed {
		log.Debug("deposit already processed")
		return nil
	}

	rec := &types.ProcessedRecord{
		TxID:          deposit.TxID,
		SourceAddress: deposit.SourceAddress,
		Amount:        deposit.Amount.String(),
	}

	if deposit.Amount.LessThan(p.minAmount) {
		log.Warn("deposit below minimum, rejected", "amount", deposit.Amount.String(), "min", p.minAmount.String())
		rec.Outcome = types.OutcomeBelowMinimum
		rec.Message = fmt.Sprintf("amount %s is below minimum %s", deposit.Amount, p.minAmount)
		return p.commit(ctx, log, rec)
	}

	binding, err := p.getBinding(ctx, deposit.SourceAddress)
	if err != nil {
		return fmt.Errorf("cannot look up address binding: %w", err)
	}
	if binding == nil {
		log.Error("no destination address registered for sender, funds kept in custody", "sender", deposit.SourceAddress)
		rec.Outcome = types.OutcomeUnregistered
		rec.Message = "no destination address registered"
		return p.commit(ctx, log, rec)
	}
	rec.DestinationAddress = binding.DestinationAddress

	if !common.IsHexAddress(binding.DestinationAddress) {
		log.Error("registered destination address is invalid, funds kept in custody", "destination", binding.DestinationAddress)
		rec.Outcome = types.OutcomeInvalidDestination
		rec.Message = "registered destination address is invalid"
		return p.commit(ctx, log, rec)
	}

	amount := p.rate.Convert(deposit.Amount)
	rec.DestinationAmount = amount.String()
	if !types.ToWei(amount).IsPositive() {
		log.Warn("converted amount rounds to zero wei, rejected", "amount", deposit.Amount.String())
		rec.Outcome = types.OutcomeBelowMinimum
		rec.Message = fmt.Sprintf("converted amount %s rounds to zero", amount)
		return p.commit(ctx, log, rec)
	}

	log.Info("paying out deposit", "sender", deposit.SourceAddress, "amount", deposit.Amount.String(), "destination", binding.DestinationAddress, "destinationAmount", amount.String(), "rate", p.rate.String())

	receipt, err := p.executor.Transfer(ctx, deposit.TxID, binding.DestinationAddress, amount)
	if err != nil {
		if errors.Is(err, types.ErrNotConfigured) {
			log.Error("payout path not configured, deposit left unprocessed", "error", err)
		}
		return fmt.Errorf("payout of %s failed: %w", deposit.TxID, err)
	}

	rec.Outcome = types.OutcomePaid
	rec.DestTxHash = receipt.TransactionHash
	wei, weiErr := decimal.NewFromString(receipt.AmountWei)
	if receipt.To != "" && common.HexToAddress(receipt.To) != common.HexToAddress(rec.DestinationAddress) {
		// a journaled transaction from an earlier attempt went to the binding of that time
		rec.DestinationAddress = receipt.To
		if weiErr == nil {
			rec.DestinationAmount = types.FromWei(wei).String()
		}
	}
	if receipt.Recovered {
		rec.Message = "resolved from broadcast journal"
	}
	if weiErr == nil {
		p.metrics.RecordPayoutWei(wei.InexactFloat64())
	}

	log.Info("payout broadcast", "hash", receipt.TransactionHash, "nonce", receipt.Nonce, "recovered", receipt.Recovered)
	return p.commit(ctx, log, rec)
}

func (p *Processor) commit(ctx context.Context, log *slog.Logger, rec *types.ProcessedRecord) error {
	rec.ProcessedAt = time.Now().UTC()

	inserted, err := p.markProcessed(ctx, rec)
	if err != nil {
		if rec.Outcome == types.OutcomePaid {
			// the journal entry stays, the retry finds the transaction instead of paying twice
			log.Error("payout broadcast but not recorded", "hash", rec.DestTxHash, "error", err)
		}
		return fmt.Errorf("cannot record processed deposit: %w", err)
	}
	if !inserted {
		log.Warn("deposit was recorded concurrently", "outcome", rec.Outcome)
		return nil
	}

	p.metrics.RecordOutcome(string(rec.Outcome))

	if err := p.publisher.Publish(ctx, events.FromProcessedRecord(rec)); err != nil {
		log.Error("failed to publish payout event", "error", err)
	}
	return nil
}

func (p *Processor) isProcessed(ctx context.Context, txid string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.ledger.IsProcessed(ctx, txid)
}

func (p *Processor) getBinding(ctx context.Context, sourceAddress string) (*types.AddressBinding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.directory.GetBinding(ctx, sourceAddress)
}

func (p *Processor) markProcessed(ctx context.Context, rec *types.ProcessedRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.ledger.MarkProcessed(ctx, rec)
}
