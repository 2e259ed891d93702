package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"gorvnbridge/RVNRPC"
	"gorvnbridge/metrics"
	"gorvnbridge/types"
)

// ErrTickInProgress is returned by Tick while another tick is running.
var ErrTickInProgress = errors.New("monitor tick already in progress")

// SourceChain lists the most recent wallet transactions.
type SourceChain interface {
	ListTransactions(ctx context.Context, count int) ([]types.DepositEvent, error)
}

var _ SourceChain = (*RVNRPC.Client)(nil)

type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.PayoutJob) (bool, error)
}

type MonitorConfig struct {
	BridgeAddress string
	ScanCount     int
	Interval      time.Duration
	// per call bounds on listtransactions and on ledger and queue calls
	RPCTimeout   time.Duration
	StoreTimeout time.Duration
}

// TickResult counts what one tick did with the listed transactions.
type TickResult struct {
	Listed    int
	Filtered  int
	Processed int
	Queued    int
	Enqueued  int
}

// Monitor polls the custodial wallet and queues unseen deposits.
type Monitor struct {
	source  SourceChain
	ledger  Ledger
	queue   Enqueuer
	cfg     MonitorConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	running atomic.Bool
}

func NewMonitor(source SourceChain, ledger Ledger, queue Enqueuer, cfg MonitorConfig, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = RVNRPC.DEFAULT_TIMEOUT
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DEFAULT_STORE_TIMEOUT
	}
	return &Monitor{
		source:  source,
		ledger:  ledger,
		queue:   queue,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "monitor")),
		metrics: m,
	}
}

// Run ticks immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("starting RVN monitor", "address", m.cfg.BridgeAddress, "interval", m.cfg.Interval, "window", m.cfg.ScanCount)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("monitor tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("RVN monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick scans the window once. Errors end the tick early, whatever was not
// queued is still in the window for the next one.
func (m *Monitor) Tick(ctx context.Context) (*TickResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer m.running.Store(false)

	start := time.Now()
	res, err := m.scan(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordMonitorTick(status, time.Since(start).Seconds())
	if res != nil {
		m.metrics.RecordDepositsSeen("filtered", res.Filtered)
		m.metrics.RecordDepositsSeen("processed", res.Processed)
		m.metrics.RecordDepositsSeen("queued", res.Queued)
		m.metrics.RecordDepositsSeen("enqueued", res.Enqueued)
	}
	return res, err
}

func (m *Monitor) scan(ctx context.Context) (*TickResult, error) {
	txs, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	res := &TickResult{Listed: len(txs)}
	for _, tx := range txs {
		if tx.SourceAddress != m.cfg.BridgeAddress || tx.Category != types.CategoryReceive {
			res.Filtered++
			continue
		}

		processed, err := m.isProcessed(ctx, tx.TxID)
		if err != nil {
			return res, err
		}
		if processed {
			res.Processed++
			continue
		}

		added, err := m.enqueue(ctx, &types.PayoutJob{ID: tx.TxID, Deposit: tx})
		if err != nil {
			return res, err
		}
		if !added {
			res.Queued++
			continue
		}
		res.Enqueued++
		m.logger.Info("queued RVN deposit", "txid", tx.TxID, "amount", tx.Amount.String(), "confirmations", tx.Confirmations)
	}

	// a full page with nothing known means older deposits may have aged out unseen
	if res.Listed >= m.cfg.ScanCount && res.Enqueued > 0 && res.Processed == 0 && res.Queued == 0 {
		m.metrics.RecordWindowSaturated()
		m.logger.Warn("every deposit in the scan window was new, older deposits may have been missed", "window", m.cfg.ScanCount)
	}
	return res, nil
}

func (m *Monitor) list(ctx context.Context) ([]types.DepositEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	defer cancel()
	return m.source.ListTransactions(ctx, m.cfg.ScanCount)
}

func (m *Monitor) isProcessed(ctx context.Context, txid string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	return m.ledger.IsProcessed(ctx, txid)
}

func (m *Monitor) enqueue(ctx context.Context, job *types.PayoutJob) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	return m.queue.Enqueue(ctx, job)
}
