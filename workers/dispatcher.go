package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"gorvnbridge/metrics"
	"gorvnbridge/redis"
	"gorvnbridge/types"
)

// JobQueue is the durable queue consumed by the dispatcher.
type JobQueue interface {
	Dequeue(ctx context.Context) (*types.PayoutJob, error)
	Complete(ctx context.Context, job *types.PayoutJob) error
	Fail(ctx context.Context, job *types.PayoutJob, cause error) (bool, error)
	Postpone(ctx context.Context, job *types.PayoutJob, cause error) error
	PromoteDelayed(ctx context.Context) (int, error)
	RecoverActive(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*redis.QueueStats, error)
}

var _ JobQueue = (*redis.Queue)(nil)

type JobHandler interface {
	Handle(ctx context.Context, job *types.PayoutJob) error
}

type DispatcherConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// Dispatcher feeds queued jobs to the handler with bounded parallelism.
type Dispatcher struct {
	queue   JobQueue
	handler JobHandler
	cfg     DispatcherConfig
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(queue JobQueue, handler JobHandler, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Dispatcher{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  logger.With(slog.String("component", "dispatcher")),
		metrics: m,
	}
}

// Run recovers jobs orphaned by a previous process, then dispatches until ctx
// is done. Jobs in flight at shutdown are allowed to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	recovered, err := d.queue.RecoverActive(ctx)
	if err != nil {
		return fmt.Errorf("cannot recover active jobs: %w", err)
	}
	if recovered > 0 {
		d.logger.Warn("requeued jobs left active by a previous run", "count", recovered)
	}

	d.logger.Info("starting dispatcher", "concurrency", d.cfg.Concurrency)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("cannot promote delayed jobs", "error", err)
		}
		d.recordDepth(ctx)

		for ctx.Err() == nil {
			started, err := d.dispatchOne(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("cannot dequeue job", "error", err)
			}
			if !started {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.Wait()
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// dispatchOne waits for a free worker and hands it the next ready job.
// It reports false when the queue had nothing ready.
func (d *Dispatcher) dispatchOne(ctx context.Context) (bool, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return false, nil
	}

	job, err := d.queue.Dequeue(ctx)
	if err != nil || job == nil {
		d.sem.Release(1)
		return false, err
	}

	go func() {
		defer d.sem.Release(1)
		// shutdown must not abort a payout halfway
		d.process(context.WithoutCancel(ctx), job)
	}()
	return true, nil
}

func (d *Dispatcher) process(ctx context.Context, job *types.PayoutJob) {
	log := d.logger.With("job", job.ID, "attempt", job.Attempts)
	start := time.Now()

	handleErr := d.handler.Handle(ctx, job)
	if handleErr == nil {
		if err := d.queue.Complete(ctx, job); err != nil {
			// left active, redelivered after a restart and skipped by the ledger check
			log.Error("cannot complete job", "error", err)
		}
		d.metrics.RecordJob("completed", time.Since(start).Seconds())
		return
	}

	if errors.Is(handleErr, types.ErrNotConfigured) {
		// nothing wrong with the job, it waits for the payout path without using attempts
		if err := d.queue.Postpone(ctx, job, handleErr); err != nil {
			log.Error("cannot postpone job", "error", err, "cause", handleErr)
		}
		d.metrics.RecordJob("postponed", time.Since(start).Seconds())
		return
	}

	dead, err := d.queue.Fail(ctx, job, handleErr)
	if err != nil {
		log.Error("cannot record job failure", "error", err, "cause", handleErr)
		d.metrics.RecordJob("failed", time.Since(start).Seconds())
		return
	}
	if dead {
		log.Error("job dead lettered, operator action required", "error", handleErr, "kind", types.TransferErrorKindOf(handleErr))
		d.metrics.RecordDeadLetter()
		d.metrics.RecordJob("dead", time.Since(start).Seconds())
		return
	}
	log.Warn("job failed, will retry", "error", handleErr, "kind", types.TransferErrorKindOf(handleErr))
	d.metrics.RecordJob("retry", time.Since(start).Seconds())
}

// Wait blocks until every started job has finished.
func (d *Dispatcher) Wait() {
	_ = d.sem.Acquire(context.Background(), int64(d.cfg.Concurrency))
	d.sem.Release(int64(d.cfg.Concurrency))
}

func (d *Dispatcher) recordDepth(ctx context.Context) {
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		return
	}
	d.metrics.SetQueueDepth(stats.Waiting, stats.Active, stats.Delayed, stats.Dead)
}
