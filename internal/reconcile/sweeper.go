// Package reconcile sweeps PENDING payments that never heard back from their gateway and
// flags installments that have fallen overdue.
package reconcile

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/enrollment-payments/internal/payment"
)

type PendingFinder interface {
	StalePending(ctx context.Context, before time.Time, limit int) ([]StalePayment, error)
}

type PaymentReconciler interface {
	Reconcile(ctx context.Context, reference, actor string) (*paymentpkg.ReconcileResult, error)
	Expire(ctx context.Context, reference, actor string) (*paymentpkg.ReconcileResult, error)
}

type InstallmentScheduler interface {
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Summary counts what one sweep did.
type Summary struct {
	Scanned   int   `json:"scanned"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Pending   int   `json:"pending"`
	Skipped   int   `json:"skipped"`
	Errors    int   `json:"errors"`
	Overdue   int64 `json:"overdue"`
}

type tally struct {
	completed, failed, pending, errors atomic.Int64
}

type Sweeper struct {
	finder       PendingFinder
	payments     PaymentReconciler
	installments InstallmentScheduler
	pool         *Pool
	config       internal.ReconcileConfig
	actor        string
	logger       *slog.Logger
	now          func() time.Time

	mu    sync.Mutex
	batch *tally
}

func NewSweeper(finder PendingFinder, payments PaymentReconciler, installments InstallmentScheduler, config internal.ReconcileConfig, logger *slog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	s := &Sweeper{
		finder:       finder,
		payments:     payments,
		installments: installments,
		config:       config,
		actor:        internal.SystemActor("reconciler").String(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	s.pool = NewPool(PoolConfig{MaxWorkers: config.MaxWorkers, QueueSize: config.QueueSize}, s.process, logger)
	return s
}

// RunOnce sweeps one batch and waits for it to finish.
func (s *Sweeper) RunOnce(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stale, err := s.finder.StalePending(ctx, now.Add(-s.config.StaleAfter), s.config.BatchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Scanned: len(stale)}
	s.batch = &tally{}

	var wg sync.WaitGroup
	for _, p := range stale {
		wg.Add(1)
		job := Job{
			PaymentID: p.ID,
			Reference: p.Reference,
			Expire:    s.config.AbandonAfter > 0 && now.Sub(p.CreatedAt) >= s.config.AbandonAfter,
			Done:      wg.Done,
		}
		if err := s.pool.Submit(job); err != nil {
			wg.Done()
			summary.Skipped++
			s.logger.WarnContext(ctx, "payment left for the next sweep", "reference", p.Reference, "error", err)
		}
	}
	wg.Wait()

	summary.Completed = int(s.batch.completed.Load())
	summary.Failed = int(s.batch.failed.Load())
	summary.Pending = int(s.batch.pending.Load())
	summary.Errors = int(s.batch.errors.Load())

	if s.installments != nil {
		n, err := s.installments.MarkOverdue(ctx, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to mark overdue installments", "error", err)
		}
		summary.Overdue = n
	}

	s.logger.InfoContext(ctx, "reconcile sweep finished",
		"scanned", summary.Scanned,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"pending", summary.Pending,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"overdue", summary.Overdue)
	return summary, nil
}

// Run sweeps on every tick until ctx is cancelled, then shuts the pool down.
func (s *Sweeper) Run(ctx context.Context) error {
	defer s.Close()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "reconcile sweeper started",
		"interval", s.config.Interval,
		"stale_after", s.config.StaleAfter,
		"abandon_after", s.config.AbandonAfter)

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.ErrorContext(ctx, "reconcile sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reconcile sweeper stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) Close() {
	s.pool.Shutdown()
}

func (s *Sweeper) process(ctx context.Context, job Job) {
	defer func() {
		if job.Done != nil {
			job.Done()
		}
	}()

	var (
		res *paymentpkg.ReconcileResult
		err error
	)
	if job.Expire {
		res, err = s.payments.Expire(ctx, job.Reference, s.actor)
	} else {
		res, err = s.payments.Reconcile(ctx, job.Reference, s.actor)
	}

	batch := s.batch
	if err != nil {
		batch.errors.Add(1)
		level := slog.LevelWarn
		var appErr *internal.AppError
		if stderrors.As(err, &appErr) && appErr.Code == internal.ErrCodeAmountMismatch {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "reconcile job failed",
			"reference", job.Reference,
			"expire", job.Expire,
			"error", err)
		return
	}

	switch res.Payment.Status {
	case payment.StatusCompleted:
		batch.completed.Add(1)
	case payment.StatusFailed:
		batch.failed.Add(1)
	default:
		batch.pending.Add(1)
	}
}
