package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"propulse/internal/infra/worker"
	"propulse/internal/usecase"
)

// Submitter is the slice of worker.Pool the reconciler needs.
type Submitter interface {
	Submit(task worker.Task) error
}

// PaymentReconciler re-verifies pending payments the gateway already knows
// about, covering notifications that never arrived or were rejected.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	pool       Submitter
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, pool Submitter, interval, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{uc: uc, pool: pool, interval: interval, staleAfter: staleAfter, batch: batch, log: &l}
}

// Run blocks until ctx is done. A zero interval disables the reconciler.
func (w *PaymentReconciler) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.log.Info().Msg("payment reconciler disabled")
		return nil
	}
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass and waits for it, or for ctx. It returns how many payments were settled.
func (w *PaymentReconciler) Tick(ctx context.Context) int {
	pending, err := w.uc.ListAwaitingVerification(ctx, w.staleAfter, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list awaiting verification")
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	var (
		wg      sync.WaitGroup
		settled atomic.Int32
	)
	for _, p := range pending {
		id := p.ID
		wg.Add(1)
		err := w.pool.Submit(func(ctx context.Context) error {
			defer wg.Done()
			ok, err := w.uc.Reconcile(ctx, id)
			if err != nil {
				w.log.Warn().Err(err).Str("payment_id", id).Msg("reconcile failed")
				return nil
			}
			if ok {
				settled.Add(1)
				w.log.Info().Str("payment_id", id).Msg("payment reconciled")
			}
			return nil
		})
		if err != nil {
			// picked up again next tick
			wg.Done()
			w.log.Warn().Err(err).Str("payment_id", id).Msg("reconcile not scheduled")
		}
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		// Pool.Stop runs the queued remainder with a cancelled context, which releases wg
	}
	return int(settled.Load())
}
