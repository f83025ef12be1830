package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/infra/worker"
	"dtf-editor-billing/internal/usecase"
)

// OutboxWorker drains the side-effect queue on a fixed tick. Dispatch runs on
// the shared pool so one slow email cannot stall the tick loop.
type OutboxWorker struct {
	interval time.Duration
	batch    int
	outboxUC usecase.OutboxUseCase
	pool     *worker.Pool
	log      *zerolog.Logger
}

func NewOutboxWorker(interval time.Duration, batch int, outboxUC usecase.OutboxUseCase, pool *worker.Pool, logger *zerolog.Logger) *OutboxWorker {
	obLog := logger.With().Str("component", "OutboxWorker").Logger()
	return &OutboxWorker{
		interval: interval,
		batch:    batch,
		outboxUC: outboxUC,
		pool:     pool,
		log:      &obLog,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting outbox worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping outbox worker")
			return ctx.Err()
		case <-ticker.C:
			if err := w.pool.Submit(func(ctx context.Context) error {
				n, err := w.outboxUC.DispatchDue(ctx, w.batch)
				if n > 0 {
					w.log.Debug().Int("count", n).Msg("outbox tasks dispatched")
				}
				return err
			}); err != nil {
				w.log.Warn().Err(err).Msg("outbox dispatch not scheduled")
			}
		}
	}
}
