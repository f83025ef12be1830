package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/usecase"
)

// ExpiryWorker zeroes pay-as-you-go balances whose expiry clock has passed
// and queues warning emails ahead of the cutoff. Warnings run at most once
// per day to keep the mail volume bounded.
type ExpiryWorker struct {
	interval   time.Duration
	warnWindow time.Duration
	batch      int
	ledgerUC   usecase.LedgerUseCase
	log        *zerolog.Logger

	lastWarn time.Time
}

func NewExpiryWorker(interval time.Duration, warnWindow time.Duration, batch int, ledgerUC usecase.LedgerUseCase, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval:   interval,
		warnWindow: warnWindow,
		batch:      batch,
		ledgerUC:   ledgerUC,
		log:        &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()

			n, err := w.ledgerUC.ExpireDueCredits(ctx, now, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("credit expiry pass failed")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("expired pay-as-you-go balances")
			}

			if now.Sub(w.lastWarn) >= 24*time.Hour {
				warned, err := w.ledgerUC.EnqueueExpiryWarnings(ctx, now, w.warnWindow, w.batch)
				if err != nil {
					w.log.Error().Err(err).Msg("expiry warning pass failed")
				} else {
					w.lastWarn = now
					if warned > 0 {
						w.log.Info().Int("count", warned).Msg("queued expiry warnings")
					}
				}
			}
		}
	}
}
