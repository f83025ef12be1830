package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dtf-editor-billing/internal/config"
	pg "dtf-editor-billing/internal/infra/db/postgres"
	"dtf-editor-billing/internal/infra/logging"
	"dtf-editor-billing/internal/infra/metrics"
	"dtf-editor-billing/internal/infra/notify"
	red "dtf-editor-billing/internal/infra/redis"
	"dtf-editor-billing/internal/infra/sched"
	stripegw "dtf-editor-billing/internal/infra/stripe"
	"dtf-editor-billing/internal/infra/web"
	"dtf-editor-billing/internal/infra/worker"
	"dtf-editor-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	txm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	accountRepo := pg.NewAccountRepo(pool)
	ledgerRepo := pg.NewLedgerRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	affiliateRepo := pg.NewAffiliateRepo(pool)
	commissionRepo := pg.NewCommissionRepo(pool)
	payoutRepo := pg.NewPayoutRepo(pool)
	outboxRepo := pg.NewOutboxRepo(pool)

	// ---- Adapters ----
	gateway := stripegw.NewGateway(&cfg.Stripe)
	mailer := notify.NewHTTPMailer(&cfg.Email)
	crm := notify.NewCRMClient(&cfg.CRM)

	// ---- Use cases ----
	ledgerUC := usecase.NewLedgerUseCase(accountRepo, ledgerRepo, outboxRepo, txm, logger)
	reconcileUC := usecase.NewReconcileUseCase(accountRepo, ledgerRepo, planRepo, outboxRepo, txm, gateway, logger, cfg.Credits.PAYGExpiryDays)
	affiliateUC := usecase.NewAffiliateUseCase(affiliateRepo, commissionRepo, payoutRepo, accountRepo, txm, logger)
	outboxUC := usecase.NewOutboxUseCase(outboxRepo, accountRepo, mailer, crm, affiliateUC, logger, cfg.Outbox.TaskTimeout, cfg.Outbox.MaxAttempts)

	// ---- Workers ----
	pool2 := worker.NewPool(cfg.Outbox.Workers, logger)
	pool2.Start(ctx)
	defer pool2.Stop()

	outboxWorker := sched.NewOutboxWorker(cfg.Outbox.Interval, cfg.Outbox.BatchSize, outboxUC, pool2, logger)
	go func() {
		if err := outboxWorker.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("outbox worker stopped")
		}
	}()

	warnWindow := time.Duration(cfg.Credits.ExpiryWarningDays) * 24 * time.Hour
	expiryWorker := sched.NewExpiryWorker(time.Hour, warnWindow, 500, ledgerUC, logger)
	go func() {
		if err := expiryWorker.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("expiry worker stopped")
		}
	}()

	// ---- HTTP server ----
	server := web.NewServer(cfg, gateway, reconcileUC, ledgerUC, affiliateUC, rateLimiter, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
