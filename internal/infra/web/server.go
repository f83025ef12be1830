package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dtf-editor-billing/internal/config"
	"dtf-editor-billing/internal/domain/ports/adapter"
	"dtf-editor-billing/internal/infra/redis"
	"dtf-editor-billing/internal/usecase"
)

type Server struct {
	gateway     adapter.BillingGateway
	reconcileUC usecase.ReconcileUseCase
	ledgerUC    usecase.LedgerUseCase
	affiliateUC usecase.AffiliateUseCase

	auth     *AuthManager
	adminKey string
	limiter  *redis.RateLimiter
	rlCfg    config.RateLimitConfig
	log      *zerolog.Logger

	http *http.Server
}

func NewServer(
	cfg *config.Config,
	gateway adapter.BillingGateway,
	reconcileUC usecase.ReconcileUseCase,
	ledgerUC usecase.LedgerUseCase,
	affiliateUC usecase.AffiliateUseCase,
	limiter *redis.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	s := &Server{
		gateway:     gateway,
		reconcileUC: reconcileUC,
		ledgerUC:    ledgerUC,
		affiliateUC: affiliateUC,
		auth:        NewAuthManager(cfg.Auth.JWTSecret),
		adminKey:    cfg.Auth.AdminAPIKey,
		limiter:     limiter,
		rlCfg:       cfg.RateLimit,
		log:         logger,
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      s.routes(logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return s
}

func (s *Server) routes(logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(RequestLogger(logger))
	r.Use(Recover(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Webhook endpoint: no session auth, the signature is the credential.
	r.Post("/api/webhooks/stripe", s.stripeWebhookHandler())

	// User-facing credit endpoints.
	r.Route("/api/credits", func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.Get("/balance", s.balanceHandler())
		r.Get("/history", s.historyHandler())
		r.Post("/deduct", s.deductHandler())
		r.Post("/refund", s.refundHandler())
	})

	// Admin API.
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.adminMiddleware)
		r.Post("/commissions/{id}/approve", s.commissionApproveHandler())
		r.Post("/commissions/{id}/reject", s.commissionRejectHandler())
		r.Get("/affiliates/{id}/commissions", s.commissionListHandler())
		r.Get("/affiliates/{id}/commissions.csv", s.commissionCSVHandler())
		r.Get("/affiliates/{id}/referrals.csv", s.referralCSVHandler())
		r.Post("/users/{id}/credits", s.creditAdjustHandler())
		r.Post("/payouts", s.payoutCreateHandler())
		r.Get("/payouts", s.payoutListHandler())
		r.Post("/payouts/{id}/complete", s.payoutCompleteHandler())
		r.Post("/payouts/{id}/fail", s.payoutFailHandler())
		r.Get("/payouts.csv", s.payoutCSVHandler())
	})

	return r
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims := claimsFrom(r.Context())
		key := redis.UserEndpointKey(claims.Subject, r.URL.Path)
		ok, err := s.limiter.Allow(r.Context(), key, s.rlCfg.Requests, s.rlCfg.Window)
		if err != nil {
			// Redis being down must not take the billing API with it.
			s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
