package web

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/infra/logging"
	"dtf-editor-billing/internal/infra/metrics"
)

const maxWebhookBody = 1 << 20 // Stripe caps event payloads well under 1 MiB

// stripeWebhookHandler verifies and reconciles one provider event.
//
// Response contract: 2xx acknowledges the event and stops redelivery, so
// duplicates and orphaned events return 200. Signature failures return 400.
// Anything that should be retried (storage down, provider API error) returns
// 500 and leans on the provider's redelivery.
func (s *Server) stripeWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// The signature covers the exact byte stream; read before any decode.
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		ev, err := s.gateway.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			metrics.IncWebhookEvent("unknown", "signature_invalid")
			s.log.Warn().Err(err).Msg("webhook signature verification failed")
			http.Error(w, "Invalid signature", http.StatusBadRequest)
			return
		}

		ctx := logging.WithEventID(r.Context(), ev.ID)
		log := logging.With(ctx, s.log)
		eventType := string(ev.Type)

		err = s.reconcileUC.HandleEvent(ctx, ev)
		metrics.ObserveWebhookDuration(eventType, time.Since(start).Seconds())

		switch {
		case err == nil:
			metrics.IncWebhookEvent(eventType, "ok")
		case err == domain.ErrDuplicateEvent:
			// Redelivery of an already-applied event: acknowledge.
			metrics.IncWebhookEvent(eventType, "duplicate")
			log.Info().Str("type", eventType).Msg("duplicate event acknowledged")
		case err == domain.ErrUserUnresolved:
			// No account matches; retrying will not change that.
			metrics.IncWebhookEvent(eventType, "orphaned")
			log.Warn().Str("type", eventType).Msg("orphaned event, no matching account")
		case err == domain.ErrUnknownPriceID:
			metrics.IncWebhookEvent(eventType, "unknown_price")
			log.Error().Str("type", eventType).Msg("event references unmapped price id")
		default:
			metrics.IncWebhookEvent(eventType, "error")
			log.Error().Err(err).Str("type", eventType).Msg("event reconciliation failed")
			http.Error(w, "Reconciliation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
	}
}
