package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
)

func (s *Server) commissionApproveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.commissionStatusUpdate(w, r, s.affiliateUC.ApproveCommission)
	}
}

func (s *Server) commissionRejectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.commissionStatusUpdate(w, r, s.affiliateUC.RejectCommission)
	}
}

func (s *Server) commissionStatusUpdate(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing commission id", http.StatusBadRequest)
		return
	}
	if err := apply(r.Context(), id); err != nil {
		switch err {
		case domain.ErrNotFound:
			http.Error(w, "Commission not found", http.StatusNotFound)
		case domain.ErrCommissionFinalized:
			http.Error(w, "Commission already paid", http.StatusConflict)
		default:
			http.Error(w, "Failed to update commission", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) commissionListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		affiliateID := chi.URLParam(r, "id")
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		comms, err := s.affiliateUC.ListCommissions(r.Context(), affiliateID, offset, limit)
		if err != nil {
			http.Error(w, "Failed to list commissions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": comms})
	}
}

func (s *Server) commissionCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		affiliateID := chi.URLParam(r, "id")
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="commissions.csv"`)
		if err := s.affiliateUC.WriteCommissionsCSV(r.Context(), affiliateID, w); err != nil {
			s.log.Error().Err(err).Msg("commission csv export failed")
		}
	}
}

type payoutCreateRequest struct {
	AffiliateID   string `json:"affiliate_id"`
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
	CreatedBy     string `json:"created_by"`
}

func (s *Server) payoutCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payoutCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		method := model.PaymentMethod(req.PaymentMethod)
		if method != model.PaymentMethodPayPal && method != model.PaymentMethodCheck {
			http.Error(w, "Unsupported payment method", http.StatusBadRequest)
			return
		}

		payout, err := s.affiliateUC.CreatePayout(r.Context(), req.AffiliateID, method, req.Notes, req.CreatedBy)
		if err != nil {
			switch err {
			case domain.ErrNotFound:
				http.Error(w, "Affiliate not found", http.StatusNotFound)
			case domain.ErrTaxFormMissing:
				http.Error(w, "Affiliate has no completed tax form", http.StatusPreconditionFailed)
			case domain.ErrNothingToPay:
				http.Error(w, "No approved commissions to pay", http.StatusConflict)
			default:
				http.Error(w, "Failed to create payout", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, payout)
	}
}

func (s *Server) payoutListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payouts, err := s.affiliateUC.ListPayouts(r.Context())
		if err != nil {
			http.Error(w, "Failed to list payouts", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": payouts})
	}
}

type payoutCompleteRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) payoutCompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req payoutCompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.affiliateUC.CompletePayout(r.Context(), id, req.TransactionID); err != nil {
			if err == domain.ErrNotFound {
				http.Error(w, "Payout not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to complete payout", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) payoutFailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.affiliateUC.FailPayout(r.Context(), id); err != nil {
			if err == domain.ErrNotFound {
				http.Error(w, "Payout not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to mark payout failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) referralCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		affiliateID := chi.URLParam(r, "id")
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="referrals.csv"`)
		if err := s.affiliateUC.WriteReferralsCSV(r.Context(), affiliateID, w); err != nil {
			s.log.Error().Err(err).Msg("referral csv export failed")
		}
	}
}

type creditAdjustRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
	Admin  string `json:"admin"`
}

func (s *Server) creditAdjustHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		var req creditAdjustRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		balance, err := s.ledgerUC.Adjust(r.Context(), userID, req.Amount, req.Reason, req.Admin)
		if err != nil {
			switch err {
			case domain.ErrInvalidArgument:
				http.Error(w, "Invalid amount or reason", http.StatusBadRequest)
			case domain.ErrNotFound:
				http.Error(w, "Account not found", http.StatusNotFound)
			case domain.ErrInsufficientCredits:
				http.Error(w, "Adjustment would drive the balance negative", http.StatusConflict)
			default:
				http.Error(w, "Failed to adjust credits", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
	}
}

func (s *Server) payoutCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="payouts.csv"`)
		if err := s.affiliateUC.WritePayoutsCSV(r.Context(), w); err != nil {
			s.log.Error().Err(err).Msg("payout csv export failed")
		}
	}
}
