package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dtf-editor-billing/internal/domain"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/infra/logging"
)

type deductRequest struct {
	Credits   int64  `json:"credits"`
	Operation string `json:"operation"`
	SessionID string `json:"session_id"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

func (s *Server) deductHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		ctx := logging.WithUserID(r.Context(), claims.Subject)

		var req deductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		balance, err := s.ledgerUC.Deduct(ctx, claims.Subject, req.Credits, req.Operation)
		if err != nil {
			switch err {
			case domain.ErrInvalidArgument:
				http.Error(w, "Invalid amount or operation", http.StatusBadRequest)
			case domain.ErrInsufficientCredits:
				http.Error(w, "Insufficient credits", http.StatusPaymentRequired)
			case domain.ErrNotFound:
				http.Error(w, "Account not found", http.StatusNotFound)
			default:
				http.Error(w, "Failed to deduct credits", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
	}
}

func (s *Server) refundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		ctx := logging.WithUserID(r.Context(), claims.Subject)

		var req deductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		balance, err := s.ledgerUC.Refund(ctx, claims.Subject, req.Credits, req.Operation, req.SessionID)
		if err != nil {
			switch err {
			case domain.ErrInvalidArgument:
				http.Error(w, "Invalid amount or operation", http.StatusBadRequest)
			case domain.ErrNotFound:
				http.Error(w, "Account not found", http.StatusNotFound)
			default:
				http.Error(w, "Failed to refund credits", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
	}
}

func (s *Server) balanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())

		balance, err := s.ledgerUC.Balance(r.Context(), claims.Subject)
		if err != nil {
			if err == domain.ErrNotFound {
				http.Error(w, "Account not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to get balance", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
	}
}

type historyEntry struct {
	ID          string     `json:"id"`
	Amount      int64      `json:"amount"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		entries, err := s.ledgerUC.History(r.Context(), claims.Subject, offset, limit)
		if err != nil {
			http.Error(w, "Failed to get history", http.StatusInternalServerError)
			return
		}

		out := make([]historyEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, toHistoryEntry(e))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
	}
}

func toHistoryEntry(e *model.LedgerEntry) historyEntry {
	return historyEntry{
		ID:          e.ID,
		Amount:      e.Amount,
		Type:        string(e.Type),
		Description: e.Description,
		ExpiresAt:   e.ExpiresAt,
		CreatedAt:   e.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
