package model

import (
	"time"

	"dtf-editor-billing/internal/domain"
)

type TransactionType string

const (
	TransactionTypeSubscription TransactionType = "subscription"
	TransactionTypeRenewal      TransactionType = "subscription_renewal"
	TransactionTypeUpgrade      TransactionType = "subscription_upgrade"
	TransactionTypePurchase     TransactionType = "purchase"
	TransactionTypeUsage        TransactionType = "usage"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeAdjustment   TransactionType = "adjustment" // manual admin credit change
	TransactionTypeExpiry       TransactionType = "expiry"     // pay-as-you-go credits past their expiry
)

// GrantBearing reports whether entries of this type are covered by the
// (event_id, transaction_type) uniqueness rule. Exactly one grant may exist
// per originating provider event.
func (t TransactionType) GrantBearing() bool {
	switch t {
	case TransactionTypeSubscription, TransactionTypeRenewal, TransactionTypeUpgrade,
		TransactionTypePurchase, TransactionTypeRefund:
		return true
	default:
		return false
	}
}

// LedgerEntry is one immutable row of the credit ledger. Amount is signed:
// positive rows grant credits, negative rows consume or claw them back. The
// amount recorded is always the delta actually applied to the balance, which
// may differ from the requested delta when the floor-at-zero clamp engages.
type LedgerEntry struct {
	ID          string // ULID, sortable by creation time
	UserID      string
	Amount      int64
	Type        TransactionType
	Description string
	EventID     *string // originating provider event/session id; idempotency key for grants
	ExpiresAt   *time.Time
	Metadata    map[string]interface{} // audit bag: session ids, amounts paid, refs (JSONB in DB)
	CreatedAt   time.Time
}

func NewLedgerEntry(id, userID string, amount int64, txType TransactionType, description string) (*LedgerEntry, error) {
	if id == "" || userID == "" || txType == "" {
		return nil, domain.ErrInvalidArgument
	}
	if amount == 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &LedgerEntry{
		ID:          id,
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now(),
	}, nil
}
