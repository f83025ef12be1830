package model

import (
	"time"

	"dtf-editor-billing/internal/domain"
)

type OutboxKind string

const (
	OutboxKindSubscriptionEmail  OutboxKind = "email.subscription"
	OutboxKindPurchaseEmail      OutboxKind = "email.purchase"
	OutboxKindRefundEmail        OutboxKind = "email.refund"
	OutboxKindTrialReminderEmail OutboxKind = "email.trial_reminder"
	OutboxKindExpiryWarningEmail OutboxKind = "email.credit_expiry_warning"
	OutboxKindCRMTag             OutboxKind = "crm.tag"
	OutboxKindAffiliateComm      OutboxKind = "affiliate.commission"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusDone    OutboxStatus = "done"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxTask is one best-effort side effect enqueued in the same transaction
// as the core ledger/summary mutation it follows. Tasks are dispatched by a
// background worker; their failure is logged and capped, never surfaced to
// the webhook caller.
type OutboxTask struct {
	ID        string // ULID
	Kind      OutboxKind
	UserID    string
	Payload   map[string]interface{}
	Status    OutboxStatus
	Attempts  int
	LastError string
	RunAfter  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewOutboxTask(id string, kind OutboxKind, userID string, payload map[string]interface{}) (*OutboxTask, error) {
	if id == "" || kind == "" || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &OutboxTask{
		ID:        id,
		Kind:      kind,
		UserID:    userID,
		Payload:   payload,
		Status:    OutboxStatusPending,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
