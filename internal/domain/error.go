package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Credit ledger errors
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateEvent      = errors.New("billing event already processed")
	ErrNoActivePlan        = errors.New("account has no active plan")

	// Webhook processing errors
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	ErrUserUnresolved   = errors.New("billing event matches no known account")
	ErrUnknownPriceID   = errors.New("price id maps to no plan")

	// Affiliate/payout errors
	ErrTaxFormMissing      = errors.New("affiliate has no completed tax form on file")
	ErrNothingToPay        = errors.New("affiliate has no approved commissions")
	ErrCommissionFinalized = errors.New("commission is already paid or rejected")

	// Infrastructure errors (returned by repositories)
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
