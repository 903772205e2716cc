package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Ledger / generation
	ErrNoCredits        = errors.New("no proposal credits left: upgrade your plan or wait for renewal")
	ErrPlanInactive     = errors.New("no active plan")
	ErrPlanExpired      = errors.New("plan has expired")
	ErrGenerationFailed = errors.New("proposal generation failed, please try again")
	ErrRateLimited      = errors.New("too many requests")

	// Plans
	ErrPlanInUse = errors.New("plan has active subscribers")

	// Payments / gateway
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrMalformedNotification  = errors.New("malformed payment notification")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrNoSubscription         = errors.New("account has no gateway subscription")
	ErrPaymentNotVerifiable   = errors.New("payment has no gateway reference to verify")
	ErrLockNotAcquired        = errors.New("lock not acquired")
	ErrMissingGatewayResponse = errors.New("unexpected gateway response")
)
