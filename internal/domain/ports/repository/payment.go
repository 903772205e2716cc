package repository

import (
	"context"
	"time"

	"propulse/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// PendingTransition describes the single allowed move out of the pending state.
type PendingTransition struct {
	Status             model.PaymentStatus
	VerificationStatus model.VerificationStatus
	PfPaymentID        *string
	SubscriptionToken  *string
	CompletedAt        *time.Time
	Audit              model.AuditEntry
}

type PaymentRepository interface {
	// Create inserts a new payment. A cycle_key collision returns domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, p *model.Payment) error
	// FindByID loads a payment by m_payment_id, locking the row when tx is a real transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	ListByAccount(ctx context.Context, tx Tx, accountID string, limit int) ([]*model.Payment, error)

	// TransitionFromPending applies t only while the payment is still pending.
	// ok=false means another delivery already moved it.
	TransitionFromPending(ctx context.Context, tx Tx, id string, t PendingTransition) (ok bool, err error)
	// AppendAudit adds an entry to the payment's audit trail without touching its status.
	AppendAudit(ctx context.Context, tx Tx, id string, e model.AuditEntry, requiresManualVerification bool) error

	// ListAwaitingVerification returns pending payments older than the cutoff that
	// carry a gateway payment id in their audit trail.
	ListAwaitingVerification(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}
