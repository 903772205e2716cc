package usecase

import (
	"context"
	"time"

	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// settler completes a pending first payment and activates its plan. It is shared
// by the notification path and by explicit gateway verification.
type settler struct {
	payments repository.PaymentRepository
	plans    repository.PlanRepository
	accounts repository.AccountRepository
	ledger   LedgerUseCase
	log      *zerolog.Logger
}

func newSettler(payments repository.PaymentRepository, plans repository.PlanRepository, accounts repository.AccountRepository, ledger LedgerUseCase, logger *zerolog.Logger) *settler {
	return &settler{payments: payments, plans: plans, accounts: accounts, ledger: ledger, log: logger}
}

// complete moves p from pending to completed and activates the plan in the same tx.
// ok=false means another delivery completed it first; nothing was granted.
func (s *settler) complete(ctx context.Context, tx repository.Tx, p *model.Payment, pfID, token string, audit model.AuditEntry, now time.Time) (bool, error) {
	ok, err := s.payments.TransitionFromPending(ctx, tx, p.ID, repository.PendingTransition{
		Status:             model.PaymentStatusCompleted,
		VerificationStatus: model.VerificationVerified,
		PfPaymentID:        optional(pfID),
		SubscriptionToken:  optional(token),
		CompletedAt:        &now,
		Audit:              audit,
	})
	if err != nil || !ok {
		return false, err
	}

	p.Status = model.PaymentStatusCompleted
	p.VerificationStatus = model.VerificationVerified
	p.CompletedAt = &now
	if pfID != "" {
		p.PfPaymentID = &pfID
	}
	if token != "" {
		p.SubscriptionToken = &token
	}

	plan, err := s.plans.FindByID(ctx, tx, p.PlanID)
	if err != nil {
		return false, err
	}
	acc, err := s.accounts.FindByID(ctx, tx, p.AccountID)
	if err != nil {
		return false, err
	}
	if err := s.ledger.ApplyActivation(ctx, tx, acc, plan, p, now); err != nil {
		return false, err
	}

	metrics.IncPayment(string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(p.Currency, p.AmountCents)
	s.log.Info().Str("payment_id", p.ID).Str("account_id", acc.ID).Str("plan_id", plan.ID).Msg("payment completed")
	return true, nil
}
