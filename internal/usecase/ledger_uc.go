package usecase

import (
	"context"
	"time"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/infra/logging"
	"propulse/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase owns every change to an account's proposal credits and plan period.
type LedgerUseCase interface {
	// CheckPlan returns the account when its plan allows generation, expiring it lazily.
	CheckPlan(ctx context.Context, accountID string) (*model.Account, error)
	Reserve(ctx context.Context, accountID string) (*model.Reservation, error)
	Refund(ctx context.Context, accountID string) error

	// ApplyActivation starts a fresh plan period for a completed first payment.
	ApplyActivation(ctx context.Context, tx repository.Tx, acc *model.Account, plan *model.Plan, p *model.Payment, now time.Time) error
	// ApplyRenewal extends the current period by one month for a recurring charge.
	ApplyRenewal(ctx context.Context, tx repository.Tx, acc *model.Account, plan *model.Plan, now time.Time) error
}

type ledgerUC struct {
	accounts repository.AccountRepository
	log      *zerolog.Logger
	now      func() time.Time
}

func NewLedgerUseCase(accounts repository.AccountRepository, logger *zerolog.Logger) *ledgerUC {
	return &ledgerUC{accounts: accounts, log: logger, now: time.Now}
}

func (u *ledgerUC) CheckPlan(ctx context.Context, accountID string) (*model.Account, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.CheckPlan")()

	acc, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, err
	}
	now := u.now()
	if acc.PlanLapsed(now) {
		// The conditional update is a no-op when a renewal landed in between.
		expired, err := u.accounts.ExpireIfLapsed(ctx, repository.NoTX, accountID, now)
		if err != nil {
			return nil, err
		}
		if expired {
			u.log.Info().Str("account_id", accountID).Msg("plan expired")
			return nil, domain.ErrPlanExpired
		}
		if acc, err = u.accounts.FindByID(ctx, repository.NoTX, accountID); err != nil {
			return nil, err
		}
	}
	switch acc.PlanStatus {
	case model.PlanStatusActive:
		return acc, nil
	case model.PlanStatusExpired:
		return nil, domain.ErrPlanExpired
	default:
		return nil, domain.ErrPlanInactive
	}
}

func (u *ledgerUC) Reserve(ctx context.Context, accountID string) (*model.Reservation, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Reserve")()

	remaining, ok, err := u.accounts.ReserveCredit(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.IncCreditReservation("exhausted")
		return nil, domain.ErrNoCredits
	}
	metrics.IncCreditReservation("reserved")
	return &model.Reservation{AccountID: accountID, Remaining: remaining, ReservedAt: u.now()}, nil
}

func (u *ledgerUC) Refund(ctx context.Context, accountID string) error {
	defer logging.TraceDuration(u.log, "LedgerUC.Refund")()

	remaining, err := u.accounts.RefundCredit(ctx, repository.NoTX, accountID)
	if err != nil {
		u.log.Error().Err(err).Str("account_id", accountID).Msg("credit refund failed")
		return err
	}
	metrics.IncCreditReservation("refunded")
	u.log.Debug().Str("account_id", accountID).Int("remaining", remaining).Msg("credit refunded")
	return nil
}

func (u *ledgerUC) ApplyActivation(ctx context.Context, tx repository.Tx, acc *model.Account, plan *model.Plan, p *model.Payment, now time.Time) error {
	defer logging.TraceDuration(u.log, "LedgerUC.ApplyActivation")()

	if acc.IsZero() || plan.IsZero() || p.IsZero() {
		return domain.ErrInvalidArgument
	}
	expires := now.AddDate(0, 1, 0)
	planID, paymentID := plan.ID, p.ID

	acc.CurrentPlan = &planID
	acc.PlanStatus = model.PlanStatusActive
	acc.PlanPurchaseDate = &now
	acc.PlanExpirationDate = &expires
	acc.LastBillingDate = &now
	acc.NextBillingDate = &expires
	acc.BillingFrequency = model.BillingFrequencyMonthly
	acc.RecurringAmountCents = p.AmountCents
	acc.CompletedBillingCycles = 1
	acc.SubscriptionID = &paymentID
	if p.SubscriptionToken != nil {
		token := *p.SubscriptionToken
		acc.SubscriptionToken = &token
	}
	acc.AvailableCredits = plan.MonthlyProposals
	acc.UpdatedAt = now

	if err := u.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	u.log.Info().Str("account_id", acc.ID).Str("plan_id", plan.ID).Int("credits", acc.AvailableCredits).Msg("plan activated")
	return nil
}

func (u *ledgerUC) ApplyRenewal(ctx context.Context, tx repository.Tx, acc *model.Account, plan *model.Plan, now time.Time) error {
	defer logging.TraceDuration(u.log, "LedgerUC.ApplyRenewal")()

	if acc.IsZero() || plan.IsZero() {
		return domain.ErrInvalidArgument
	}
	base := now
	if acc.PlanExpirationDate != nil {
		base = *acc.PlanExpirationDate
	}
	expires := base.AddDate(0, 1, 0)
	// A charge arriving long after a lapse still buys a full month.
	if expires.Before(now) {
		expires = now.AddDate(0, 1, 0)
	}
	planID := plan.ID

	acc.CurrentPlan = &planID
	acc.PlanStatus = model.PlanStatusActive
	acc.PlanExpirationDate = &expires
	acc.LastBillingDate = &now
	acc.NextBillingDate = &expires
	acc.CompletedBillingCycles++
	acc.AvailableCredits = plan.MonthlyProposals
	acc.UpdatedAt = now

	if err := u.accounts.Save(ctx, tx, acc); err != nil {
		return err
	}
	u.log.Info().Str("account_id", acc.ID).Int("cycle", acc.CompletedBillingCycles).Time("expires", expires).Msg("plan renewed")
	return nil
}
