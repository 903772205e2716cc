package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
)

var _ repository.AccountRepository = (*accountRepo)(nil)

type accountRepo struct{ pool *pgxpool.Pool }

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

const accountColumns = `id, email, first_name, last_name, role, available_credits,
  current_plan, plan_status, plan_purchase_date, plan_expiration_date,
  last_billing_date, next_billing_date, billing_frequency, recurring_amount_cents,
  completed_billing_cycles, subscription_id, subscription_token, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Role, &a.AvailableCredits,
		&a.CurrentPlan, &a.PlanStatus, &a.PlanPurchaseDate, &a.PlanExpirationDate,
		&a.LastBillingDate, &a.NextBillingDate, &a.BillingFrequency, &a.RecurringAmountCents,
		&a.CompletedBillingCycles, &a.SubscriptionID, &a.SubscriptionToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Save upserts the profile and plan columns. available_credits is written too,
// so callers must hold the row lock (FindByID inside a tx) when they use it.
func (r *accountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	const q = `
INSERT INTO accounts (` + accountColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
) ON CONFLICT (id) DO UPDATE SET
  email=$2, first_name=$3, last_name=$4, role=$5, available_credits=$6,
  current_plan=$7, plan_status=$8, plan_purchase_date=$9, plan_expiration_date=$10,
  last_billing_date=$11, next_billing_date=$12, billing_frequency=$13, recurring_amount_cents=$14,
  completed_billing_cycles=$15, subscription_id=$16, subscription_token=$17, updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.Email, a.FirstName, a.LastName, string(a.Role), a.AvailableCredits,
		a.CurrentPlan, string(a.PlanStatus), a.PlanPurchaseDate, a.PlanExpirationDate,
		a.LastBillingDate, a.NextBillingDate, a.BillingFrequency, a.RecurringAmountCents,
		a.CompletedBillingCycles, a.SubscriptionID, a.SubscriptionToken, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return writeErr(err)
	}
	return nil
}

func (r *accountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	q := forUpdate(`SELECT `+accountColumns+` FROM accounts WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	a, err := scanAccount(row)
	if err != nil {
		return nil, readErr(err)
	}
	return a, nil
}

func (r *accountRepo) ReserveCredit(ctx context.Context, tx repository.Tx, id string) (int, bool, error) {
	const q = `
UPDATE accounts
   SET available_credits = available_credits - 1, updated_at = NOW()
 WHERE id = $1 AND available_credits > 0
RETURNING available_credits;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return 0, false, err
	}
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, domain.ErrOperationFailed
	}
	return remaining, true, nil
}

func (r *accountRepo) RefundCredit(ctx context.Context, tx repository.Tx, id string) (int, error) {
	const q = `
UPDATE accounts
   SET available_credits = available_credits + 1, updated_at = NOW()
 WHERE id = $1
RETURNING available_credits;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return 0, err
	}
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, domain.ErrOperationFailed
	}
	return remaining, nil
}

func (r *accountRepo) ExpireIfLapsed(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	const q = `
UPDATE accounts
   SET plan_status = 'expired', available_credits = 0, updated_at = NOW()
 WHERE id = $1
   AND plan_status = 'active'
   AND plan_expiration_date IS NOT NULL
   AND plan_expiration_date < $2;`
	ct, err := execSQL(ctx, r.pool, tx, q, id, now)
	if err != nil {
		return false, writeErr(err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *accountRepo) CountActiveOnPlan(ctx context.Context, tx repository.Tx, planID string) (int, error) {
	const q = `SELECT COUNT(*) FROM accounts WHERE current_plan=$1 AND plan_status='active';`
	row, err := pickRow(ctx, r.pool, tx, q, planID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
