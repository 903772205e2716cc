package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, pf_payment_id, account_id, plan_id, amount_cents, currency, status,
  verification_status, is_subscription, subscription_token, parent_payment_id, cycle_key,
  billing_cycle, requires_manual_verification, payfast_data, created_at, updated_at, completed_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var audit []byte
	if err := row.Scan(&p.ID, &p.PfPaymentID, &p.AccountID, &p.PlanID, &p.AmountCents, &p.Currency, &p.Status,
		&p.VerificationStatus, &p.IsSubscription, &p.SubscriptionToken, &p.ParentPaymentID, &p.CycleKey,
		&p.BillingCycle, &p.RequiresManualVerification, &audit, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &p.Audit); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func auditJSON(entries ...model.AuditEntry) (string, error) {
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15::jsonb,$16,$17,$18
) ON CONFLICT (cycle_key) WHERE cycle_key IS NOT NULL DO NOTHING;`
	audit, err := auditJSON(p.Audit...)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	// DO NOTHING keeps a replayed cycle from aborting the caller's transaction.
	ct, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.PfPaymentID, p.AccountID, p.PlanID, p.AmountCents, p.Currency, string(p.Status),
		string(p.VerificationStatus), p.IsSubscription, p.SubscriptionToken, p.ParentPaymentID, p.CycleKey,
		p.BillingCycle, p.RequiresManualVerification, audit, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, readErr(err)
	}
	return p, nil
}

func (r *paymentRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE account_id=$1 ORDER BY created_at DESC LIMIT $2;`
	return r.list(ctx, tx, q, accountID, limit)
}

func (r *paymentRepo) TransitionFromPending(ctx context.Context, tx repository.Tx, id string, t repository.PendingTransition) (bool, error) {
	const q = `
UPDATE payments SET
  status=$2,
  verification_status=$3,
  pf_payment_id=COALESCE($4, pf_payment_id),
  subscription_token=COALESCE($5, subscription_token),
  completed_at=COALESCE($6, completed_at),
  payfast_data=payfast_data || $7::jsonb,
  updated_at=NOW()
WHERE id=$1 AND status='pending';`
	audit, err := auditJSON(t.Audit)
	if err != nil {
		return false, domain.ErrInvalidArgument
	}
	ct, err := execSQL(ctx, r.pool, tx, q, id, string(t.Status), string(t.VerificationStatus), t.PfPaymentID, t.SubscriptionToken, t.CompletedAt, audit)
	if err != nil {
		return false, writeErr(err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *paymentRepo) AppendAudit(ctx context.Context, tx repository.Tx, id string, e model.AuditEntry, requiresManualVerification bool) error {
	const q = `
UPDATE payments SET
  payfast_data=payfast_data || $2::jsonb,
  requires_manual_verification=requires_manual_verification OR $3,
  updated_at=NOW()
WHERE id=$1;`
	audit, err := auditJSON(e)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	ct, err := execSQL(ctx, r.pool, tx, q, id, audit, requiresManualVerification)
	if err != nil {
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListAwaitingVerification(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT ` + paymentColumns + ` FROM payments
 WHERE status='pending'
   AND created_at < $1
   AND (pf_payment_id IS NOT NULL
        OR EXISTS (SELECT 1 FROM jsonb_array_elements(payfast_data) e
                    WHERE e ? 'pf_payment_id'
                      AND e->>'kind' IN ('notification','unknown_status','ignored','cycle')
                      AND NOT COALESCE((e->>'signature_mismatch')::boolean, false)))
 ORDER BY created_at
 LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
