package postgres

import (
	"context"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

// Prices live in NUMERIC(10,2); the model carries cents.
const planColumns = `id, name, slug, (monthly_price * 100)::BIGINT, monthly_proposals, active, display_order, features, created_at, updated_at`

func scanPlan(row pgx.Row) (*model.Plan, error) {
	p := &model.Plan{}
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.MonthlyPriceCents, &p.MonthlyProposals, &p.Active, &p.DisplayOrder, &p.Features, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	const q = `
INSERT INTO plans (id, name, slug, monthly_price, monthly_proposals, active, display_order, features, created_at, updated_at)
VALUES ($1, $2, $3, $4::BIGINT / 100.0, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE
  SET name              = EXCLUDED.name,
      slug              = EXCLUDED.slug,
      monthly_price     = EXCLUDED.monthly_price,
      monthly_proposals = EXCLUDED.monthly_proposals,
      active            = EXCLUDED.active,
      display_order     = EXCLUDED.display_order,
      features          = EXCLUDED.features,
      updated_at        = NOW();`

	features := p.Features
	if features == nil {
		features = []string{}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.Name, p.Slug, p.MonthlyPriceCents, p.MonthlyProposals, p.Active, p.DisplayOrder, features, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return writeErr(err)
	}
	return nil
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		return nil, readErr(err)
	}
	return p, nil
}

func (r *planRepo) FindBySlug(ctx context.Context, tx repository.Tx, slug string) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans WHERE slug = $1;`, slug)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		return nil, readErr(err)
	}
	return p, nil
}

func (r *planRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans ORDER BY display_order, name;`)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
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

func (r *planRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	ct, err := execSQL(ctx, r.pool, tx, `DELETE FROM plans WHERE id = $1;`, id)
	if err != nil {
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
