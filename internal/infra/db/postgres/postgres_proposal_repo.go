package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
)

var _ repository.ProposalRepository = (*proposalRepo)(nil)

type proposalRepo struct{ pool *pgxpool.Pool }

func NewProposalRepo(pool *pgxpool.Pool) *proposalRepo {
	return &proposalRepo{pool: pool}
}

func (r *proposalRepo) Save(ctx context.Context, tx repository.Tx, p *model.Proposal) error {
	const q = `
INSERT INTO proposals (id, account_id, job_title, job_description, tone, content, provider, model, prompt_tokens, completion_tokens, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.AccountID, p.JobTitle, p.JobDescription, p.Tone, p.Content, p.Provider, p.Model, p.PromptTokens, p.CompletionTokens, p.CreatedAt)
	if err != nil {
		return writeErr(err)
	}
	return nil
}

func (r *proposalRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, offset, limit int) ([]*model.Proposal, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const q = `
SELECT id, account_id, job_title, job_description, tone, content, provider, model, prompt_tokens, completion_tokens, created_at
  FROM proposals
 WHERE account_id=$1
 ORDER BY created_at DESC
 OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID, offset, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Proposal
	for rows.Next() {
		p := &model.Proposal{}
		if err := rows.Scan(&p.ID, &p.AccountID, &p.JobTitle, &p.JobDescription, &p.Tone, &p.Content, &p.Provider, &p.Model, &p.PromptTokens, &p.CompletionTokens, &p.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
