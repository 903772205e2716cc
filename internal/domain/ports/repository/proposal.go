package repository

import (
	"context"

	"propulse/internal/domain/model"
)

type ProposalRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Proposal) error
	ListByAccount(ctx context.Context, tx Tx, accountID string, offset, limit int) ([]*model.Proposal, error)
}
