package usecase

import (
	"context"
	"errors"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/infra/logging"
	"propulse/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ AccountUseCase = (*accountUC)(nil)

type AccountUseCase interface {
	Register(ctx context.Context, id, email, firstName, lastName string, role model.Role) (*model.Account, error)
	// Get never reports an active plan past its expiration date.
	Get(ctx context.Context, id string) (*model.Account, error)
}

type accountUC struct {
	accounts repository.AccountRepository
	ledger   LedgerUseCase
	log      *zerolog.Logger
}

func NewAccountUseCase(accounts repository.AccountRepository, ledger LedgerUseCase, logger *zerolog.Logger) *accountUC {
	return &accountUC{accounts: accounts, ledger: ledger, log: logger}
}

func (u *accountUC) Register(ctx context.Context, id, email, firstName, lastName string, role model.Role) (*model.Account, error) {
	defer logging.TraceDuration(u.log, "AccountUC.Register")()

	if id != "" {
		if existing, err := u.accounts.FindByID(ctx, repository.NoTX, id); err == nil {
			return existing, domain.ErrAlreadyExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	acc, err := model.NewAccount(id, email, firstName, lastName, role)
	if err != nil {
		return nil, err
	}
	if err := u.accounts.Save(ctx, repository.NoTX, acc); err != nil {
		return nil, err
	}
	metrics.IncAccountsRegistered()
	u.log.Info().Str("account_id", acc.ID).Str("role", string(acc.Role)).Msg("account registered")
	return acc, nil
}

func (u *accountUC) Get(ctx context.Context, id string) (*model.Account, error) {
	defer logging.TraceDuration(u.log, "AccountUC.Get")()

	// CheckPlan runs the lazy expiry; its plan errors are not errors for a read.
	if _, err := u.ledger.CheckPlan(ctx, id); err != nil &&
		!errors.Is(err, domain.ErrPlanExpired) && !errors.Is(err, domain.ErrPlanInactive) {
		return nil, err
	}
	return u.accounts.FindByID(ctx, repository.NoTX, id)
}
