package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/infra/logging"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

type PlanUseCase interface {
	Create(ctx context.Context, in PlanInput) (*model.Plan, error)
	Update(ctx context.Context, id string, in PlanInput) (*model.Plan, error)
	// Delete refuses plans that still have active subscribers.
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Plan, error)
	ListActive(ctx context.Context) ([]*model.Plan, error)
	ListAll(ctx context.Context) ([]*model.Plan, error)
}

// PlanInput is the editable part of a plan. A nil Active keeps the current value.
type PlanInput struct {
	Name              string
	Slug              string
	MonthlyPriceCents int64
	MonthlyProposals  int
	DisplayOrder      int
	Features          []string
	Active            *bool
}

type planUC struct {
	plans    repository.PlanRepository
	accounts repository.AccountRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewPlanUseCase(plans repository.PlanRepository, accounts repository.AccountRepository, tm repository.TransactionManager, logger *zerolog.Logger) *planUC {
	return &planUC{plans: plans, accounts: accounts, tm: tm, log: logger}
}

func (u *planUC) Create(ctx context.Context, in PlanInput) (*model.Plan, error) {
	defer logging.TraceDuration(u.log, "PlanUC.Create")()

	p, err := model.NewPlan("", in.Name, in.Slug, in.MonthlyPriceCents, in.MonthlyProposals, in.DisplayOrder, cleanFeatures(in.Features))
	if err != nil {
		return nil, err
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	if err := u.plans.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	u.log.Info().Str("plan_id", p.ID).Str("slug", p.Slug).Msg("plan created")
	return p, nil
}

func (u *planUC) Update(ctx context.Context, id string, in PlanInput) (*model.Plan, error) {
	defer logging.TraceDuration(u.log, "PlanUC.Update")()

	current, err := u.plans.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	next, err := model.NewPlan(current.ID, in.Name, in.Slug, in.MonthlyPriceCents, in.MonthlyProposals, in.DisplayOrder, cleanFeatures(in.Features))
	if err != nil {
		return nil, err
	}
	next.Active = current.Active
	if in.Active != nil {
		next.Active = *in.Active
	}
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now()
	if err := u.plans.Save(ctx, repository.NoTX, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (u *planUC) Delete(ctx context.Context, id string) error {
	defer logging.TraceDuration(u.log, "PlanUC.Delete")()

	return u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx repository.Tx) error {
		n, err := u.accounts.CountActiveOnPlan(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrPlanInUse
		}
		if err := u.plans.Delete(ctx, tx, id); err != nil {
			return err
		}
		u.log.Info().Str("plan_id", id).Msg("plan deleted")
		return nil
	})
}

func (u *planUC) Get(ctx context.Context, id string) (*model.Plan, error) {
	defer logging.TraceDuration(u.log, "PlanUC.Get")()
	return u.plans.FindByID(ctx, repository.NoTX, id)
}

func (u *planUC) ListActive(ctx context.Context) ([]*model.Plan, error) {
	defer logging.TraceDuration(u.log, "PlanUC.ListActive")()

	all, err := u.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Plan, 0, len(all))
	for _, p := range all {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (u *planUC) ListAll(ctx context.Context) ([]*model.Plan, error) {
	plans, err := u.plans.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].DisplayOrder != plans[j].DisplayOrder {
			return plans[i].DisplayOrder < plans[j].DisplayOrder
		}
		return plans[i].Name < plans[j].Name
	})
	return plans, nil
}

func cleanFeatures(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
