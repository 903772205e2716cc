package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/infra/logging"
	"propulse/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// StartSubscription records a pending payment and returns the signed checkout form for it.
	StartSubscription(ctx context.Context, accountID, planID string) (*CheckoutResult, error)
	RenderCheckout(form *adapter.CheckoutForm) (string, error)
	// VerifyWithGateway asks the gateway about a pending payment owned by accountID.
	VerifyWithGateway(ctx context.Context, accountID, paymentID string) (*model.Payment, error)
	CancelSubscription(ctx context.Context, accountID string) (*model.Account, error)
	ListPayments(ctx context.Context, accountID string, limit int) ([]*model.Payment, error)

	// ListAwaitingVerification and Reconcile back the periodic reconciler.
	ListAwaitingVerification(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Payment, error)
	Reconcile(ctx context.Context, paymentID string) (bool, error)
}

// CheckoutConfig holds the public URLs the gateway redirects and posts to.
type CheckoutConfig struct {
	ServerURL string
	ClientURL string
	Currency  string
	AppTag    string
}

type CheckoutResult struct {
	Payment *model.Payment
	Form    *adapter.CheckoutForm
}

type paymentUC struct {
	cfg      CheckoutConfig
	gateway  adapter.PaymentGateway
	payments repository.PaymentRepository
	plans    repository.PlanRepository
	accounts repository.AccountRepository
	settle   *settler
	tm       repository.TransactionManager
	log      *zerolog.Logger
	now      func() time.Time
}

func NewPaymentUseCase(
	cfg CheckoutConfig,
	gateway adapter.PaymentGateway,
	payments repository.PaymentRepository,
	plans repository.PlanRepository,
	accounts repository.AccountRepository,
	ledger LedgerUseCase,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *paymentUC {
	if cfg.Currency == "" {
		cfg.Currency = "ZAR"
	}
	if cfg.AppTag == "" {
		cfg.AppTag = "propulse"
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	return &paymentUC{
		cfg:      cfg,
		gateway:  gateway,
		payments: payments,
		plans:    plans,
		accounts: accounts,
		settle:   newSettler(payments, plans, accounts, ledger, logger),
		tm:       tm,
		log:      logger,
		now:      time.Now,
	}
}

func (u *paymentUC) StartSubscription(ctx context.Context, accountID, planID string) (*CheckoutResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.StartSubscription")()

	acc, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, err
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("%w: plan %s is not available", domain.ErrInvalidArgument, plan.Slug)
	}
	if plan.MonthlyPriceCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := u.now()
	p := &model.Payment{
		ID:                 "subscription_" + ulid.Make().String(),
		AccountID:          acc.ID,
		PlanID:             plan.ID,
		AmountCents:        plan.MonthlyPriceCents,
		Currency:           u.cfg.Currency,
		Status:             model.PaymentStatusPending,
		VerificationStatus: model.VerificationPending,
		IsSubscription:     true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	form, err := u.gateway.BuildSubscriptionRequest(adapter.SubscriptionRequest{
		PaymentID:       p.ID,
		Amount:          plan.MonthlyPrice(),
		ItemName:        "ProPulse " + plan.Name,
		ItemDescription: fmt.Sprintf("%d proposals per month", plan.MonthlyProposals),
		ReturnURL:       u.cfg.ClientURL + "/payment/success",
		CancelURL:       u.cfg.ClientURL + "/payment/cancel",
		NotifyURL:       u.cfg.ServerURL + "/api/v1/payments/notify",
		NameFirst:       acc.FirstName,
		NameLast:        acc.LastName,
		Email:           acc.Email,
		CustomStr1:      acc.ID,
		CustomStr2:      plan.ID,
		CustomStr3:      u.cfg.AppTag,
		BillingDate:     now.Format("2006-01-02"),
		Frequency:       model.BillingFrequencyMonthly,
		Cycles:          0,
		Currency:        u.cfg.Currency,
	})
	if err != nil {
		return nil, err
	}
	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}

	metrics.IncPayment(string(model.PaymentStatusPending))
	u.log.Info().Str("payment_id", p.ID).Str("account_id", acc.ID).Str("plan_id", plan.ID).Msg("checkout started")
	return &CheckoutResult{Payment: p, Form: form}, nil
}

func (u *paymentUC) RenderCheckout(form *adapter.CheckoutForm) (string, error) {
	return u.gateway.RenderAutoSubmitForm(form)
}

func (u *paymentUC) VerifyWithGateway(ctx context.Context, accountID, paymentID string) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.VerifyWithGateway")()

	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, domain.ErrPaymentNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return p, nil
	}
	if _, err := u.verify(ctx, p); err != nil {
		return nil, err
	}
	return u.payments.FindByID(ctx, repository.NoTX, paymentID)
}

// verify checks p with the gateway outside any transaction, then settles it under the row lock.
func (u *paymentUC) verify(ctx context.Context, p *model.Payment) (bool, error) {
	pfID, token := p.GatewayRef()
	if pfID == "" {
		return false, domain.ErrPaymentNotVerifiable
	}
	valid, err := u.gateway.VerifyPayment(ctx, pfID)
	if err != nil {
		return false, err
	}

	now := u.now()
	entry := model.AuditEntry{Kind: model.AuditGatewayVerify, At: now, PfPaymentID: pfID}
	if !valid {
		entry.Note = "rejected"
		return false, u.payments.AppendAudit(ctx, repository.NoTX, p.ID, entry, true)
	}
	entry.Note = "valid"

	var settled bool
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		locked, err := u.payments.FindByID(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if locked.Status != model.PaymentStatusPending {
			return nil
		}
		settled, err = u.settle.complete(ctx, tx, locked, pfID, token, entry, now)
		return err
	})
	if err != nil {
		return false, err
	}
	return settled, nil
}

func (u *paymentUC) CancelSubscription(ctx context.Context, accountID string) (*model.Account, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CancelSubscription")()

	acc, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, err
	}
	if acc.SubscriptionToken == nil || *acc.SubscriptionToken == "" {
		return nil, domain.ErrNoSubscription
	}
	ok, err := u.gateway.CancelSubscription(ctx, *acc.SubscriptionToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: subscription cancel refused", domain.ErrMissingGatewayResponse)
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		locked, err := u.accounts.FindByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		locked.PlanStatus = model.PlanStatusCancelled
		locked.NextBillingDate = nil
		locked.UpdatedAt = u.now()
		if err := u.accounts.Save(ctx, tx, locked); err != nil {
			return err
		}
		acc = locked
		return nil
	})
	if err != nil {
		// The gateway already stopped billing; the account row is what needs fixing.
		u.log.Error().Err(err).Str("account_id", accountID).Msg("subscription cancelled at gateway but not locally")
		return nil, err
	}
	u.log.Info().Str("account_id", accountID).Msg("subscription cancelled")
	return acc, nil
}

func (u *paymentUC) ListPayments(ctx context.Context, accountID string, limit int) ([]*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ListPayments")()
	return u.payments.ListByAccount(ctx, repository.NoTX, accountID, limit)
}

func (u *paymentUC) ListAwaitingVerification(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Payment, error) {
	return u.payments.ListAwaitingVerification(ctx, repository.NoTX, u.now().Add(-olderThan), limit)
}

func (u *paymentUC) Reconcile(ctx context.Context, paymentID string) (bool, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Reconcile")()

	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return false, err
	}
	if p.Status != model.PaymentStatusPending {
		return false, nil
	}
	return u.verify(ctx, p)
}
