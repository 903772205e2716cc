package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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
var _ WebhookUseCase = (*webhookUC)(nil)

// Outcome is what a notification did to the payment. Every outcome is acknowledged with 200.
type Outcome string

const (
	OutcomeActivated         Outcome = "activated"
	OutcomeRenewed           Outcome = "renewed"
	OutcomeFailed            Outcome = "failed"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeSignatureMismatch Outcome = "signature_mismatch"
	OutcomeUnknownStatus     Outcome = "unknown_status"
)

// Gateway payment_status values.
const (
	gatewayComplete  = "COMPLETE"
	gatewayFailed    = "FAILED"
	gatewayCancelled = "CANCELLED"
)

type NotificationResult struct {
	Outcome   Outcome
	PaymentID string
	AccountID string
}

// WebhookUseCase consumes asynchronous gateway notifications.
type WebhookUseCase interface {
	// HandleNotification returns domain.ErrMalformedNotification for unparsable bodies,
	// domain.ErrPaymentNotFound for unknown payments, and any other error for
	// internal failures the gateway should retry.
	HandleNotification(ctx context.Context, raw []byte) (*NotificationResult, error)
}

type webhookUC struct {
	gateway  adapter.PaymentGateway
	payments repository.PaymentRepository
	settle   *settler
	tm       repository.TransactionManager
	locker   Locker // optional
	log      *zerolog.Logger
	now      func() time.Time
}

func NewWebhookUseCase(
	gateway adapter.PaymentGateway,
	payments repository.PaymentRepository,
	plans repository.PlanRepository,
	accounts repository.AccountRepository,
	ledger LedgerUseCase,
	tm repository.TransactionManager,
	locker Locker,
	logger *zerolog.Logger,
) *webhookUC {
	return &webhookUC{
		gateway:  gateway,
		payments: payments,
		settle:   newSettler(payments, plans, accounts, ledger, logger),
		tm:       tm,
		locker:   locker,
		log:      logger,
		now:      time.Now,
	}
}

func (u *webhookUC) HandleNotification(ctx context.Context, raw []byte) (*NotificationResult, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.HandleNotification")()

	n, err := u.gateway.ParseNotification(raw)
	if err != nil {
		metrics.IncPaymentNotification("malformed")
		return nil, err
	}
	paymentID := strings.TrimSpace(n.Get("m_payment_id"))
	if paymentID == "" {
		// Nothing to locate; only absent payment_status or signature is malformed.
		metrics.IncPaymentNotification("unknown_payment")
		return nil, fmt.Errorf("%w: m_payment_id missing", domain.ErrPaymentNotFound)
	}
	ctx = logging.WithPaymentID(ctx, paymentID)
	log := logging.With(ctx, u.log)

	sigOK := u.gateway.VerifySignature(n)

	if u.locker != nil {
		key := paymentLockKey(paymentID)
		token, lerr := u.locker.TryLock(ctx, key, paymentLockTTL)
		if lerr != nil {
			// The row lock below still serialises deliveries; this only spares the database.
			log.Warn().Err(lerr).Msg("payment lock not taken, relying on row lock")
		} else {
			defer func() {
				if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("payment unlock failed")
				}
			}()
		}
	}

	res := &NotificationResult{PaymentID: paymentID}
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				if !sigOK {
					// Unknown and unsigned: nothing to record against, nothing to reveal.
					res.Outcome = OutcomeSignatureMismatch
					return nil
				}
				return domain.ErrPaymentNotFound
			}
			return err
		}
		res.AccountID = p.AccountID

		if !sigOK {
			res.Outcome = OutcomeSignatureMismatch
			return u.payments.AppendAudit(ctx, tx, p.ID, u.auditEntry(model.AuditSignatureMismatch, n), true)
		}

		res.Outcome, err = u.apply(ctx, tx, p, n)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			metrics.IncPaymentNotification("unknown_payment")
			log.Warn().Msg("notification for unknown payment")
		} else {
			metrics.IncPaymentNotification("error")
			log.Error().Err(err).Msg("notification processing failed")
		}
		return nil, err
	}

	metrics.IncPaymentNotification(string(res.Outcome))
	log.Info().Str("outcome", string(res.Outcome)).Str("status", n.Get("payment_status")).Msg("notification handled")
	return res, nil
}

// apply runs the state machine for a notification whose signature checked out.
// p is locked for the duration of the transaction.
func (u *webhookUC) apply(ctx context.Context, tx repository.Tx, p *model.Payment, n *adapter.Notification) (Outcome, error) {
	status := strings.ToUpper(strings.TrimSpace(n.Get("payment_status")))
	pfID := strings.TrimSpace(n.Get("pf_payment_id"))

	switch status {
	case gatewayComplete, gatewayFailed, gatewayCancelled:
	default:
		return OutcomeUnknownStatus, u.payments.AppendAudit(ctx, tx, p.ID, u.auditEntry(model.AuditUnknownStatus, n), false)
	}

	switch p.Status {
	case model.PaymentStatusPending:
		if status == gatewayComplete {
			ok, err := u.settle.complete(ctx, tx, p, pfID, n.Get("token"), u.auditEntry(model.AuditNotification, n), u.now())
			if err != nil {
				return "", err
			}
			if !ok {
				return OutcomeDuplicate, nil
			}
			return OutcomeActivated, nil
		}
		ok, err := u.payments.TransitionFromPending(ctx, tx, p.ID, repository.PendingTransition{
			Status:             model.PaymentStatusFailed,
			VerificationStatus: model.VerificationFailed,
			PfPaymentID:        optional(pfID),
			Audit:              u.auditEntry(model.AuditNotification, n),
		})
		if err != nil {
			return "", err
		}
		if !ok {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, nil

	case model.PaymentStatusCompleted:
		if status == gatewayComplete && p.IsSubscription && pfID != "" {
			if p.PfPaymentID != nil && *p.PfPaymentID == pfID {
				return OutcomeDuplicate, nil
			}
			return u.renew(ctx, tx, p, pfID, n)
		}
	}

	return OutcomeIgnored, u.payments.AppendAudit(ctx, tx, p.ID, u.auditEntry(model.AuditIgnored, n), false)
}

// renew records a recurring charge as its own payment row and extends the plan.
func (u *webhookUC) renew(ctx context.Context, tx repository.Tx, parent *model.Payment, pfID string, n *adapter.Notification) (Outcome, error) {
	acc, err := u.settle.accounts.FindByID(ctx, tx, parent.AccountID)
	if err != nil {
		return "", err
	}
	plan, err := u.settle.plans.FindByID(ctx, tx, parent.PlanID)
	if err != nil {
		return "", err
	}

	now := u.now()
	amount := parent.AmountCents
	if cents, ok := parseCents(n.Get("amount_gross")); ok {
		amount = cents
	}
	parentID := parent.ID
	cycleKey := parent.ID + ":" + pfID
	cycle := acc.CompletedBillingCycles + 1
	entry := u.auditEntry(model.AuditCycle, n)
	entry.Cycle = cycle

	cp := &model.Payment{
		ID:                 "cycle_" + ulid.Make().String(),
		PfPaymentID:        &pfID,
		AccountID:          parent.AccountID,
		PlanID:             parent.PlanID,
		AmountCents:        amount,
		Currency:           parent.Currency,
		Status:             model.PaymentStatusCompleted,
		VerificationStatus: model.VerificationVerified,
		IsSubscription:     true,
		SubscriptionToken:  parent.SubscriptionToken,
		ParentPaymentID:    &parentID,
		CycleKey:           &cycleKey,
		BillingCycle:       cycle,
		Audit:              []model.AuditEntry{entry},
		CreatedAt:          now,
		UpdatedAt:          now,
		CompletedAt:        &now,
	}
	if err := u.payments.Create(ctx, tx, cp); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}
	if err := u.settle.ledger.ApplyRenewal(ctx, tx, acc, plan, now); err != nil {
		return "", err
	}
	metrics.IncPayment(string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(cp.Currency, cp.AmountCents)
	return OutcomeRenewed, nil
}

func (u *webhookUC) auditEntry(kind model.AuditKind, n *adapter.Notification) model.AuditEntry {
	return model.AuditEntry{
		Kind:              kind,
		At:                u.now(),
		Status:            n.Get("payment_status"),
		PfPaymentID:       n.Get("pf_payment_id"),
		AmountGross:       n.Get("amount_gross"),
		Token:             n.Get("token"),
		SignatureMismatch: kind == model.AuditSignatureMismatch,
		Raw:               n.Raw,
	}
}

// parseCents reads a gateway amount such as "199.00" without going through float.
func parseCents(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, false
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, false
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, false
	}
	return w*100 + f, true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
