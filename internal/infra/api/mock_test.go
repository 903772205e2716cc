//go:build !integration

package api_test

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/infra/api"
	"propulse/internal/usecase"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

type stubAccounts struct {
	byID       map[string]*model.Account
	registered int
}

func (s *stubAccounts) Register(_ context.Context, id, email, first, last string, role model.Role) (*model.Account, error) {
	if a, ok := s.byID[id]; ok {
		return a, domain.ErrAlreadyExists
	}
	a, err := model.NewAccount(id, email, first, last, role)
	if err != nil {
		return nil, err
	}
	s.byID[id] = a
	s.registered++
	return a, nil
}

func (s *stubAccounts) Get(_ context.Context, id string) (*model.Account, error) {
	if a, ok := s.byID[id]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

type stubPlans struct {
	items     []*model.Plan
	createErr error
	deleteErr error
	created   []usecase.PlanInput
}

func (s *stubPlans) Create(_ context.Context, in usecase.PlanInput) (*model.Plan, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, in)
	return model.NewPlan("", in.Name, in.Slug, in.MonthlyPriceCents, in.MonthlyProposals, in.DisplayOrder, in.Features)
}

func (s *stubPlans) Update(_ context.Context, id string, in usecase.PlanInput) (*model.Plan, error) {
	for _, p := range s.items {
		if p.ID == id {
			p.Name = in.Name
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubPlans) Delete(context.Context, string) error { return s.deleteErr }

func (s *stubPlans) Get(_ context.Context, id string) (*model.Plan, error) {
	for _, p := range s.items {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubPlans) ListActive(context.Context) ([]*model.Plan, error) {
	var out []*model.Plan
	for _, p := range s.items {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPlans) ListAll(context.Context) ([]*model.Plan, error) { return s.items, nil }

type stubPayments struct {
	startErr  error
	verifyErr error
	cancelErr error
	started   []string // "account:plan"
}

func (s *stubPayments) StartSubscription(_ context.Context, accountID, planID string) (*usecase.CheckoutResult, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started = append(s.started, accountID+":"+planID)
	return &usecase.CheckoutResult{
		Payment: &model.Payment{ID: "subscription_01", AccountID: accountID, PlanID: planID, Status: model.PaymentStatusPending},
		Form: &adapter.CheckoutForm{
			PostURL: "https://sandbox.payfast.co.za/eng/process",
			Fields:  []adapter.Field{{Name: "merchant_id", Value: "10000100"}, {Name: "signature", Value: "abc"}},
		},
	}, nil
}

func (s *stubPayments) RenderCheckout(form *adapter.CheckoutForm) (string, error) {
	return `<form action="` + form.PostURL + `"></form>`, nil
}

func (s *stubPayments) VerifyWithGateway(_ context.Context, accountID, paymentID string) (*model.Payment, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &model.Payment{ID: paymentID, AccountID: accountID, Status: model.PaymentStatusCompleted}, nil
}

func (s *stubPayments) CancelSubscription(_ context.Context, accountID string) (*model.Account, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return &model.Account{ID: accountID, Email: "a@b.c", PlanStatus: model.PlanStatusCancelled}, nil
}

func (s *stubPayments) ListPayments(_ context.Context, accountID string, _ int) ([]*model.Payment, error) {
	return []*model.Payment{{ID: "subscription_01", AccountID: accountID, CreatedAt: time.Now()}}, nil
}

func (s *stubPayments) ListAwaitingVerification(context.Context, time.Duration, int) ([]*model.Payment, error) {
	return nil, nil
}

func (s *stubPayments) Reconcile(context.Context, string) (bool, error) { return false, nil }

type stubWebhooks struct {
	err  error
	last []byte
}

func (s *stubWebhooks) HandleNotification(_ context.Context, raw []byte) (*usecase.NotificationResult, error) {
	s.last = raw
	if s.err != nil {
		return nil, s.err
	}
	return &usecase.NotificationResult{Outcome: usecase.OutcomeActivated, PaymentID: "subscription_01"}, nil
}

type stubProposals struct {
	err   error
	input usecase.GenerateInput
}

func (s *stubProposals) Generate(_ context.Context, accountID string, in usecase.GenerateInput) (*model.Proposal, error) {
	s.input = in
	if s.err != nil {
		return nil, s.err
	}
	return &model.Proposal{ID: "prop-1", AccountID: accountID, Content: "Hello", Tone: in.Tone, CreatedAt: time.Now()}, nil
}

func (s *stubProposals) History(context.Context, string, int, int) ([]*model.Proposal, error) {
	return []*model.Proposal{{ID: "prop-1", Content: "Hello"}}, nil
}

type harness struct {
	accounts  *stubAccounts
	plans     *stubPlans
	payments  *stubPayments
	webhooks  *stubWebhooks
	proposals *stubProposals
	auth      *api.AuthManager
}

func newHarness() *harness {
	return &harness{
		accounts:  &stubAccounts{byID: map[string]*model.Account{}},
		plans:     &stubPlans{},
		payments:  &stubPayments{},
		webhooks:  &stubWebhooks{},
		proposals: &stubProposals{},
		auth:      api.NewAuthManager(testSecret, time.Hour),
	}
}

func (h *harness) server() *api.Server {
	return api.NewServer(api.Deps{
		Accounts:       h.accounts,
		Plans:          h.plans,
		Payments:       h.payments,
		Webhooks:       h.webhooks,
		Proposals:      h.proposals,
		Auth:           h.auth,
		RequestTimeout: 5 * time.Second,
	}, newLogger())
}
