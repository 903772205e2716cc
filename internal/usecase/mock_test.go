//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/infra/adapters/payment"
)

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// =============================
// Transaction manager
// =============================

// MockTxManager runs fn directly. With Serialize set, transactions run one at a
// time, which is what the row locks give the real thing.
type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
	Serialize  bool

	mu    sync.Mutex
	Calls int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	if m.Serialize {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Calls++
		return fn(ctx, repository.NoTX)
	}
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// =============================
// Repositories
// =============================

// ---- Mock AccountRepository ----

type MockAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]model.Account

	SaveFunc          func(ctx context.Context, tx repository.Tx, a *model.Account) error
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Account, error)
	ReserveCreditFunc func(ctx context.Context, tx repository.Tx, id string) (int, bool, error)
	RefundCreditFunc  func(ctx context.Context, tx repository.Tx, id string) (int, error)

	Refunds int
}

var _ repository.AccountRepository = (*MockAccountRepo)(nil)

func NewMockAccountRepo(accs ...*model.Account) *MockAccountRepo {
	m := &MockAccountRepo{accounts: map[string]model.Account{}}
	for _, a := range accs {
		m.accounts[a.ID] = *a
	}
	return m
}

func (m *MockAccountRepo) Save(ctx context.Context, tx repository.Tx, a *model.Account) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = *a
	return nil
}

func (m *MockAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Account, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *MockAccountRepo) ReserveCredit(ctx context.Context, tx repository.Tx, id string) (int, bool, error) {
	if m.ReserveCreditFunc != nil {
		return m.ReserveCreditFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.AvailableCredits <= 0 {
		return 0, false, nil
	}
	a.AvailableCredits--
	m.accounts[id] = a
	return a.AvailableCredits, true, nil
}

func (m *MockAccountRepo) RefundCredit(ctx context.Context, tx repository.Tx, id string) (int, error) {
	if m.RefundCreditFunc != nil {
		return m.RefundCreditFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	a.AvailableCredits++
	m.accounts[id] = a
	m.Refunds++
	return a.AvailableCredits, nil
}

func (m *MockAccountRepo) ExpireIfLapsed(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.PlanLapsed(now) {
		return false, nil
	}
	a.PlanStatus = model.PlanStatusExpired
	a.AvailableCredits = 0
	m.accounts[id] = a
	return true, nil
}

func (m *MockAccountRepo) CountActiveOnPlan(ctx context.Context, tx repository.Tx, planID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if a.CurrentPlan != nil && *a.CurrentPlan == planID && a.PlanStatus == model.PlanStatusActive {
			n++
		}
	}
	return n, nil
}

func (m *MockAccountRepo) Get(id string) model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id]
}

// ---- Mock PlanRepository ----

type MockPlanRepo struct {
	mu    sync.Mutex
	plans map[string]model.Plan

	SaveFunc func(ctx context.Context, tx repository.Tx, p *model.Plan) error
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo(plans ...*model.Plan) *MockPlanRepo {
	m := &MockPlanRepo{plans: map[string]model.Plan{}}
	for _, p := range plans {
		m.plans[p.ID] = *p
	}
	return m
}

func (m *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.plans {
		if id != p.ID && other.Slug == p.Slug {
			return domain.ErrAlreadyExists
		}
	}
	m.plans[p.ID] = *p
	return nil
}

func (m *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *MockPlanRepo) FindBySlug(ctx context.Context, tx repository.Tx, slug string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.Slug == slug {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockPlanRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.plans, id)
	return nil
}

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]model.Payment

	FindByIDFunc    func(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error)
	AppendAuditFunc func(ctx context.Context, tx repository.Tx, id string, e model.AuditEntry, manual bool) error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo(ps ...*model.Payment) *MockPaymentRepo {
	m := &MockPaymentRepo{payments: map[string]model.Payment{}}
	for _, p := range ps {
		m.payments[p.ID] = *p
	}
	return m
}

func (m *MockPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if p.CycleKey != nil {
		for _, other := range m.payments {
			if other.CycleKey != nil && *other.CycleKey == *p.CycleKey {
				return domain.ErrAlreadyExists
			}
		}
	}
	m.payments[p.ID] = *p
	return nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Audit = append([]model.AuditEntry(nil), p.Audit...)
	return &p, nil
}

func (m *MockPaymentRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.payments {
		if p.AccountID == accountID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepo) TransitionFromPending(ctx context.Context, tx repository.Tx, id string, t repository.PendingTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = t.Status
	p.VerificationStatus = t.VerificationStatus
	if t.PfPaymentID != nil {
		p.PfPaymentID = t.PfPaymentID
	}
	if t.SubscriptionToken != nil {
		p.SubscriptionToken = t.SubscriptionToken
	}
	if t.CompletedAt != nil {
		p.CompletedAt = t.CompletedAt
	}
	p.Audit = append(append([]model.AuditEntry(nil), p.Audit...), t.Audit)
	m.payments[id] = p
	return true, nil
}

func (m *MockPaymentRepo) AppendAudit(ctx context.Context, tx repository.Tx, id string, e model.AuditEntry, manual bool) error {
	if m.AppendAuditFunc != nil {
		return m.AppendAuditFunc(ctx, tx, id, e, manual)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Audit = append(append([]model.AuditEntry(nil), p.Audit...), e)
	p.RequiresManualVerification = p.RequiresManualVerification || manual
	m.payments[id] = p
	return nil
}

func (m *MockPaymentRepo) ListAwaitingVerification(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.payments {
		p := p
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) && hasGatewayRef(&p) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepo) Get(id string) model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id]
}

// Cycles returns recurring rows created for parentID.
func (m *MockPaymentRepo) Cycles(parentID string) []model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Payment
	for _, p := range m.payments {
		if p.ParentPaymentID != nil && *p.ParentPaymentID == parentID {
			out = append(out, p)
		}
	}
	return out
}

// ---- Mock ProposalRepository ----

type MockProposalRepo struct {
	mu    sync.Mutex
	Saved []*model.Proposal

	SaveFunc func(ctx context.Context, tx repository.Tx, p *model.Proposal) error
}

var _ repository.ProposalRepository = (*MockProposalRepo)(nil)

func (m *MockProposalRepo) Save(ctx context.Context, tx repository.Tx, p *model.Proposal) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, p)
	return nil
}

func (m *MockProposalRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, offset, limit int) ([]*model.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Proposal
	for _, p := range m.Saved {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockProposalRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Saved)
}

// =============================
// Adapters
// =============================

// ---- Mock AIServiceAdapter ----

type MockAI struct {
	mu    sync.Mutex
	Calls int

	ChatWithUsageFunc func(ctx context.Context, model string, msgs []adapter.Message) (string, adapter.Usage, error)
}

var _ adapter.AIServiceAdapter = (*MockAI)(nil)

func (m *MockAI) Name() string { return "mock" }

func (m *MockAI) ChatWithUsage(ctx context.Context, model string, msgs []adapter.Message) (string, adapter.Usage, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.ChatWithUsageFunc != nil {
		return m.ChatWithUsageFunc(ctx, model, msgs)
	}
	return "Dear client, I can help.", adapter.Usage{PromptTokens: 40, CompletionTokens: 8, TotalTokens: 48}, nil
}

// wordCounter approximates tokens as words.
type wordCounter struct{}

func (wordCounter) Count(_ string, text string) int { return len(strings.Fields(text)) }

// ---- Mock PaymentGateway ----

// MockGateway delegates parsing and signatures to the real PayFast signer so
// tests can sign notifications the same way the gateway does.
type MockGateway struct {
	*payment.PayFastGateway

	VerifyPaymentFunc      func(ctx context.Context, pfPaymentID string) (bool, error)
	CancelSubscriptionFunc func(ctx context.Context, token string) (bool, error)

	mu          sync.Mutex
	VerifyCalls []string
	Cancelled   []string
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

const testPassphrase = "jt7NOE43FZPn"

func NewMockGateway() *MockGateway {
	g, err := payment.NewPayFastGateway(payment.PayFastConfig{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  testPassphrase,
		Sandbox:     true,
	}, newTestLogger())
	if err != nil {
		panic(err)
	}
	return &MockGateway{PayFastGateway: g}
}

func (m *MockGateway) VerifyPayment(ctx context.Context, pfPaymentID string) (bool, error) {
	m.mu.Lock()
	m.VerifyCalls = append(m.VerifyCalls, pfPaymentID)
	m.mu.Unlock()
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, pfPaymentID)
	}
	return true, nil
}

func (m *MockGateway) CancelSubscription(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, token)
	m.mu.Unlock()
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, token)
	}
	return true, nil
}

// signedBody encodes fields the way the gateway posts them and appends a
// signature computed with passphrase.
func signedBody(passphrase string, fields ...adapter.Field) []byte {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		parts = append(parts, f.Name+"="+payment.EncodeValue(f.Value))
	}
	sig := payment.NewMD5Signer().Sign(fields, passphrase)
	parts = append(parts, "signature="+sig)
	return []byte(strings.Join(parts, "&"))
}

// ---- Mock Locker / RateLimiter ----

type MockLocker struct {
	mu       sync.Mutex
	held     map[string]string
	TryErr   error
	Acquired int
	Released int
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryErr != nil {
		return "", m.TryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]string{}
	}
	m.Acquired++
	m.held[key] = key
	return key, nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.Released++
	return nil
}

type MockRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[key]++
	return m.counts[key] <= limit, nil
}

// =============================
// Fixtures
// =============================

func testPlan() *model.Plan {
	return &model.Plan{
		ID:                "plan-pro",
		Name:              "Pro",
		Slug:              "pro",
		MonthlyPriceCents: 19900,
		MonthlyProposals:  50,
		Active:            true,
	}
}

func activeAccount(id string, credits int, expires time.Time) *model.Account {
	planID := "plan-pro"
	return &model.Account{
		ID:                 id,
		Email:              id + "@example.com",
		Role:               model.RoleUser,
		AvailableCredits:   credits,
		CurrentPlan:        &planID,
		PlanStatus:         model.PlanStatusActive,
		PlanExpirationDate: &expires,
	}
}

func pendingPayment(id, accountID string) *model.Payment {
	return &model.Payment{
		ID:                 id,
		AccountID:          accountID,
		PlanID:             "plan-pro",
		AmountCents:        19900,
		Currency:           "ZAR",
		Status:             model.PaymentStatusPending,
		VerificationStatus: model.VerificationPending,
		IsSubscription:     true,
		CreatedAt:          time.Now().Add(-time.Hour),
	}
}

func hasGatewayRef(p *model.Payment) bool {
	id, _ := p.GatewayRef()
	return id != ""
}
