//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/domain/ports/repository"
	"propulse/internal/usecase"
)

type proposalFixture struct {
	uc        usecase.ProposalUseCase
	accounts  *MockAccountRepo
	proposals *MockProposalRepo
	ai        *MockAI
	limiter   *MockRateLimiter
}

func newProposalFixture(acc *model.Account, cfg usecase.ProposalConfig) *proposalFixture {
	f := &proposalFixture{
		accounts:  NewMockAccountRepo(acc),
		proposals: &MockProposalRepo{},
		ai:        &MockAI{},
		limiter:   &MockRateLimiter{},
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	logger := newTestLogger()
	ledger := usecase.NewLedgerUseCase(f.accounts, logger)
	f.uc = usecase.NewProposalUseCase(cfg, ledger, f.ai, wordCounter{}, f.proposals, f.limiter, logger)
	return f
}

var jobPost = usecase.GenerateInput{
	JobTitle:       "Go developer for payments service",
	JobDescription: "We need a Go engineer to integrate a hosted payment gateway and webhook handling.",
	Tone:           "confident",
	Skills:         []string{"Go", "PostgreSQL"},
}

func TestProposal_GenerateConsumesOneCredit(t *testing.T) {
	// --- Arrange ---
	f := newProposalFixture(activeAccount("acc-1", 2, time.Now().Add(time.Hour)), usecase.ProposalConfig{})
	var sent []adapter.Message
	f.ai.ChatWithUsageFunc = func(_ context.Context, _ string, msgs []adapter.Message) (string, adapter.Usage, error) {
		sent = msgs
		return "  Hello, I have built exactly this before.  ", adapter.Usage{PromptTokens: 90, CompletionTokens: 12}, nil
	}

	// --- Act ---
	p, err := f.uc.Generate(context.Background(), "acc-1", jobPost)

	// --- Assert ---
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.Content != "Hello, I have built exactly this before." {
		t.Errorf("expected trimmed content, got %q", p.Content)
	}
	if p.Provider != "mock" || p.Model != "gpt-4o-mini" || p.PromptTokens != 90 {
		t.Errorf("unexpected proposal metadata %+v", p)
	}
	if got := f.accounts.Get("acc-1").AvailableCredits; got != 1 {
		t.Errorf("expected 1 credit left, got %d", got)
	}
	if f.proposals.Count() != 1 {
		t.Errorf("expected proposal saved to history")
	}
	if len(sent) != 2 || sent[0].Role != "system" || !strings.Contains(sent[1].Content, "hosted payment gateway") {
		t.Errorf("unexpected prompt %+v", sent)
	}
	if !strings.Contains(sent[1].Content, "confident and direct") {
		t.Errorf("expected tone in prompt, got %q", sent[1].Content)
	}
}

func TestProposal_GeneratorFailureRefunds(t *testing.T) {
	// --- Arrange ---
	f := newProposalFixture(activeAccount("acc-1", 1, time.Now().Add(time.Hour)), usecase.ProposalConfig{})
	f.ai.ChatWithUsageFunc = func(context.Context, string, []adapter.Message) (string, adapter.Usage, error) {
		return "", adapter.Usage{}, errors.New("upstream 503")
	}

	// --- Act ---
	_, err := f.uc.Generate(context.Background(), "acc-1", jobPost)

	// --- Assert ---
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if got := f.accounts.Get("acc-1").AvailableCredits; got != 1 {
		t.Errorf("expected credit refunded back to 1, got %d", got)
	}
	if f.accounts.Refunds != 1 {
		t.Errorf("expected exactly one refund, got %d", f.accounts.Refunds)
	}
	if f.proposals.Count() != 0 {
		t.Error("expected no history row for a failed generation")
	}
}

func TestProposal_EmptyCompletionCountsAsFailure(t *testing.T) {
	f := newProposalFixture(activeAccount("acc-1", 1, time.Now().Add(time.Hour)), usecase.ProposalConfig{})
	f.ai.ChatWithUsageFunc = func(context.Context, string, []adapter.Message) (string, adapter.Usage, error) {
		return "   ", adapter.Usage{}, nil
	}

	if _, err := f.uc.Generate(context.Background(), "acc-1", jobPost); !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if got := f.accounts.Get("acc-1").AvailableCredits; got != 1 {
		t.Errorf("expected credit refunded, got %d", got)
	}
}

func TestProposal_HistorySaveFailureKeepsCharge(t *testing.T) {
	f := newProposalFixture(activeAccount("acc-1", 1, time.Now().Add(time.Hour)), usecase.ProposalConfig{})
	f.proposals.SaveFunc = func(context.Context, repository.Tx, *model.Proposal) error {
		return domain.ErrOperationFailed
	}

	p, err := f.uc.Generate(context.Background(), "acc-1", jobPost)
	if err != nil {
		t.Fatalf("expected text delivered despite history failure, got %v", err)
	}
	if p.Content == "" {
		t.Error("expected content")
	}
	if got := f.accounts.Get("acc-1").AvailableCredits; got != 0 {
		t.Errorf("expected credit consumed, got %d", got)
	}
}

func TestProposal_RefusedBeforeReservation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		account *model.Account
		input   usecase.GenerateInput
		cfg     usecase.ProposalConfig
		want    error
	}{
		{
			name:    "no credits",
			account: activeAccount("acc-1", 0, time.Now().Add(time.Hour)),
			input:   jobPost,
			want:    domain.ErrNoCredits,
		},
		{
			name:    "inactive plan",
			account: freshAccount("acc-1"),
			input:   jobPost,
			want:    domain.ErrPlanInactive,
		},
		{
			name:    "expired plan",
			account: activeAccount("acc-1", 9, time.Now().Add(-time.Hour)),
			input:   jobPost,
			want:    domain.ErrPlanExpired,
		},
		{
			name:    "empty job description",
			account: activeAccount("acc-1", 3, time.Now().Add(time.Hour)),
			input:   usecase.GenerateInput{JobTitle: "x", JobDescription: "  "},
			want:    domain.ErrInvalidArgument,
		},
		{
			name:    "unknown tone",
			account: activeAccount("acc-1", 3, time.Now().Add(time.Hour)),
			input:   usecase.GenerateInput{JobDescription: "build a thing", Tone: "sarcastic"},
			want:    domain.ErrInvalidArgument,
		},
		{
			name:    "prompt over token budget",
			account: activeAccount("acc-1", 3, time.Now().Add(time.Hour)),
			input:   usecase.GenerateInput{JobDescription: strings.Repeat("word ", 500)},
			cfg:     usecase.ProposalConfig{MaxInputTokens: 100},
			want:    domain.ErrInvalidArgument,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.account.AvailableCredits
			f := newProposalFixture(tc.account, tc.cfg)

			_, err := f.uc.Generate(ctx, "acc-1", tc.input)

			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.ai.Calls != 0 {
				t.Errorf("expected generator not called, got %d calls", f.ai.Calls)
			}
			after := f.accounts.Get("acc-1").AvailableCredits
			if tc.want != domain.ErrPlanExpired && after != before {
				t.Errorf("expected balance unchanged at %d, got %d", before, after)
			}
		})
	}
}

func TestProposal_RateLimit(t *testing.T) {
	f := newProposalFixture(activeAccount("acc-1", 10, time.Now().Add(time.Hour)), usecase.ProposalConfig{RateLimit: 2, RateWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.uc.Generate(ctx, "acc-1", jobPost); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if _, err := f.uc.Generate(ctx, "acc-1", jobPost); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := f.accounts.Get("acc-1").AvailableCredits; got != 8 {
		t.Errorf("expected limited request not to consume a credit, got %d left", got)
	}

	t.Run("limiter outage fails open", func(t *testing.T) {
		f := newProposalFixture(activeAccount("acc-1", 1, time.Now().Add(time.Hour)), usecase.ProposalConfig{RateLimit: 1})
		f.limiter.Err = errors.New("redis down")
		if _, err := f.uc.Generate(ctx, "acc-1", jobPost); err != nil {
			t.Errorf("expected request to go through, got %v", err)
		}
	})
}

func TestProposal_History(t *testing.T) {
	f := newProposalFixture(activeAccount("acc-1", 5, time.Now().Add(time.Hour)), usecase.ProposalConfig{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.uc.Generate(ctx, "acc-1", jobPost); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}

	got, err := f.uc.History(ctx, "acc-1", 1, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 proposals after offset 1, got %d", len(got))
	}
}
