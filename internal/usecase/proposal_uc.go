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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ ProposalUseCase = (*proposalUC)(nil)

type ProposalUseCase interface {
	// Generate consumes one credit. A failed generation gives the credit back.
	Generate(ctx context.Context, accountID string, in GenerateInput) (*model.Proposal, error)
	History(ctx context.Context, accountID string, offset, limit int) ([]*model.Proposal, error)
}

type GenerateInput struct {
	JobTitle       string
	JobDescription string
	Tone           string
	Skills         []string
}

type ProposalConfig struct {
	Model          string
	MaxInputTokens int
	RateLimit      int
	RateWindow     time.Duration
	Timeout        time.Duration
}

var tones = map[string]string{
	"":             "professional",
	"professional": "professional",
	"friendly":     "warm and friendly",
	"confident":    "confident and direct",
	"concise":      "brief and to the point",
}

const systemPrompt = `You write freelance job proposals. Address the client's needs from the job post, ` +
	`show relevant experience without inventing credentials, propose a next step, and keep it under 300 words. ` +
	`Reply with the proposal text only.`

type proposalUC struct {
	cfg       ProposalConfig
	ledger    LedgerUseCase
	ai        adapter.AIServiceAdapter
	counter   adapter.TokenCounter
	proposals repository.ProposalRepository
	limiter   RateLimiter // optional
	log       *zerolog.Logger
	now       func() time.Time
}

func NewProposalUseCase(
	cfg ProposalConfig,
	ledger LedgerUseCase,
	ai adapter.AIServiceAdapter,
	counter adapter.TokenCounter,
	proposals repository.ProposalRepository,
	limiter RateLimiter,
	logger *zerolog.Logger,
) *proposalUC {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &proposalUC{
		cfg:       cfg,
		ledger:    ledger,
		ai:        ai,
		counter:   counter,
		proposals: proposals,
		limiter:   limiter,
		log:       logger,
		now:       time.Now,
	}
}

func (u *proposalUC) Generate(ctx context.Context, accountID string, in GenerateInput) (*model.Proposal, error) {
	defer logging.TraceDuration(u.log, "ProposalUC.Generate")()
	start := time.Now()
	log := logging.With(logging.WithAccountID(ctx, accountID), u.log)

	messages, err := u.buildMessages(in)
	if err != nil {
		return nil, err
	}

	if u.limiter != nil && u.cfg.RateLimit > 0 {
		allowed, err := u.limiter.Allow(ctx, proposalRateKey(accountID), u.cfg.RateLimit, u.cfg.RateWindow)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			metrics.ObserveProposalGeneration("rate_limited", time.Since(start).Seconds())
			return nil, domain.ErrRateLimited
		}
	}

	if _, err := u.ledger.CheckPlan(ctx, accountID); err != nil {
		metrics.ObserveProposalGeneration("rejected", time.Since(start).Seconds())
		return nil, err
	}
	res, err := u.ledger.Reserve(ctx, accountID)
	if err != nil {
		metrics.ObserveProposalGeneration("rejected", time.Since(start).Seconds())
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	text, usage, genErr := u.ai.ChatWithUsage(genCtx, u.cfg.Model, messages)
	cancel()
	text = strings.TrimSpace(text)
	if genErr == nil && text == "" {
		genErr = errors.New("empty completion")
	}
	if genErr != nil {
		// The client may be gone; the credit still has to come back.
		if rerr := u.ledger.Refund(context.WithoutCancel(ctx), accountID); rerr != nil {
			log.Error().Err(rerr).Msg("refund after failed generation did not apply")
		}
		metrics.ObserveProposalGeneration("failed", time.Since(start).Seconds())
		log.Warn().Err(genErr).Str("provider", u.ai.Name()).Msg("proposal generation failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, genErr)
	}

	p := &model.Proposal{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		JobTitle:         strings.TrimSpace(in.JobTitle),
		JobDescription:   strings.TrimSpace(in.JobDescription),
		Tone:             strings.ToLower(strings.TrimSpace(in.Tone)),
		Content:          text,
		Provider:         u.ai.Name(),
		Model:            u.cfg.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CreatedAt:        u.now(),
	}
	if err := u.proposals.Save(ctx, repository.NoTX, p); err != nil {
		log.Error().Err(err).Str("proposal_id", p.ID).Msg("proposal history not saved")
	}

	metrics.ObserveProposalGeneration("success", time.Since(start).Seconds())
	log.Info().Int("remaining", res.Remaining).Int("tokens_out", usage.CompletionTokens).Msg("proposal generated")
	return p, nil
}

func (u *proposalUC) buildMessages(in GenerateInput) ([]adapter.Message, error) {
	desc := strings.TrimSpace(in.JobDescription)
	if desc == "" {
		return nil, fmt.Errorf("%w: job description is required", domain.ErrInvalidArgument)
	}
	tone, ok := tones[strings.ToLower(strings.TrimSpace(in.Tone))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tone %q", domain.ErrInvalidArgument, in.Tone)
	}

	var b strings.Builder
	if t := strings.TrimSpace(in.JobTitle); t != "" {
		b.WriteString("Job title: ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("Job description:\n")
	b.WriteString(desc)
	b.WriteString("\n\n")
	if len(in.Skills) > 0 {
		b.WriteString("My relevant skills: ")
		b.WriteString(strings.Join(in.Skills, ", "))
		b.WriteString("\n")
	}
	b.WriteString("Tone: ")
	b.WriteString(tone)
	user := b.String()

	if u.counter != nil && u.cfg.MaxInputTokens > 0 {
		if n := u.counter.Count(u.cfg.Model, systemPrompt+"\n"+user); n > u.cfg.MaxInputTokens {
			return nil, fmt.Errorf("%w: job post is %d tokens, limit is %d", domain.ErrInvalidArgument, n, u.cfg.MaxInputTokens)
		}
	}
	return []adapter.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}, nil
}

func (u *proposalUC) History(ctx context.Context, accountID string, offset, limit int) ([]*model.Proposal, error) {
	defer logging.TraceDuration(u.log, "ProposalUC.History")()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return u.proposals.ListByAccount(ctx, repository.NoTX, accountID, offset, limit)
}
