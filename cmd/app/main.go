// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"propulse/internal/config"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/domain/ports/repository"
	aiAdapters "propulse/internal/infra/adapters/ai"
	payAdapters "propulse/internal/infra/adapters/payment"
	"propulse/internal/infra/api"
	pg "propulse/internal/infra/db/postgres"
	"propulse/internal/infra/logging"
	"propulse/internal/infra/metrics"
	red "propulse/internal/infra/redis"
	"propulse/internal/infra/sched"
	"propulse/internal/infra/worker"
	"propulse/internal/usecase"
)

const maxCompletionTokens = 1024

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, noop AI when no provider key is set")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(cfg.App.Version, cfg.App.Commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	accounts := pg.NewAccountRepo(pool)
	payments := pg.NewPaymentRepo(pool)
	proposals := pg.NewProposalRepo(pool)
	tm := pg.NewTxManager(pool)
	var plans repository.PlanRepository = pg.NewPlanRepo(pool)

	// ---- Redis (optional) ----
	var (
		locker  usecase.Locker
		limiter usecase.RateLimiter
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		locker = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
		plans = pg.NewPlanRepoCacheDecorator(plans, rc, cfg.Redis.TTL)
		logger.Info().Msg("redis enabled: plan cache, payment locks, rate limiting")
	} else {
		logger.Warn().Msg("redis.url empty: no plan cache, no cross-instance payment lock, no rate limiting")
	}

	// ---- Payment gateway ----
	gateway, err := payAdapters.NewPayFastGateway(payAdapters.PayFastConfig{
		MerchantID:  cfg.Payment.PayFast.MerchantID,
		MerchantKey: cfg.Payment.PayFast.MerchantKey,
		Passphrase:  cfg.Payment.PayFast.Passphrase,
		Sandbox:     cfg.Payment.PayFast.Sandbox,
		Timeout:     cfg.Payment.PayFast.Timeout,
		Dev:         cfg.Runtime.Dev,
	}, logger)
	if err != nil {
		return fmt.Errorf("payfast gateway: %w", err)
	}

	// ---- AI ----
	ai, err := buildAI(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	ledger := usecase.NewLedgerUseCase(accounts, logger)
	accountUC := usecase.NewAccountUseCase(accounts, ledger, logger)
	planUC := usecase.NewPlanUseCase(plans, accounts, tm, logger)
	paymentUC := usecase.NewPaymentUseCase(usecase.CheckoutConfig{
		ServerURL: cfg.App.ServerURL,
		ClientURL: cfg.App.ClientURL,
		Currency:  cfg.Payment.Currency,
		AppTag:    cfg.App.Name,
	}, gateway, payments, plans, accounts, ledger, tm, logger)
	webhookUC := usecase.NewWebhookUseCase(gateway, payments, plans, accounts, ledger, tm, locker, logger)
	proposalUC := usecase.NewProposalUseCase(usecase.ProposalConfig{
		Model:          cfg.AI.DefaultModel,
		MaxInputTokens: cfg.Proposal.MaxInputTokens,
		RateLimit:      cfg.Proposal.RateLimit,
		RateWindow:     cfg.Proposal.RateWindow,
		Timeout:        cfg.Proposal.GenerateTimeout,
	}, ledger, ai, aiAdapters.NewTiktokenCounter(), proposals, limiter, logger)

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Accounts:       accountUC,
		Plans:          planUC,
		Payments:       paymentUC,
		Webhooks:       webhookUC,
		Proposals:      proposalUC,
		Auth:           api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		RequestTimeout: cfg.App.RequestTimeout,
	}, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Background ----
	workers := worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize, logger)
	reconciler := sched.NewPaymentReconciler(paymentUC, workers,
		cfg.Payment.ReconcileInterval, cfg.Payment.ReconcileAfter, cfg.Payment.ReconcileBatch, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		workers.Start(gctx)
		<-gctx.Done()
		workers.Stop()
		return nil
	})
	g.Go(func() error {
		err := reconciler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second)
		return nil
	})

	return g.Wait()
}

// buildAI registers every provider with a key behind a router, capped by the
// concurrency limit. Dev mode without keys answers with canned text.
func buildAI(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.AIServiceAdapter, error) {
	providers := map[string]adapter.AIServiceAdapter{}
	defaultProvider := ""

	if cfg.AI.GeminiKey != "" {
		g, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, "", "", maxCompletionTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers[g.Name()] = g
		defaultProvider = g.Name()
	}
	if cfg.AI.OpenAIKey != "" {
		o, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel, maxCompletionTokens,
			option.WithRequestTimeout(cfg.AI.Timeout))
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers[o.Name()] = o
		defaultProvider = o.Name()
	}

	if len(providers) == 0 {
		if !cfg.Runtime.Dev {
			return nil, errors.New("no AI provider configured: set ai.openai_key or ai.gemini_key")
		}
		logger.Warn().Msg("no AI provider key: using noop generator")
		return aiAdapters.NewNoopAIAdapter(logger), nil
	}
	logger.Info().Str("default_provider", defaultProvider).Int("providers", len(providers)).Str("model", cfg.AI.DefaultModel).Msg("AI configured")
	multi := aiAdapters.NewMultiAIAdapter(defaultProvider, providers, nil)
	return aiAdapters.NewLimitedAI(multi, cfg.AI.ConcurrentLimit), nil
}
