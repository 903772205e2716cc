package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"propulse/internal/config"
	"propulse/internal/domain"
	"propulse/internal/domain/model"
	"propulse/internal/infra/api"
	pg "propulse/internal/infra/db/postgres"
	"propulse/internal/infra/logging"
	"propulse/internal/usecase"
)

var defaultPlans = []usecase.PlanInput{
	{Name: "Starter", Slug: "starter", MonthlyPriceCents: 9900, MonthlyProposals: 20, DisplayOrder: 1,
		Features: []string{"20 proposals per month", "All tones"}},
	{Name: "Pro", Slug: "pro", MonthlyPriceCents: 19900, MonthlyProposals: 60, DisplayOrder: 2,
		Features: []string{"60 proposals per month", "All tones", "Proposal history"}},
	{Name: "Agency", Slug: "agency", MonthlyPriceCents: 49900, MonthlyProposals: 200, DisplayOrder: 3,
		Features: []string{"200 proposals per month", "All tones", "Proposal history", "Priority generation"}},
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	tokenFor := flag.String("token", "", "also print a bearer token for this account id")
	email := flag.String("email", "", "email claim for -token")
	admin := flag.Bool("admin", false, "mint the -token with the admin role")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	planUC := usecase.NewPlanUseCase(pg.NewPlanRepo(pool), pg.NewAccountRepo(pool), pg.NewTxManager(pool), logger)
	for _, in := range defaultPlans {
		p, err := planUC.Create(ctx, in)
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			fmt.Printf("exists: %s\n", in.Slug)
		case err != nil:
			logger.Fatal().Err(err).Str("slug", in.Slug).Msg("create plan")
		default:
			fmt.Printf("seeded: %s (id=%s, %d proposals, %.2f %s)\n", p.Slug, p.ID, p.MonthlyProposals, p.MonthlyPrice(), cfg.Payment.Currency)
		}
	}

	if *tokenFor != "" {
		role := model.RoleUser
		if *admin {
			role = model.RoleAdmin
		}
		tok, err := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Mint(*tokenFor, *email, role)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		fmt.Println(tok)
	}
}
