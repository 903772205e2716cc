package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"propulse/internal/domain/model"
	"propulse/internal/usecase"
)

const (
	maxBodyBytes   = 1 << 20
	maxNotifyBytes = 64 << 10
)

// Deps are the use cases the HTTP layer drives.
type Deps struct {
	Accounts  usecase.AccountUseCase
	Plans     usecase.PlanUseCase
	Payments  usecase.PaymentUseCase
	Webhooks  usecase.WebhookUseCase
	Proposals usecase.ProposalUseCase
	Auth      *AuthManager

	RequestTimeout time.Duration
}

type Server struct {
	accounts  usecase.AccountUseCase
	plans     usecase.PlanUseCase
	payments  usecase.PaymentUseCase
	webhooks  usecase.WebhookUseCase
	proposals usecase.ProposalUseCase
	auth      *AuthManager
	timeout   time.Duration
	log       *zerolog.Logger
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 60 * time.Second
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{
		accounts:  d.Accounts,
		plans:     d.Plans,
		payments:  d.Payments,
		webhooks:  d.Webhooks,
		proposals: d.Proposals,
		auth:      d.Auth,
		timeout:   d.RequestTimeout,
		log:       &l,
	}
}

// Routes builds the router. The notify route is unauthenticated: the gateway
// signs its body instead.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(MaxBody(maxNotifyBytes)).Post("/payments/notify", s.handleNotify)
		r.Get("/plans", s.handleListPlans)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Authenticate(), MaxBody(maxBodyBytes))

			r.Get("/me", s.handleMe)
			r.Post("/proposals", s.handleGenerate)
			r.Get("/proposals", s.handleHistory)
			r.Post("/subscriptions/checkout", s.handleCheckout)
			r.Post("/subscriptions/cancel", s.handleCancel)
			r.Get("/payments", s.handleListPayments)
			r.Post("/payments/{id}/verify", s.handleVerify)

			r.Route("/admin/plans", func(r chi.Router) {
				r.Use(RequireRole(model.RoleAdmin))
				r.Get("/", s.handleAdminListPlans)
				r.Post("/", s.handleCreatePlan)
				r.Put("/{id}", s.handleUpdatePlan)
				r.Delete("/{id}", s.handleDeletePlan)
			})
		})
	})
	return r
}
