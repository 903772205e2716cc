package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"propulse/internal/domain"
	"propulse/internal/domain/ports/adapter"
	"propulse/internal/usecase"
)

// ---- account ----

// handleMe registers the caller on first sight, using the identity in the token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	acc, err := s.accounts.Get(r.Context(), c.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		acc, err = s.accounts.Register(r.Context(), c.Subject, c.Email, c.Name, "", c.Role)
		if errors.Is(err, domain.ErrAlreadyExists) {
			err = nil
		}
	}
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

// ---- plans ----

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListActive(r.Context())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapItems(plans, toPlan)})
}

func (s *Server) handleAdminListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListAll(r.Context())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapItems(plans, toPlan)})
}

type planRequest struct {
	Name              string   `json:"name" validate:"required,max=100"`
	Slug              string   `json:"slug" validate:"required,max=64"`
	MonthlyPriceCents int64    `json:"monthly_price_cents" validate:"gte=0"`
	MonthlyProposals  int      `json:"monthly_proposals" validate:"gte=0"`
	DisplayOrder      int      `json:"display_order"`
	Features          []string `json:"features" validate:"max=20,dive,max=200"`
	Active            *bool    `json:"active"`
}

func (p planRequest) input() usecase.PlanInput {
	return usecase.PlanInput{
		Name:              p.Name,
		Slug:              p.Slug,
		MonthlyPriceCents: p.MonthlyPriceCents,
		MonthlyProposals:  p.MonthlyProposals,
		DisplayOrder:      p.DisplayOrder,
		Features:          p.Features,
		Active:            p.Active,
	}
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decode(w, r, &req) {
		return
	}
	plan, err := s.plans.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlan(plan))
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decode(w, r, &req) {
		return
	}
	plan, err := s.plans.Update(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlan(plan))
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.plans.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- proposals ----

type generateRequest struct {
	JobTitle       string   `json:"job_title" validate:"max=300"`
	JobDescription string   `json:"job_description" validate:"required,max=20000"`
	Tone           string   `json:"tone" validate:"omitempty,oneof=professional friendly confident concise"`
	Skills         []string `json:"skills" validate:"max=30,dive,max=60"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.proposals.Generate(r.Context(), claimsFrom(r.Context()).Subject, usecase.GenerateInput{
		JobTitle:       req.JobTitle,
		JobDescription: req.JobDescription,
		Tone:           req.Tone,
		Skills:         req.Skills,
	})
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposal(p))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.proposals.History(r.Context(), claimsFrom(r.Context()).Subject,
		queryInt(r, "offset", 0), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapItems(items, toProposal)})
}

// ---- subscriptions and payments ----

type checkoutRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type checkoutResponse struct {
	PaymentID string          `json:"payment_id"`
	PostURL   string          `json:"post_url"`
	Fields    []adapter.Field `json:"fields"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.payments.StartSubscription(r.Context(), claimsFrom(r.Context()).Subject, req.PlanID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := s.payments.RenderCheckout(res.Form)
		if err != nil {
			writeError(w, r, s.log, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(page))
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		PaymentID: res.Payment.ID,
		PostURL:   res.Form.PostURL,
		Fields:    res.Form.Fields,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	acc, err := s.payments.CancelSubscription(r.Context(), claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acc))
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	items, err := s.payments.ListPayments(r.Context(), claimsFrom(r.Context()).Subject, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapItems(items, toPayment)})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.VerifyWithGateway(r.Context(), claimsFrom(r.Context()).Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}
