package api

import (
	"time"

	"propulse/internal/domain/model"
)

type Plan struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Slug              string   `json:"slug"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	MonthlyProposals  int      `json:"monthly_proposals"`
	Active            bool     `json:"active"`
	DisplayOrder      int      `json:"display_order"`
	Features          []string `json:"features"`
}

func toPlan(p *model.Plan) Plan {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return Plan{
		ID:                p.ID,
		Name:              p.Name,
		Slug:              p.Slug,
		MonthlyPriceCents: p.MonthlyPriceCents,
		MonthlyProposals:  p.MonthlyProposals,
		Active:            p.Active,
		DisplayOrder:      p.DisplayOrder,
		Features:          features,
	}
}

type Account struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	FirstName              string     `json:"first_name,omitempty"`
	LastName               string     `json:"last_name,omitempty"`
	Role                   string     `json:"role"`
	AvailableCredits       int        `json:"available_credits"`
	CurrentPlan            *string    `json:"current_plan,omitempty"`
	PlanStatus             string     `json:"plan_status"`
	PlanExpirationDate     *time.Time `json:"plan_expiration_date,omitempty"`
	NextBillingDate        *time.Time `json:"next_billing_date,omitempty"`
	CompletedBillingCycles int        `json:"completed_billing_cycles"`
	HasSubscription        bool       `json:"has_subscription"`
}

func toAccount(a *model.Account) Account {
	return Account{
		ID:                     a.ID,
		Email:                  a.Email,
		FirstName:              a.FirstName,
		LastName:               a.LastName,
		Role:                   string(a.Role),
		AvailableCredits:       a.AvailableCredits,
		CurrentPlan:            a.CurrentPlan,
		PlanStatus:             string(a.PlanStatus),
		PlanExpirationDate:     a.PlanExpirationDate,
		NextBillingDate:        a.NextBillingDate,
		CompletedBillingCycles: a.CompletedBillingCycles,
		HasSubscription:        a.SubscriptionToken != nil && *a.SubscriptionToken != "",
	}
}

// Payment hides the audit trail and gateway token.
type Payment struct {
	ID                         string     `json:"id"`
	PlanID                     string     `json:"plan_id"`
	AmountCents                int64      `json:"amount_cents"`
	Currency                   string     `json:"currency"`
	Status                     string     `json:"status"`
	VerificationStatus         string     `json:"verification_status"`
	IsSubscription             bool       `json:"is_subscription"`
	ParentPaymentID            *string    `json:"parent_payment_id,omitempty"`
	BillingCycle               int        `json:"billing_cycle,omitempty"`
	RequiresManualVerification bool       `json:"requires_manual_verification"`
	CreatedAt                  time.Time  `json:"created_at"`
	CompletedAt                *time.Time `json:"completed_at,omitempty"`
}

func toPayment(p *model.Payment) Payment {
	return Payment{
		ID:                         p.ID,
		PlanID:                     p.PlanID,
		AmountCents:                p.AmountCents,
		Currency:                   p.Currency,
		Status:                     string(p.Status),
		VerificationStatus:         string(p.VerificationStatus),
		IsSubscription:             p.IsSubscription,
		ParentPaymentID:            p.ParentPaymentID,
		BillingCycle:               p.BillingCycle,
		RequiresManualVerification: p.RequiresManualVerification,
		CreatedAt:                  p.CreatedAt,
		CompletedAt:                p.CompletedAt,
	}
}

type Proposal struct {
	ID        string    `json:"id"`
	JobTitle  string    `json:"job_title,omitempty"`
	Tone      string    `json:"tone"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func toProposal(p *model.Proposal) Proposal {
	return Proposal{
		ID:        p.ID,
		JobTitle:  p.JobTitle,
		Tone:      p.Tone,
		Content:   p.Content,
		Model:     p.Model,
		CreatedAt: p.CreatedAt,
	}
}

func mapItems[T, D any](in []T, f func(T) D) []D {
	out := make([]D, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
