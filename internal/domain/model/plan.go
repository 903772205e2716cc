package model

import (
	"regexp"
	"strings"
	"time"

	"propulse/internal/domain"

	"github.com/google/uuid"
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Plan is a purchasable monthly tier with a fixed proposal allotment.
// Prices are kept in cents to avoid float drift; the gateway gets a 2-decimal string.
type Plan struct {
	ID                string
	Name              string
	Slug              string
	MonthlyPriceCents int64
	MonthlyProposals  int
	Active            bool
	DisplayOrder      int
	Features          []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// MonthlyPrice returns the price in currency units, as sent to the gateway.
func (p *Plan) MonthlyPrice() float64 { return float64(p.MonthlyPriceCents) / 100 }

// NewPlan validates and constructs a plan.
func NewPlan(id, name, slug string, priceCents int64, monthlyProposals int, displayOrder int, features []string) (*Plan, error) {
	if id == "" {
		id = uuid.NewString()
	}
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" || !slugRe.MatchString(slug) || priceCents < 0 || monthlyProposals < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Plan{
		ID:                id,
		Name:              name,
		Slug:              slug,
		MonthlyPriceCents: priceCents,
		MonthlyProposals:  monthlyProposals,
		Active:            true,
		DisplayOrder:      displayOrder,
		Features:          features,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}
