package model

import (
	"strings"
	"time"

	"propulse/internal/domain"

	"github.com/google/uuid"
)

type PlanStatus string

const (
	PlanStatusInactive  PlanStatus = "inactive"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCancelled PlanStatus = "cancelled"
	PlanStatusExpired   PlanStatus = "expired"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// BillingFrequencyMonthly is the gateway's frequency code for monthly billing.
const BillingFrequencyMonthly = 3

// Account is a ProPulse subscriber.
// AvailableCredits is only ever changed through the ledger (reserve/refund/activation/renewal).
type Account struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      Role

	AvailableCredits int

	CurrentPlan        *string // plan id
	PlanStatus         PlanStatus
	PlanPurchaseDate   *time.Time
	PlanExpirationDate *time.Time

	LastBillingDate        *time.Time
	NextBillingDate        *time.Time
	BillingFrequency       int
	RecurringAmountCents   int64
	CompletedBillingCycles int

	SubscriptionID    *string // payment that last activated the current plan period
	SubscriptionToken *string // gateway token for recurring charges

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount builds a freshly registered account: zero credits, inactive plan.
func NewAccount(id, email, firstName, lastName string, role Role) (*Account, error) {
	if id == "" {
		id = uuid.NewString()
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Account{
		ID:               id,
		Email:            email,
		FirstName:        strings.TrimSpace(firstName),
		LastName:         strings.TrimSpace(lastName),
		Role:             role,
		AvailableCredits: 0,
		PlanStatus:       PlanStatusInactive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (a *Account) IsZero() bool { return a == nil || a.ID == "" }

// PlanLapsed reports whether an active plan is past its explicit expiration date.
func (a *Account) PlanLapsed(now time.Time) bool {
	return a.PlanStatus == PlanStatusActive && a.PlanExpirationDate != nil && now.After(*a.PlanExpirationDate)
}

// Reservation is the result of taking one proposal credit.
type Reservation struct {
	AccountID  string
	Remaining  int
	ReservedAt time.Time
}
