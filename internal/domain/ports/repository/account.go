package repository

import (
	"context"
	"time"

	"propulse/internal/domain/model"
)

// -----------------------------
// Accounts
// -----------------------------

type AccountRepository interface {
	Save(ctx context.Context, tx Tx, a *model.Account) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Account, error)

	// ReserveCredit decrements available credits by one only when they are
	// positive, in a single conditional update. ok=false means nothing changed.
	ReserveCredit(ctx context.Context, tx Tx, id string) (remaining int, ok bool, err error)
	// RefundCredit unconditionally increments available credits by one.
	RefundCredit(ctx context.Context, tx Tx, id string) (remaining int, err error)
	// ExpireIfLapsed flips an active plan whose expiration is before now to
	// expired and zeroes its credits. ok=false means the account was not lapsed.
	ExpireIfLapsed(ctx context.Context, tx Tx, id string, now time.Time) (ok bool, err error)

	// CountActiveOnPlan is used to refuse deleting plans that still have subscribers.
	CountActiveOnPlan(ctx context.Context, tx Tx, planID string) (int, error)
}
