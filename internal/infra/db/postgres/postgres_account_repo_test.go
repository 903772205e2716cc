//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"propulse/internal/domain"
	"propulse/internal/domain/model"
)

func seedAccount(t *testing.T, credits int) *model.Account {
	t.Helper()
	acc, err := model.NewAccount("", "jane@example.com", "Jane", "Doe", model.RoleUser)
	if err != nil {
		t.Fatalf("model.NewAccount() failed: %v", err)
	}
	acc.AvailableCredits = credits
	if err := NewAccountRepo(testPool).Save(context.Background(), nil, acc); err != nil {
		t.Fatalf("Failed to save account: %v", err)
	}
	return acc
}

func TestAccountRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	repo := NewAccountRepo(testPool)
	ctx := context.Background()

	t.Run("should save and read back an account", func(t *testing.T) {
		cleanup(t)
		acc := seedAccount(t, 0)

		found, err := repo.FindByID(ctx, nil, acc.ID)
		if err != nil {
			t.Fatalf("Failed to find account: %v", err)
		}
		if found.Email != "jane@example.com" || found.PlanStatus != model.PlanStatusInactive || found.Role != model.RoleUser {
			t.Errorf("unexpected account: %+v", found)
		}

		if _, err := repo.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent reservations never oversell", func(t *testing.T) {
		cleanup(t)
		const credits, callers = 5, 20
		acc := seedAccount(t, credits)

		var wg sync.WaitGroup
		var granted int32
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := repo.ReserveCredit(ctx, nil, acc.ID)
				if err != nil {
					t.Errorf("ReserveCredit error: %v", err)
					return
				}
				if ok {
					atomic.AddInt32(&granted, 1)
				}
			}()
		}
		wg.Wait()

		if granted != credits {
			t.Errorf("expected %d reservations, got %d", credits, granted)
		}
		found, _ := repo.FindByID(ctx, nil, acc.ID)
		if found.AvailableCredits != 0 {
			t.Errorf("expected 0 credits left, got %d", found.AvailableCredits)
		}
	})

	t.Run("refund restores the reserved credit", func(t *testing.T) {
		cleanup(t)
		acc := seedAccount(t, 3)

		remaining, ok, err := repo.ReserveCredit(ctx, nil, acc.ID)
		if err != nil || !ok || remaining != 2 {
			t.Fatalf("reserve: %d %v %v", remaining, ok, err)
		}
		remaining, err = repo.RefundCredit(ctx, nil, acc.ID)
		if err != nil || remaining != 3 {
			t.Fatalf("refund: %d %v", remaining, err)
		}
	})

	t.Run("lapsed plans expire once", func(t *testing.T) {
		cleanup(t)
		acc := seedAccount(t, 7)
		past := time.Now().Add(-time.Hour)
		acc.PlanStatus = model.PlanStatusActive
		acc.PlanExpirationDate = &past
		if err := repo.Save(ctx, nil, acc); err != nil {
			t.Fatalf("save: %v", err)
		}

		ok, err := repo.ExpireIfLapsed(ctx, nil, acc.ID, time.Now())
		if err != nil || !ok {
			t.Fatalf("expected expiry, got %v %v", ok, err)
		}
		ok, _ = repo.ExpireIfLapsed(ctx, nil, acc.ID, time.Now())
		if ok {
			t.Error("second expiry should be a no-op")
		}
		found, _ := repo.FindByID(ctx, nil, acc.ID)
		if found.PlanStatus != model.PlanStatusExpired || found.AvailableCredits != 0 {
			t.Errorf("unexpected state after expiry: %s %d", found.PlanStatus, found.AvailableCredits)
		}
	})
}
