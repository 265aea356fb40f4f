package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func setupTokenStore(t *testing.T) (*TokenStore, int64) {
	t.Helper()
	db := setupTestDB(t)
	us := NewUserStore(db)
	u, err := us.Create(context.Background(), "alice@example.com", "user")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return NewTokenStore(db), u.ID
}

func TestTokenCreate(t *testing.T) {
	ts, userID := setupTokenStore(t)
	ctx := context.Background()

	mt, err := ts.Create(ctx, "raw-token", userID, time.Now().Add(5*time.Minute))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if mt.Token != "raw-token" {
		t.Errorf("token = %q, want %q", mt.Token, "raw-token")
	}
	if mt.UserID != userID {
		t.Errorf("user id = %d, want %d", mt.UserID, userID)
	}
	if !mt.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry in the future")
	}
}

func TestTokenCreateDuplicate(t *testing.T) {
	ts, userID := setupTokenStore(t)
	ctx := context.Background()

	if _, err := ts.Create(ctx, "raw-token", userID, time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := ts.Create(ctx, "raw-token", userID, time.Now().Add(5*time.Minute)); err == nil {
		t.Fatal("expected error for duplicate token, got nil")
	}
}

func TestTokenConsume(t *testing.T) {
	ts, userID := setupTokenStore(t)
	ctx := context.Background()

	if _, err := ts.Create(ctx, "raw-token", userID, time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("create token: %v", err)
	}

	consumed, err := ts.Consume(ctx, "raw-token")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !consumed {
		t.Fatal("expected first consume to succeed")
	}

	// The row is gone, so a second consume must fail.
	consumed, err = ts.Consume(ctx, "raw-token")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if consumed {
		t.Fatal("expected second consume to fail")
	}

	mt, err := ts.GetByToken(ctx, "raw-token")
	if err != nil {
		t.Fatalf("get after consume: %v", err)
	}
	if mt != nil {
		t.Error("expected row deleted after consume")
	}
}

func TestTokenConsumeExpired(t *testing.T) {
	ts, userID := setupTokenStore(t)
	ctx := context.Background()

	if _, err := ts.Create(ctx, "stale", userID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create token: %v", err)
	}

	consumed, err := ts.Consume(ctx, "stale")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed {
		t.Fatal("expected consume of expired token to fail")
	}

	// Expired rows stay until the reaper runs.
	mt, err := ts.GetByToken(ctx, "stale")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if mt == nil {
		t.Error("expected expired row to remain")
	}
}

func TestTokenConsumeUnknown(t *testing.T) {
	ts, _ := setupTokenStore(t)

	consumed, err := ts.Consume(context.Background(), "never-issued")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed {
		t.Fatal("expected consume of unknown token to fail")
	}
}

// Two goroutines race to consume the same token; exactly one may win.
func TestTokenConsumeConcurrent(t *testing.T) {
	ts, userID := setupTokenStore(t)
	ctx := context.Background()

	if _, err := ts.Create(ctx, "contested", userID, time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("create token: %v", err)
	}

	const attempts = 8
	results := make([]bool, attempts)
	errs := make([]error, attempts)

	var start sync.WaitGroup
	var done sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i], errs[i] = ts.Consume(ctx, "contested")
		}(i)
	}
	start.Done()
	done.Wait()

	wins := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("consume %d: %v", i, errs[i])
		}
		if results[i] {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}

func TestTokenDeleteExpired(t *testing.T) {
	ts, userID := setupTokenStore(t)
	ctx := context.Background()

	if _, err := ts.Create(ctx, "live", userID, time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := ts.Create(ctx, "dead", userID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create token: %v", err)
	}

	count, err := ts.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deleted, got %d", count)
	}

	n, err := ts.CountForUser(ctx, userID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining token, got %d", n)
	}
}
