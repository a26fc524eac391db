package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalManagerMutualExclusion(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	ctx := context.Background()

	first, err := mgr.Acquire(ctx, "ledger-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" {
		t.Fatal("expected a token on first acquire")
	}

	second, err := mgr.Acquire(ctx, "ledger-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != "" {
		t.Fatalf("expected empty token while held, got %q", second)
	}

	other, err := mgr.Acquire(ctx, "ledger-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == "" {
		t.Fatal("distinct ledgers must not contend")
	}
}

func TestLocalManagerReleaseThenReacquire(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	ctx := context.Background()

	first, _ := mgr.Acquire(ctx, "ledger-a")
	if first == "" {
		t.Fatal("expected a token")
	}
	if err := mgr.Release(ctx, "ledger-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := mgr.Acquire(ctx, "ledger-a")
	if second == "" {
		t.Fatal("expected reacquire after release")
	}
	if first == second {
		t.Fatal("tokens from separate grants must differ")
	}
}

func TestLocalManagerReleaseWithoutHoldIsNoOp(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	if err := mgr.Release(context.Background(), "ledger-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLocalManagerLeaseExpiry(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	now := time.Now()
	mgr.now = func() time.Time { return now }
	ctx := context.Background()

	first, _ := mgr.Acquire(ctx, "ledger-a")
	if first == "" {
		t.Fatal("expected a token")
	}

	now = now.Add(30 * time.Second)
	if token, _ := mgr.Acquire(ctx, "ledger-a"); token != "" {
		t.Fatal("lease should still be held before expiry")
	}

	now = now.Add(31 * time.Second)
	second, _ := mgr.Acquire(ctx, "ledger-a")
	if second == "" {
		t.Fatal("expected acquire after lease expiry")
	}
	if second == first {
		t.Fatal("expired lease must not reuse its token")
	}
}

func TestWithLockRunsAndReleases(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	ctx := context.Background()

	ran := false
	err := WithLock(ctx, mgr, "ledger-a", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	if token, _ := mgr.Acquire(ctx, "ledger-a"); token == "" {
		t.Fatal("lock should be free after WithLock returns")
	}
}

func TestWithLockFailsFastWhenHeld(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	ctx := context.Background()

	if token, _ := mgr.Acquire(ctx, "ledger-a"); token == "" {
		t.Fatal("setup acquire failed")
	}
	err := WithLock(ctx, mgr, "ledger-a", func(context.Context) error {
		t.Fatal("fn must not run while the lock is held")
		return nil
	})
	if !errors.Is(err, ErrLockAttemptFailed) {
		t.Fatalf("expected ErrLockAttemptFailed, got %v", err)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	mgr := NewLocalManager(time.Minute)
	ctx := context.Background()

	boom := errors.New("boom")
	if err := WithLock(ctx, mgr, "ledger-a", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if token, _ := mgr.Acquire(ctx, "ledger-a"); token == "" {
		t.Fatal("lock should be released after fn error")
	}
}
