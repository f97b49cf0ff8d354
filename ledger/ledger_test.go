package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/commercekit/identity/store"
	"github.com/commercekit/identity/store/memory"
)

func newTestLedger(t *testing.T, clock func() time.Time) (*Ledger, *memory.Store) {
	t.Helper()
	st := memory.New()
	led, err := New(st, Config{
		RefreshTTL: time.Hour,
		LockWait:   time.Second,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return led, st
}

func TestRotateChain(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	r0, rec0, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if rec0.ParentID != "" {
		t.Fatalf("lineage root must have no parent, got %q", rec0.ParentID)
	}

	r1, rec1, err := led.Rotate(ctx, r0)
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}
	if rec1.ParentID != rec0.ID {
		t.Fatalf("successor parent = %q, want %q", rec1.ParentID, rec0.ID)
	}
	if rec1.LineageID != rec0.LineageID {
		t.Fatalf("rotation must stay in lineage %q, got %q", rec0.LineageID, rec1.LineageID)
	}

	r2, rec2, err := led.Rotate(ctx, r1)
	if err != nil {
		t.Fatalf("second rotation failed: %v", err)
	}
	if rec2.ParentID != rec1.ID {
		t.Fatalf("successor parent = %q, want %q", rec2.ParentID, rec1.ID)
	}
	if r0 == r1 || r1 == r2 || r0 == r2 {
		t.Fatal("rotation must mint fresh token values")
	}

	// r2 is the only live link.
	if _, _, err := led.Rotate(ctx, r2); err != nil {
		t.Fatalf("rotating the head failed: %v", err)
	}
}

func TestReuseBurnsLineage(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	r0, _, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	r1, _, err := led.Rotate(ctx, r0)
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	// Replaying the spent r0 must fail and burn everything, including
	// the never-used successor r1.
	if _, _, err := led.Rotate(ctx, r0); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("reuse error = %v, want ErrTokenRevoked", err)
	}
	if _, _, err := led.Rotate(ctx, r1); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("post-burn rotation error = %v, want ErrTokenRevoked", err)
	}
}

func TestReuseDoesNotTouchOtherLineages(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	burned, _, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	other, _, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	next, _, err := led.Rotate(ctx, burned)
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	if _, _, err := led.Rotate(ctx, burned); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("reuse error = %v, want ErrTokenRevoked", err)
	}
	_ = next

	// The same subject's second device keeps working.
	if _, _, err := led.Rotate(ctx, other); err != nil {
		t.Fatalf("unrelated lineage must survive: %v", err)
	}
}

func TestRotateExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	led, _ := newTestLedger(t, clock)

	r0, _, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	if _, _, err := led.Rotate(ctx, r0); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired rotation error = %v, want ErrTokenExpired", err)
	}
}

func TestRotateUnknownValue(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	if _, _, err := led.Rotate(ctx, "bogus"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("unknown token error = %v, want ErrTokenNotFound", err)
	}
	if _, _, err := led.Rotate(ctx, ""); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("empty token error = %v, want ErrTokenNotFound", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	r0, rec0, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	rec, err := led.Revoke(ctx, r0)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if rec.LineageID != rec0.LineageID {
		t.Fatalf("Revoke returned lineage %q, want %q", rec.LineageID, rec0.LineageID)
	}

	// Second revoke and unknown-token revoke both succeed quietly.
	if _, err := led.Revoke(ctx, r0); err != nil {
		t.Fatalf("repeat Revoke failed: %v", err)
	}
	if rec, err := led.Revoke(ctx, "never-issued"); err != nil || rec.ID != "" {
		t.Fatalf("unknown Revoke = (%+v, %v), want zero record and nil", rec, err)
	}

	if _, _, err := led.Rotate(ctx, r0); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("post-revoke rotation error = %v, want ErrTokenRevoked", err)
	}
}

func TestRevokeAllForSubject(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	mine, _, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	theirs, _, err := led.Issue(ctx, "u2")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := led.RevokeAllForSubject(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAllForSubject failed: %v", err)
	}

	if _, _, err := led.Rotate(ctx, mine); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("revoked subject rotation error = %v, want ErrTokenRevoked", err)
	}
	if _, _, err := led.Rotate(ctx, theirs); err != nil {
		t.Fatalf("other subject must be unaffected: %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	r0, _, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _, err := led.Rotate(ctx, r0)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTokenRevoked):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t, nil)

	r0, rec0, err := led.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	got, err := led.Lookup(ctx, r0)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.ID != rec0.ID {
		t.Fatalf("Lookup id = %q, want %q", got.ID, rec0.ID)
	}
	if _, err := led.Lookup(ctx, "missing"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("Lookup unknown error = %v, want ErrTokenNotFound", err)
	}
}

var _ store.RefreshTokenStore = (*memory.Store)(nil)
