package ledger

import (
	"sync"
	"testing"
)

func TestIssueAndRedeem(t *testing.T) {
	l := New()

	id := l.Issue("person-1")
	if id == "" {
		t.Fatal("Issue returned empty id")
	}
	if got := l.IssuedCount("person-1"); got != 1 {
		t.Errorf("IssuedCount = %d, want 1", got)
	}

	owner, ok := l.Redeem(id)
	if !ok {
		t.Fatal("Redeem of a fresh token failed")
	}
	if owner != "person-1" {
		t.Errorf("owner = %q, want person-1", owner)
	}
	if got := l.RedeemedCount(); got != 1 {
		t.Errorf("RedeemedCount = %d, want 1", got)
	}
}

func TestRedeemExactlyOnce(t *testing.T) {
	l := New()
	id := l.Issue("person-1")

	if _, ok := l.Redeem(id); !ok {
		t.Fatal("first redeem failed")
	}
	if _, ok := l.Redeem(id); ok {
		t.Error("second redeem of the same id succeeded")
	}
	if got := l.RedeemedCount(); got != 1 {
		t.Errorf("RedeemedCount = %d after double redeem, want 1", got)
	}
}

func TestRedeemUnknown(t *testing.T) {
	l := New()

	if _, ok := l.Redeem("xyz"); ok {
		t.Error("redeem of unknown id succeeded")
	}
	if got := l.RedeemedCount(); got != 0 {
		t.Errorf("RedeemedCount = %d, want 0", got)
	}
}

func TestRevoke(t *testing.T) {
	l := New()
	id := l.Issue("person-1")

	l.Revoke(id)
	if _, ok := l.Redeem(id); ok {
		t.Error("revoked token was redeemable")
	}

	// Revoking an unknown id is a no-op.
	l.Revoke("xyz")
}

func TestRollbackIssue(t *testing.T) {
	l := New()
	l.Issue("person-1")
	l.Issue("person-1")

	l.RollbackIssue("person-1")
	if got := l.IssuedCount("person-1"); got != 1 {
		t.Errorf("IssuedCount after rollback = %d, want 1", got)
	}

	// Never goes below zero.
	l.RollbackIssue("person-1")
	l.RollbackIssue("person-1")
	if got := l.IssuedCount("person-1"); got != 0 {
		t.Errorf("IssuedCount = %d, want 0", got)
	}
}

func TestHasReachedQuota(t *testing.T) {
	l := New()

	if l.HasReachedQuota("person-1", 0) {
		t.Error("limit 0 must mean unlimited")
	}

	l.Issue("person-1")
	l.Issue("person-1")

	if !l.HasReachedQuota("person-1", 2) {
		t.Error("quota of 2 not reached after 2 issues")
	}
	if l.HasReachedQuota("person-1", 3) {
		t.Error("quota of 3 reached after 2 issues")
	}
	if l.HasReachedQuota("person-1", 0) {
		t.Error("limit 0 must stay unlimited regardless of count")
	}
	if l.HasReachedQuota("person-2", 2) {
		t.Error("quota reached for person with no issues")
	}
}

func TestQuotaNeverExceededUnderSequence(t *testing.T) {
	// Quota enforcement applied before each issuance keeps the counter at
	// or below the limit through any issue/redeem sequence.
	l := New()
	const limit = 2

	var ids []string
	for i := 0; i < 5; i++ {
		if l.HasReachedQuota("p", limit) {
			break
		}
		ids = append(ids, l.Issue("p"))
	}
	if got := l.IssuedCount("p"); got != limit {
		t.Fatalf("IssuedCount = %d, want %d", got, limit)
	}

	for _, id := range ids {
		l.Redeem(id)
	}
	if l.HasReachedQuota("p", limit) != true {
		t.Error("redeeming must not reset the issued counter")
	}
}

func TestConcurrentIssueRedeem(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	ids := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- l.Issue("p")
		}()
	}
	wg.Wait()
	close(ids)

	redeemed := 0
	for id := range ids {
		if _, ok := l.Redeem(id); ok {
			redeemed++
		}
	}
	if redeemed != 100 {
		t.Errorf("redeemed %d of 100 issued tokens", redeemed)
	}
	if got := l.RedeemedCount(); got != 100 {
		t.Errorf("RedeemedCount = %d, want 100", got)
	}
}
