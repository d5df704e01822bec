// Package ledger tracks single-use bong tokens and per-person quotas.
//
// All state is owned by the Ledger instance and lives for the duration of
// the event process only. Nothing is persisted.
package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// Ledger is the in-memory token store for one event.
// Safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	// active maps token id to its owner. Redeemed and revoked tokens are
	// removed and their ids are never reissued (uuid v4).
	active map[string]string

	// counts is the number of bongs issued per person. Decremented again
	// when delivery of a bong fails.
	counts map[string]int

	// validated is the append-only log of redeemed token ids.
	validated []string
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		active: make(map[string]string),
		counts: make(map[string]int),
	}
}

// Issue creates a new token owned by person and increments their counter.
// Quota is not checked here; callers check HasReachedQuota first.
func (l *Ledger) Issue(person string) string {
	id := uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[id] = person
	l.counts[person]++
	return id
}

// Redeem consumes the token with the given id.
// Returns the owner and true on success. An unknown or already redeemed id
// returns false and has no effect, so a duplicate webhook delivery can
// never double-count a token.
func (l *Ledger) Redeem(id string) (person string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	person, ok = l.active[id]
	if !ok {
		return "", false
	}

	delete(l.active, id)
	l.validated = append(l.validated, id)
	return person, true
}

// Revoke removes an undelivered token from the active set.
// Used together with RollbackIssue when delivery fails, so an id that never
// reached its owner cannot be redeemed. Unknown ids are ignored.
func (l *Ledger) Revoke(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, id)
}

// RollbackIssue undoes the counter increment from a failed delivery.
func (l *Ledger) RollbackIssue(person string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[person] > 0 {
		l.counts[person]--
	}
}

// HasReachedQuota reports whether person has been issued limit or more
// bongs. A limit of 0 means unlimited.
func (l *Ledger) HasReachedQuota(person string, limit int) bool {
	if limit <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[person] >= limit
}

// IssuedCount returns the number of bongs issued to person.
func (l *Ledger) IssuedCount(person string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[person]
}

// RedeemedCount returns the total number of validated bongs.
func (l *Ledger) RedeemedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.validated)
}
