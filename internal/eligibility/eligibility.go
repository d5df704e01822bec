// Package eligibility computes the prize-draw pool: the people present in
// every configured room, minus an excluded set.
package eligibility

import (
	"context"
	"fmt"
	"sort"

	"github.com/martiert/bongbot/internal/pattern"
)

// Roster looks up room membership on the chat platform.
type Roster interface {
	// RoomEmails returns the email addresses of everyone in the room.
	RoomEmails(ctx context.Context, roomID string) ([]string, error)
}

// Resolver computes eligible people from room rosters.
type Resolver struct {
	roster Roster
}

// NewResolver creates a Resolver backed by the given roster lookup.
func NewResolver(roster Roster) *Resolver {
	return &Resolver{roster: roster}
}

// Eligible returns everyone who is a member of all rooms and does not match
// any exclude pattern. The room order only decides fetch order; the
// intersection is commutative, so the result is order-independent.
// The result is sorted for determinism.
func (r *Resolver) Eligible(ctx context.Context, rooms []string, exclude *pattern.List) ([]string, error) {
	if len(rooms) == 0 {
		return nil, fmt.Errorf("eligibility: no rooms configured")
	}

	first, err := r.roster.RoomEmails(ctx, rooms[0])
	if err != nil {
		return nil, fmt.Errorf("eligibility: fetch room %q: %w", rooms[0], err)
	}

	possible := make(map[string]struct{}, len(first))
	for _, email := range first {
		possible[email] = struct{}{}
	}

	for _, room := range rooms[1:] {
		emails, err := r.roster.RoomEmails(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("eligibility: fetch room %q: %w", room, err)
		}

		needed := make(map[string]struct{}, len(emails))
		for _, email := range emails {
			needed[email] = struct{}{}
		}
		for email := range possible {
			if _, ok := needed[email]; !ok {
				delete(possible, email)
			}
		}
		if len(possible) == 0 {
			return nil, nil
		}
	}

	out := make([]string, 0, len(possible))
	for email := range possible {
		if exclude.Match(email) {
			continue
		}
		out = append(out, email)
	}
	sort.Strings(out)
	return out, nil
}
