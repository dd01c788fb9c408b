// Package cooldown decides whether a member may open a new ticket based on
// the guild's role time limits. It is pure: no clock access, no stores.
package cooldown

import (
	"time"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/timeparse"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAt is set when the member is still inside the cooldown window.
	RetryAt time.Time
	// Limit is the threshold that governed the decision, when one applied.
	Limit time.Duration
}

// CanOpen applies the guild's role time limits to a member.
//
// Excluded roles are absolute and short-circuit every other check, including
// a role that also appears in the included list. Among matching included
// roles the maximum threshold governs. A zero lastOpen means the member has
// no prior ticket on record.
func CanOpen(memberRoles []string, cfg domain.RoleTimeLimitConfig, lastOpen, now time.Time) Decision {
	held := make(map[string]struct{}, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = struct{}{}
	}

	for _, id := range cfg.Excluded {
		if _, ok := held[id]; ok {
			return Decision{Allowed: true}
		}
	}

	var limit time.Duration
	for _, entry := range cfg.Included {
		if _, ok := held[entry.RoleID]; !ok {
			continue
		}
		threshold, err := timeparse.ParseThreshold(entry.Threshold)
		if err != nil {
			// an unusable entry imposes no limit
			continue
		}
		if threshold > limit {
			limit = threshold
		}
	}

	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if lastOpen.IsZero() {
		return Decision{Allowed: true, Limit: limit}
	}

	retryAt := lastOpen.Add(limit)
	return Decision{
		Allowed: !now.Before(retryAt),
		RetryAt: retryAt,
		Limit:   limit,
	}
}
