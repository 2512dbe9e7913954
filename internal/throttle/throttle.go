// Package throttle is the single cooldown contract shared by the alert
// rule engine and the health monitor. Cooldown state lives in the
// shared key-value store so it survives restarts and is visible to
// every worker process.
package throttle

import (
	"context"
	"fmt"
	"time"
)

// Store gates repeat alerts. SetIfAbsent must be atomic (SET NX EX);
// callers acquire the cooldown and dispatch only when acquisition
// succeeds, so near-simultaneous duplicates cannot both pass.
type Store interface {
	// SetIfAbsent sets the key with a TTL when it does not exist.
	// Returns true when this caller acquired it.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Exists reports whether the cooldown is currently active.
	Exists(ctx context.Context, key string) (bool, error)
}

// RuleKey is the cooldown key for one alert rule.
func RuleKey(ruleID int64) string {
	return fmt.Sprintf("shelfjet:alert:throttle:%d", ruleID)
}

// JobKey is the cooldown key for one (jobType, checkKind) escalation.
func JobKey(jobType, kind string) string {
	return fmt.Sprintf("shelfjet:health:throttle:%s:%s", jobType, kind)
}
