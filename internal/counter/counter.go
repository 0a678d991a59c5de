// Package counter provides sliding-window event counters that callers use to
// build pre-aggregated risk context (failed_attempts_5m, ip_registration_count_1h, ...).
package counter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultRetention bounds how long events are kept; Count windows longer than this undercount.
const DefaultRetention = 24 * time.Hour

// Counter records timestamped events per key and counts them over a trailing window
type Counter interface {
	Add(ctx context.Context, key string, at time.Time) error
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

const keyPrefix = "aegis:counter"

// FailedLoginKey counts failed logins for a login subject (email, username or user id)
func FailedLoginKey(subject string) string {
	return fmt.Sprintf("%s:login_failed:%s", keyPrefix, strings.ToLower(strings.TrimSpace(subject)))
}

// IPRegistrationKey counts registrations from one client IP
func IPRegistrationKey(ip string) string {
	return fmt.Sprintf("%s:registration_ip:%s", keyPrefix, ip)
}

// ActionKey counts one user's occurrences of an action
func ActionKey(userID, action string) string {
	return fmt.Sprintf("%s:action:%s:%s", keyPrefix, userID, action)
}
