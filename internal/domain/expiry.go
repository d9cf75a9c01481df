// Package domain expiry.go contains functions to resolve expiry against config values.
package domain

import "time"

// ResolveExpiry returns the absolute expiry for a new item. A zero requested
// time selects now+defaultTTL. The result must lie in (now, now+maxTTL];
// maxTTL <= 0 disables the upper bound. Violations return an ErrInvalid.
func ResolveExpiry(requested, now time.Time, defaultTTL, maxTTL time.Duration) (time.Time, error) {
	exp := requested
	if exp.IsZero() {
		exp = now.Add(defaultTTL)
	}
	if !exp.After(now) {
		return time.Time{}, Invalid("expiry must be in the future")
	}
	if maxTTL > 0 && exp.Sub(now) > maxTTL {
		return time.Time{}, Invalid("expiry exceeds maximum lifetime")
	}
	return exp.UTC(), nil
}
