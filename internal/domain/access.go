// Package domain access.go contains the pure access decision logic.
package domain

import "time"

// Outcome is the result of evaluating an access attempt.
type Outcome int

const (
	Allowed Outcome = iota
	DeniedNotFound
	DeniedExpired
	DeniedExhausted
	SecretRequired
	DeniedBadSecret
)

var outcomeNames = [...]string{
	Allowed:         "allowed",
	DeniedNotFound:  "not_found",
	DeniedExpired:   "expired",
	DeniedExhausted: "exhausted",
	SecretRequired:  "secret_required",
	DeniedBadSecret: "bad_secret",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// Err maps the outcome to its sentinel error; Allowed maps to nil.
func (o Outcome) Err() error {
	switch o {
	case Allowed:
		return nil
	case DeniedExpired:
		return ErrExpired
	case DeniedExhausted:
		return ErrExhausted
	case SecretRequired:
		return ErrSecretRequired
	case DeniedBadSecret:
		return ErrBadSecret
	default:
		return ErrNotFound
	}
}

// SecretVerifier checks a presented secret against a stored digest.
type SecretVerifier interface {
	Verify(secret, digest string) bool
}

// Evaluate decides whether an access to it at now with the presented secret
// may proceed. The check order is a contract: the first match wins.
//
//  1. missing or deleted     -> DeniedNotFound
//  2. now >= expiresAt       -> DeniedExpired
//  3. protected, no secret   -> SecretRequired
//  4. protected, bad secret  -> DeniedBadSecret
//  5. quota already met      -> DeniedExhausted
//  6. otherwise              -> Allowed
//
// Evaluate has no side effects. An empty secret means none was presented.
func Evaluate(it *Item, now time.Time, secret string, v SecretVerifier) Outcome {
	if it == nil || !it.Live() {
		return DeniedNotFound
	}
	if it.Expired(now) {
		return DeniedExpired
	}
	if it.Protected() {
		if secret == "" {
			return SecretRequired
		}
		if v == nil || !v.Verify(secret, it.SecretDigest) {
			return DeniedBadSecret
		}
	}
	if it.Exhausted() {
		return DeniedExhausted
	}
	return Allowed
}

// Settle classifies a lost race: the caller saw the record accessible, but
// the conditional update matched nothing. It is evaluated against the freshly
// reloaded record and never reports Allowed. A record finalized by reaching
// its quota reports Exhausted; one removed any other way reports NotFound. A
// record that still looks accessible lost to a concurrent access and is
// reported as exhausted.
func Settle(it *Item, now time.Time) Outcome {
	switch {
	case it == nil:
		return DeniedNotFound
	case !it.Live():
		if it.Exhausted() {
			return DeniedExhausted
		}
		return DeniedNotFound
	case it.Expired(now):
		return DeniedExpired
	default:
		return DeniedExhausted
	}
}
