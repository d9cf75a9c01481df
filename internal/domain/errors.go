// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain-level errors reused by higher layers.
//
// ErrNotFound deliberately covers both "never existed" and "deleted" so a
// caller cannot learn that a link was ever live.
var (
	ErrNotFound       = errors.New("not found")
	ErrExpired        = errors.New("expired")
	ErrExhausted      = errors.New("view limit reached")
	ErrSecretRequired = errors.New("password required")
	ErrBadSecret      = errors.New("incorrect password")
	ErrForbidden      = errors.New("forbidden")
	ErrTransient      = errors.New("temporarily unavailable")
	ErrInvalid        = errors.New("invalid request")

	ErrInvalidID   = fmt.Errorf("%w: invalid item id", ErrInvalid)
	ErrDuplicateID = errors.New("duplicate item id")
)

// Transient wraps a storage or blob I/O failure so callers can detect the
// retryable class with errors.Is(err, ErrTransient). nil stays nil.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Invalid returns an ErrInvalid carrying a short human readable reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, reason)
}
