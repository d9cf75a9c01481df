// Package domain id.go contains functions to generate, parse, and validate IDs
package domain

import (
	"crypto/rand"
)

// IDLength is the number of characters in an ItemID.
const IDLength = 10

// idAlphabet is the URL-safe 62 symbol alphabet used for item ids.
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ItemID is the canonical identifier for a shared item.
// It is 10 characters drawn uniformly from [0-9A-Za-z] (~59.5 bits).
type ItemID string

// NewID generates a new cryptographically random ItemID.
// Bytes >= 248 are rejected so every symbol is equally likely (248 = 4*62).
func NewID() (ItemID, error) {
	out := make([]byte, 0, IDLength)
	var buf [16]byte
	for len(out) < IDLength {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == IDLength {
				break
			}
		}
	}
	return ItemID(out), nil
}

// ParseID validates s and returns it as an ItemID. It enforces:
// - length == 10
// - only [0-9A-Za-z]
// Returns ErrInvalidID on failure.
func ParseID(s string) (ItemID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return ItemID(s), nil
}

// String returns the string form of the ItemID.
func (id ItemID) String() string { return string(id) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id ItemID) Valid() bool { return isValidID(string(id)) }

// isValidID performs validation without allocating errors.
func isValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
