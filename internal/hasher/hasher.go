// Package hasher provides bcrypt password digests for protected items.
package hasher

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/haukened/linkvault/internal/domain"
)

// maxSecretBytes is the longest input bcrypt accepts.
const maxSecretBytes = 72

// Bcrypt hashes and verifies secrets with a fixed work factor.
type Bcrypt struct {
	cost int
}

// New returns a Bcrypt hasher. cost must lie within bcrypt's supported range.
func New(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Hash returns the bcrypt digest of secret.
func (b *Bcrypt) Hash(secret string) (string, error) {
	if secret == "" {
		return "", domain.Invalid("password is empty")
	}
	if len(secret) > maxSecretBytes {
		return "", domain.Invalid("password too long")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), b.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether secret matches digest. Malformed digests never match.
func (b *Bcrypt) Verify(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
