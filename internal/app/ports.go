// Package app defines the application layer "ports" (interfaces) and the data
// contracts the core use-cases of linkvault depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (SQLite/PostgreSQL index, filesystem/S3 blob
// storage, HTTP layer, janitor) provide concrete implementations. No SQL,
// network or logging concerns belong here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/linkvault/internal/domain"
)

// Clock abstracts time to enable deterministic testing of expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// Hasher produces and verifies password digests.
type Hasher interface {
	domain.SecretVerifier
	// Hash returns a salted digest of secret.
	Hash(secret string) (string, error)
}

// ItemStore is the storage port for items. Implementations coordinate an
// index holding the item records with blob storage holding file payloads.
// Storage failures are reported wrapped in domain.ErrTransient.
type ItemStore interface {
	// PutBlob streams exactly size bytes into blob storage and returns the
	// locator to record on the item. It returns only once the data is durable.
	PutBlob(ctx context.Context, r io.Reader, size int64) (locator string, err error)

	// OpenBlob opens a stored payload for reading.
	OpenBlob(ctx context.Context, locator string) (io.ReadCloser, error)

	// DiscardBlob removes a payload best-effort. Failures are logged, not returned.
	DiscardBlob(ctx context.Context, locator string)

	// Insert persists a new item record. It returns domain.ErrDuplicateID when
	// the id is already taken.
	Insert(ctx context.Context, it *domain.Item) error

	// Get loads an item record, deleted or not. It returns domain.ErrNotFound
	// when no record exists.
	Get(ctx context.Context, id domain.ItemID) (*domain.Item, error)

	// RecordAccess applies one successful access as a single conditional
	// update and returns the post-update record. It returns (nil, nil) when
	// the record was no longer accessible at now.
	RecordAccess(ctx context.Context, id domain.ItemID, now time.Time) (*domain.Item, error)

	// Delete marks a live item deleted when requester may delete it and then
	// removes its payload. It reports whether this call deleted the item.
	Delete(ctx context.Context, id domain.ItemID, requester string, now time.Time) (bool, error)

	// ListOwned returns the live items owned by owner, newest first.
	ListOwned(ctx context.Context, owner string) ([]domain.Item, error)

	// Claim sets the owner of a live, unowned item and reports whether it did.
	Claim(ctx context.Context, id domain.ItemID, owner string) (bool, error)
}

// Observer receives operational events from the service. It is optional.
type Observer interface {
	ItemCreated(kind domain.Kind)
	AccessResolved(outcome domain.Outcome)
	ItemDeleted(reason string)
	ItemsClaimed(n int)
}

// nopObserver discards every event.
type nopObserver struct{}

func (nopObserver) ItemCreated(domain.Kind)       {}
func (nopObserver) AccessResolved(domain.Outcome) {}
func (nopObserver) ItemDeleted(string)            {}
func (nopObserver) ItemsClaimed(int)              {}
