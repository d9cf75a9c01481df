// Package store defines internal persistence adapter ports used by the
// higher-level app.ItemStore implementation. These ports isolate the concrete
// relational index (SQLite or PostgreSQL) and blob storage (filesystem or S3)
// so they can be tested and evolved independently. Callers outside this
// package interact only with the app.ItemStore implementation.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/haukened/linkvault/internal/domain"
)

// ErrBlobNotFound is returned by BlobStorage.Open when no payload exists for
// a locator.
var ErrBlobNotFound = errors.New("blob not found")

// Index abstracts the item record operations. Every mutating method is a
// single conditional statement so concurrent callers serialize per row.
type Index interface {
	// Insert adds a record; domain.ErrDuplicateID when the id is taken.
	Insert(ctx context.Context, it *domain.Item) error
	// Get returns the record or domain.ErrNotFound.
	Get(ctx context.Context, id domain.ItemID) (*domain.Item, error)
	// RecordAccess increments the counters of a live, unexpired record whose
	// quota is not yet met, finalizing it when the quota is reached. It
	// returns the updated record, or nil when no row qualified.
	RecordAccess(ctx context.Context, id domain.ItemID, now time.Time) (*domain.Item, error)
	// MarkDeleted finalizes a live record if requester may delete it and
	// returns its blob locator (empty for text). ok is false when no row
	// qualified.
	MarkDeleted(ctx context.Context, id domain.ItemID, requester string, now time.Time) (locator string, ok bool, err error)
	// ListExpired returns live records whose expiry precedes now.
	ListExpired(ctx context.Context, now time.Time) ([]ExpiredRecord, error)
	// Finalize marks a live record deleted and reports whether it did.
	Finalize(ctx context.Context, id domain.ItemID, now time.Time) (bool, error)
	// ListOwned returns live records for owner ordered newest first.
	ListOwned(ctx context.Context, owner string) ([]domain.Item, error)
	// Claim sets owner on a live, unowned record and reports whether it did.
	Claim(ctx context.Context, id domain.ItemID, owner string) (bool, error)
	// ListLiveLocators returns blob locators referenced by live file records.
	ListLiveLocators(ctx context.Context) ([]string, error)
	// Ping verifies the index is reachable.
	Ping(ctx context.Context) error
}

// BlobStorage abstracts file payload persistence.
type BlobStorage interface {
	// Put stores exactly size bytes from r under a new locator.
	Put(ctx context.Context, r io.Reader, size int64) (string, error)
	// Open returns a reader for the payload or ErrBlobNotFound.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	// Delete removes the payload. Deleting a missing payload is not an error.
	Delete(ctx context.Context, locator string) error
	// List returns the locators of payloads last written before cutoff.
	List(ctx context.Context, cutoff time.Time) ([]string, error)
	// Ping verifies the storage is reachable.
	Ping(ctx context.Context) error
}

// ExpiredRecord represents an expired item needing finalization and, when
// Locator is non-empty, blob cleanup.
type ExpiredRecord struct {
	ID      domain.ItemID
	Locator string
}
