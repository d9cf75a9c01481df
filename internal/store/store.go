// Package store provides the concrete implementation of the application
// ItemStore port by composing lower-layer persistence ports (Index and
// BlobStorage). External packages should construct the store via New and
// interact through app.ItemStore; the janitor uses Sweep and Reconcile.
package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/linkvault/internal/app"
	"github.com/haukened/linkvault/internal/domain"
)

// Options tunes a Store.
type Options struct {
	// OrphanGrace is how old an unreferenced blob must be before Reconcile
	// removes it. It covers the window between a blob upload and the insert
	// of the record that references it.
	OrphanGrace time.Duration
	Logger      *slog.Logger
}

// Store composes an Index and BlobStorage to satisfy app.ItemStore.
type Store struct {
	index Index
	blobs BlobStorage
	clock app.Clock
	grace time.Duration
	log   *slog.Logger
}

// New returns a Store implementation of app.ItemStore.
func New(index Index, blobs BlobStorage, clock app.Clock, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{index: index, blobs: blobs, clock: clock, grace: opts.OrphanGrace, log: log.With("domain", "store")}
}

var _ app.ItemStore = (*Store)(nil)

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	// Processed counts records this sweep transitioned to deleted.
	Processed int
	// Errors lists ids whose blob removal or finalization failed.
	Errors []string
}

// wrap classifies adapter errors: domain sentinels and cancellation pass
// through, anything else is transient.
func wrap(err error) error {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrDuplicateID),
		errors.Is(err, context.Canceled):
		return err
	}
	return domain.Transient(err)
}

// PutBlob writes a payload to blob storage.
func (s *Store) PutBlob(ctx context.Context, r io.Reader, size int64) (string, error) {
	if size < 0 {
		return "", errors.New("size must be non-negative")
	}
	locator, err := s.blobs.Put(ctx, r, size)
	return locator, wrap(err)
}

// OpenBlob opens a payload. A missing payload is reported as not found.
func (s *Store) OpenBlob(ctx context.Context, locator string) (io.ReadCloser, error) {
	rc, err := s.blobs.Open(ctx, locator)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, domain.ErrNotFound
	}
	return rc, wrap(err)
}

// DiscardBlob removes a payload best-effort.
func (s *Store) DiscardBlob(ctx context.Context, locator string) {
	if locator == "" {
		return
	}
	if err := s.blobs.Delete(ctx, locator); err != nil {
		s.log.Warn("blob delete failed", "action", "discard", "locator", locator, "error", err)
	}
}

// Insert persists a new record.
func (s *Store) Insert(ctx context.Context, it *domain.Item) error {
	return wrap(s.index.Insert(ctx, it))
}

// Get loads a record.
func (s *Store) Get(ctx context.Context, id domain.ItemID) (*domain.Item, error) {
	it, err := s.index.Get(ctx, id)
	return it, wrap(err)
}

// RecordAccess applies one access via the index's conditional update.
func (s *Store) RecordAccess(ctx context.Context, id domain.ItemID, now time.Time) (*domain.Item, error) {
	it, err := s.index.RecordAccess(ctx, id, now)
	return it, wrap(err)
}

// Delete marks the record first and then removes its payload best-effort, so a
// failed blob removal never leaves a live record without content.
func (s *Store) Delete(ctx context.Context, id domain.ItemID, requester string, now time.Time) (bool, error) {
	locator, ok, err := s.index.MarkDeleted(ctx, id, requester, now)
	if err != nil || !ok {
		return false, wrap(err)
	}
	s.DiscardBlob(ctx, locator)
	return true, nil
}

// ListOwned returns an owner's live records.
func (s *Store) ListOwned(ctx context.Context, owner string) ([]domain.Item, error) {
	items, err := s.index.ListOwned(ctx, owner)
	return items, wrap(err)
}

// Claim sets the owner of one record.
func (s *Store) Claim(ctx context.Context, id domain.ItemID, owner string) (bool, error) {
	ok, err := s.index.Claim(ctx, id, owner)
	return ok, wrap(err)
}

// Sweep finalizes every live record whose expiry precedes now. Blob removal
// is attempted first and its failure does not stop the record from being
// marked. Running Sweep again is harmless.
func (s *Store) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	expired, err := s.index.ListExpired(ctx, now)
	if err != nil {
		return res, wrap(err)
	}
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		failed := false
		if rec.Locator != "" {
			if err := s.blobs.Delete(ctx, rec.Locator); err != nil {
				s.log.Warn("blob delete failed", "action", "sweep", "id", rec.ID, "error", err)
				failed = true
			}
		}
		ok, err := s.index.Finalize(ctx, rec.ID, now)
		if err != nil {
			s.log.Error("finalize failed", "action", "sweep", "id", rec.ID, "error", err)
			failed = true
		}
		if ok {
			res.Processed++
		}
		if failed {
			res.Errors = append(res.Errors, rec.ID.String())
		}
	}
	return res, nil
}

// Reconcile removes blobs that no live file record references and that are
// older than the orphan grace period. It returns the number removed. This
// also reclaims payloads of items finalized by access.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	if s.index == nil || s.blobs == nil {
		return 0, errors.New("store not properly initialized")
	}
	cutoff := s.clock.Now().Add(-s.grace)
	blobs, err := s.blobs.List(ctx, cutoff)
	if err != nil {
		return 0, wrap(err)
	}
	live, err := s.index.ListLiveLocators(ctx)
	if err != nil {
		return 0, wrap(err)
	}
	referenced := make(map[string]struct{}, len(live))
	for _, l := range live {
		referenced[l] = struct{}{}
	}
	removed := 0
	for _, b := range blobs {
		if _, ok := referenced[b]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, b); err != nil {
			s.log.Warn("orphan delete failed", "action", "reconcile", "locator", b, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Ping checks both the index and blob storage.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.index.Ping(ctx); err != nil {
		return wrap(err)
	}
	return wrap(s.blobs.Ping(ctx))
}
