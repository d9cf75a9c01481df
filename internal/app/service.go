// Package app contains the application orchestration layer for linkvault. It
// wires domain rules with persistence ports without performing any I/O itself.
package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haukened/linkvault/internal/domain"
)

// maxIDAttempts bounds id regeneration when a freshly drawn id collides.
const maxIDAttempts = 5

// maxDisplayName is the longest accepted display label, in characters.
const maxDisplayName = 255

// Service orchestrates item creation, access, deletion and ownership using the
// injected store, clock and hasher.
type Service struct {
	Store        ItemStore
	Clock        Clock
	Hasher       Hasher
	Observer     Observer // optional
	MaxTextBytes int64
	MaxFileBytes int64
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
}

// FileUpload is a file payload supplied at creation. Body must yield exactly
// Size bytes.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CreateRequest describes a new item. A zero ExpiresAt selects the default
// lifetime; a zero MaxViews means no view limit; an empty Secret means no
// password.
type CreateRequest struct {
	Kind        domain.Kind
	Text        string
	File        *FileUpload
	Secret      string
	ExpiresAt   time.Time
	MaxViews    int
	OneTime     bool
	OwnerID     string
	DisplayName string
}

func (s *Service) observer() Observer {
	if s.Observer == nil {
		return nopObserver{}
	}
	return s.Observer
}

// Create validates req, stores the payload and inserts the item record.
// Returns the generated id and the resolved expiry.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.ItemID, time.Time, error) {
	now := s.Clock.Now()
	it, err := s.buildItem(req, now)
	if err != nil {
		return "", time.Time{}, err
	}
	if req.Secret != "" {
		digest, hErr := s.Hasher.Hash(req.Secret)
		if hErr != nil {
			return "", time.Time{}, hErr
		}
		it.SecretDigest = digest
	}
	// the payload must be durable before the record that references it exists.
	if it.Kind == domain.KindFile {
		locator, pErr := s.Store.PutBlob(ctx, req.File.Body, req.File.Size)
		if pErr != nil {
			return "", time.Time{}, pErr
		}
		it.File.Locator = locator
	}
	if err = s.insertWithFreshID(ctx, it); err != nil {
		if it.File != nil {
			s.Store.DiscardBlob(ctx, it.File.Locator)
		}
		return "", time.Time{}, err
	}
	s.observer().ItemCreated(it.Kind)
	return it.ID, it.ExpiresAt, nil
}

func (s *Service) buildItem(req CreateRequest, now time.Time) (*domain.Item, error) {
	if !req.Kind.Valid() {
		return nil, domain.Invalid("kind must be text or file")
	}
	if req.MaxViews < 0 {
		return nil, domain.Invalid("max views must be positive")
	}
	if utf8.RuneCountInString(req.DisplayName) > maxDisplayName {
		return nil, domain.Invalid("display name too long")
	}
	expiresAt, err := domain.ResolveExpiry(req.ExpiresAt, now, s.DefaultTTL, s.MaxTTL)
	if err != nil {
		return nil, err
	}
	it := &domain.Item{
		Kind:        req.Kind,
		ExpiresAt:   expiresAt.Truncate(time.Millisecond),
		MaxViews:    req.MaxViews,
		OneTime:     req.OneTime,
		OwnerID:     req.OwnerID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		CreatedAt:   now.UTC(),
	}
	switch req.Kind {
	case domain.KindText:
		if req.Text == "" {
			return nil, domain.Invalid("text content is required")
		}
		if s.MaxTextBytes > 0 && int64(len(req.Text)) > s.MaxTextBytes {
			return nil, domain.Invalid("text content too large")
		}
		it.Text = req.Text
	case domain.KindFile:
		f := req.File
		if f == nil || f.Body == nil {
			return nil, domain.Invalid("file is required")
		}
		if f.Size <= 0 {
			return nil, domain.Invalid("file is empty")
		}
		if s.MaxFileBytes > 0 && f.Size > s.MaxFileBytes {
			return nil, domain.Invalid("file too large")
		}
		name := filepath.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "." || name == "/" || name == "" {
			name = "file"
		}
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		it.File = &domain.FileMeta{Name: name, Size: f.Size, ContentType: ct}
	}
	return it, nil
}

// insertWithFreshID draws ids until one is free or the attempts run out.
func (s *Service) insertWithFreshID(ctx context.Context, it *domain.Item) error {
	var err error
	for range maxIDAttempts {
		if it.ID, err = domain.NewID(); err != nil {
			return err
		}
		err = s.Store.Insert(ctx, it)
		if !errors.Is(err, domain.ErrDuplicateID) {
			return err
		}
	}
	return domain.Transient(err)
}

// load fetches the record for a raw id. Malformed and missing ids both yield
// a nil item so the evaluator reports them as not found.
func (s *Service) load(ctx context.Context, raw string) (domain.ItemID, *domain.Item, error) {
	id, err := domain.ParseID(raw)
	if err != nil {
		return "", nil, nil
	}
	it, err := s.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return id, nil, nil
	}
	return id, it, err
}

// Access evaluates and, when allowed, records one view of the item. Denials
// are returned as the matching domain sentinel with no state change.
func (s *Service) Access(ctx context.Context, raw, secret string) (domain.ContentView, error) {
	now := s.Clock.Now()
	id, it, err := s.load(ctx, raw)
	if err != nil {
		return domain.ContentView{}, err
	}
	outcome := domain.Evaluate(it, now, secret, s.Hasher)
	if outcome != domain.Allowed {
		s.observer().AccessResolved(outcome)
		return domain.ContentView{}, outcome.Err()
	}
	updated, err := s.Store.RecordAccess(ctx, id, now)
	if err != nil {
		return domain.ContentView{}, err
	}
	if updated == nil {
		// a concurrent access, deletion or sweep got there first.
		reloaded, _, gErr := s.reload(ctx, id)
		if gErr != nil {
			return domain.ContentView{}, gErr
		}
		outcome = domain.Settle(reloaded, now)
		s.observer().AccessResolved(outcome)
		return domain.ContentView{}, outcome.Err()
	}
	s.observer().AccessResolved(domain.Allowed)
	view := updated.View()
	if view.Final {
		s.observer().ItemDeleted("exhausted")
	}
	return view, nil
}

func (s *Service) reload(ctx context.Context, id domain.ItemID) (*domain.Item, bool, error) {
	it, err := s.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it, true, nil
}

// Check runs the access evaluation without recording a view.
func (s *Service) Check(ctx context.Context, raw, secret string) error {
	_, it, err := s.load(ctx, raw)
	if err != nil {
		return err
	}
	return domain.Evaluate(it, s.Clock.Now(), secret, s.Hasher).Err()
}

// Delete removes an item on behalf of requester (empty when anonymous).
// Anonymous items may be deleted by anyone; owned items only by their owner.
func (s *Service) Delete(ctx context.Context, raw, requester string) error {
	id, err := domain.ParseID(raw)
	if err != nil {
		return domain.ErrNotFound
	}
	deleted, err := s.Store.Delete(ctx, id, requester, s.Clock.Now())
	if err != nil {
		return err
	}
	if deleted {
		s.observer().ItemDeleted("owner")
		return nil
	}
	it, found, err := s.reload(ctx, id)
	switch {
	case err != nil:
		return err
	case !found || !it.Live():
		return domain.ErrNotFound
	case it.OwnerID != "" && it.OwnerID != requester:
		return domain.ErrForbidden
	default:
		return domain.ErrNotFound
	}
}

// List returns summaries of the live items owned by owner, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]domain.ItemSummary, error) {
	if owner == "" {
		return nil, domain.ErrForbidden
	}
	items, err := s.Store.ListOwned(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ItemSummary, 0, len(items))
	for i := range items {
		out = append(out, items[i].Summary())
	}
	return out, nil
}

// Claim assigns owner to each listed item that is live and still anonymous.
// Other ids are skipped. A storage failure stops the batch and returns what
// was claimed before it alongside the error.
func (s *Service) Claim(ctx context.Context, ids []string, owner string) ([]string, error) {
	if owner == "" {
		return nil, domain.ErrForbidden
	}
	claimed := make([]string, 0, len(ids))
	seen := make(map[domain.ItemID]struct{}, len(ids))
	defer func() { s.observer().ItemsClaimed(len(claimed)) }()
	for _, raw := range ids {
		id, err := domain.ParseID(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ok, err := s.Store.Claim(ctx, id, owner)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, id.String())
		}
	}
	return claimed, nil
}

// OpenBlob opens the file payload referenced by a successful access.
func (s *Service) OpenBlob(ctx context.Context, view domain.ContentView) (io.ReadCloser, error) {
	if view.Kind != domain.KindFile || view.File == nil {
		return nil, domain.Invalid("item has no file payload")
	}
	return s.Store.OpenBlob(ctx, view.File.Locator)
}

// ReleaseBlob discards the payload once the access that finalized the item
// has been served. It is a no-op for any other view.
func (s *Service) ReleaseBlob(ctx context.Context, view domain.ContentView) {
	if !view.Final || view.File == nil {
		return
	}
	s.Store.DiscardBlob(ctx, view.File.Locator)
}
