package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/linkvault/internal/app"
	"github.com/haukened/linkvault/internal/domain"
	"github.com/haukened/linkvault/internal/hasher"
	"github.com/haukened/linkvault/internal/store"
	"github.com/haukened/linkvault/internal/store/filesystem"
	"github.com/haukened/linkvault/internal/store/sqlite"
)

// testClock is a settable app.Clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingObserver records service events.
type countingObserver struct {
	mu       sync.Mutex
	created  map[domain.Kind]int
	outcomes map[domain.Outcome]int
	deleted  int
	claimed  int
}

func newObserver() *countingObserver {
	return &countingObserver{created: map[domain.Kind]int{}, outcomes: map[domain.Outcome]int{}}
}

func (o *countingObserver) ItemCreated(k domain.Kind) {
	o.mu.Lock()
	o.created[k]++
	o.mu.Unlock()
}

func (o *countingObserver) AccessResolved(out domain.Outcome) {
	o.mu.Lock()
	o.outcomes[out]++
	o.mu.Unlock()
}

func (o *countingObserver) ItemDeleted(string) {
	o.mu.Lock()
	o.deleted++
	o.mu.Unlock()
}

func (o *countingObserver) ItemsClaimed(n int) {
	o.mu.Lock()
	o.claimed += n
	o.mu.Unlock()
}

type env struct {
	svc   *app.Service
	store *store.Store
	clock *testClock
	obs   *countingObserver
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "file:"+filepath.Join(t.TempDir(), "svc.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ix, err := sqlite.New(ctx, db)
	require.NoError(t, err)
	bs, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	h, err := hasher.New(4)
	require.NoError(t, err)
	clock := &testClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	st := store.New(ix, bs, clock, store.Options{OrphanGrace: time.Minute})
	obs := newObserver()
	svc := &app.Service{
		Store:        st,
		Clock:        clock,
		Hasher:       h,
		Observer:     obs,
		MaxTextBytes: 64,
		MaxFileBytes: 32,
		DefaultTTL:   10 * time.Minute,
		MaxTTL:       24 * time.Hour,
	}
	return env{svc: svc, store: st, clock: clock, obs: obs}
}

func (e env) createText(t *testing.T, req app.CreateRequest) domain.ItemID {
	t.Helper()
	req.Kind = domain.KindText
	if req.Text == "" {
		req.Text = "hello"
	}
	id, _, err := e.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return id
}

func TestTextRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, exp, err := e.svc.Create(ctx, app.CreateRequest{Kind: domain.KindText, Text: "hello"})
	require.NoError(t, err)
	assert.True(t, id.Valid())
	assert.True(t, exp.Equal(e.clock.Now().Add(10*time.Minute)), "default lifetime applies")

	view, err := e.svc.Access(ctx, id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Text)
	assert.EqualValues(t, 1, view.ViewCount)
	assert.False(t, view.Final)
	assert.Equal(t, 1, e.obs.created[domain.KindText])
}

// gatedStore holds the first n loads until all n callers have loaded, so
// every caller evaluates the same pre-update record before any commits.
type gatedStore struct {
	app.ItemStore
	n        int64
	calls    atomic.Int64
	arrivals sync.WaitGroup
}

func newGated(inner app.ItemStore, n int) *gatedStore {
	g := &gatedStore{ItemStore: inner, n: int64(n)}
	g.arrivals.Add(n)
	return g
}

func (g *gatedStore) Get(ctx context.Context, id domain.ItemID) (*domain.Item, error) {
	it, err := g.ItemStore.Get(ctx, id)
	if g.calls.Add(1) <= g.n {
		g.arrivals.Done()
		g.arrivals.Wait()
	}
	return it, err
}

func accessConcurrently(svc *app.Service, id domain.ItemID, n int) map[error]int {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[error]int{}
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Access(context.Background(), id.String(), "")
			mu.Lock()
			results[err]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func TestConcurrentAccessExactQuota(t *testing.T) {
	e := newEnv(t)
	id := e.createText(t, app.CreateRequest{MaxViews: 3})
	e.svc.Store = newGated(e.store, 50)

	results := accessConcurrently(e.svc, id, 50)
	assert.Equal(t, 3, results[nil])
	assert.Equal(t, 47, results[domain.ErrExhausted])

	final, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, final.ViewCount)
	assert.False(t, final.Live())
}

func TestConcurrentAccessNeverOverruns(t *testing.T) {
	e := newEnv(t)
	id := e.createText(t, app.CreateRequest{MaxViews: 3})

	results := accessConcurrently(e.svc, id, 50)
	assert.Equal(t, 3, results[nil])
	assert.Equal(t, 47, results[domain.ErrExhausted]+results[domain.ErrNotFound])

	final, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, final.ViewCount)
}

func TestOneTimeSucceedsAtMostOnce(t *testing.T) {
	e := newEnv(t)
	id := e.createText(t, app.CreateRequest{OneTime: true, MaxViews: 5})
	e.svc.Store = newGated(e.store, 20)

	results := accessConcurrently(e.svc, id, 20)
	assert.Equal(t, 1, results[nil])
	assert.Equal(t, 19, results[domain.ErrExhausted])
}

func TestFinalizedItemsReportNotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exhausted := e.createText(t, app.CreateRequest{MaxViews: 1})
	_, err := e.svc.Access(ctx, exhausted.String(), "")
	require.NoError(t, err)

	deleted := e.createText(t, app.CreateRequest{})
	require.NoError(t, e.svc.Delete(ctx, deleted.String(), ""))

	swept := e.createText(t, app.CreateRequest{ExpiresAt: e.clock.Now().Add(time.Minute)})
	e.clock.Advance(2 * time.Minute)
	res, err := e.store.Sweep(ctx, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	for _, id := range []domain.ItemID{exhausted, deleted, swept} {
		_, err := e.svc.Access(ctx, id.String(), "")
		assert.ErrorIs(t, err, domain.ErrNotFound, "id %s", id)
		assert.NotErrorIs(t, err, domain.ErrExpired)
	}
}

func TestExpiredBeforeSweepReturnsExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := e.clock.Now()
	it := &domain.Item{
		ID:        "expiredAAA",
		Kind:      domain.KindText,
		Text:      "late",
		ExpiresAt: now.Add(-time.Second),
		CreatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, e.store.Insert(ctx, it))

	_, err := e.svc.Access(ctx, it.ID.String(), "")
	assert.ErrorIs(t, err, domain.ErrExpired)
	again, err := e.store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, again.Live(), "access never finalizes an expired item")
	assert.Zero(t, again.ViewCount)
}

func TestPasswordScenarios(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.createText(t, app.CreateRequest{Secret: "s3cret", MaxViews: 1})

	_, err := e.svc.Access(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrSecretRequired)
	_, err = e.svc.Access(ctx, id.String(), "wrong")
	assert.ErrorIs(t, err, domain.ErrBadSecret)

	assert.NoError(t, e.svc.Check(ctx, id.String(), "s3cret"))
	assert.NoError(t, e.svc.Check(ctx, id.String(), "s3cret"), "checks never consume views")

	view, err := e.svc.Access(ctx, id.String(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Text)
	assert.True(t, view.Final)

	stored, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", stored.SecretDigest)
}

func TestAccessMalformedID(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Access(context.Background(), "../../etc", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, e.svc.Check(context.Background(), "short", ""), domain.ErrNotFound)
}

func TestClaimIdempotence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.createText(t, app.CreateRequest{})
	b := e.createText(t, app.CreateRequest{})
	owned := e.createText(t, app.CreateRequest{OwnerID: "other"})
	gone := e.createText(t, app.CreateRequest{})
	require.NoError(t, e.svc.Delete(ctx, gone.String(), ""))

	ids := []string{a.String(), b.String(), a.String(), owned.String(), gone.String(), "bad id", "zzzzzzzzzz"}
	claimed, err := e.svc.Claim(ctx, ids, "me")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.String(), b.String()}, claimed)

	claimed, err = e.svc.Claim(ctx, ids, "me")
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = e.svc.Claim(ctx, nil, "me")
	require.NoError(t, err)
	assert.Empty(t, claimed)

	_, err = e.svc.Claim(ctx, ids, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	list, err := e.svc.List(ctx, "me")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 2, e.obs.claimed)
}

// failingClaimStore fails the second claim with a storage error.
type failingClaimStore struct {
	app.ItemStore
	calls int
}

func (f *failingClaimStore) Claim(ctx context.Context, id domain.ItemID, owner string) (bool, error) {
	f.calls++
	if f.calls == 2 {
		return false, domain.Transient(errors.New("connection reset"))
	}
	return true, nil
}

func TestClaimStopsOnStorageFailure(t *testing.T) {
	fs := &failingClaimStore{}
	svc := &app.Service{Store: fs, Clock: &testClock{now: time.Now()}}
	claimed, err := svc.Claim(context.Background(), []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"}, "me")
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, []string{"aaaaaaaaaa"}, claimed)
	assert.Equal(t, 2, fs.calls)
}

func TestDeleteOwnershipRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	anon := e.createText(t, app.CreateRequest{})
	mine := e.createText(t, app.CreateRequest{OwnerID: "me"})

	assert.NoError(t, e.svc.Delete(ctx, anon.String(), "someone"))
	assert.ErrorIs(t, e.svc.Delete(ctx, anon.String(), "someone"), domain.ErrNotFound)

	assert.ErrorIs(t, e.svc.Delete(ctx, mine.String(), ""), domain.ErrForbidden)
	assert.ErrorIs(t, e.svc.Delete(ctx, mine.String(), "intruder"), domain.ErrForbidden)
	assert.NoError(t, e.svc.Delete(ctx, mine.String(), "me"))

	assert.ErrorIs(t, e.svc.Delete(ctx, "zzzzzzzzzz", "me"), domain.ErrNotFound)
	assert.ErrorIs(t, e.svc.Delete(ctx, "bad", "me"), domain.ErrNotFound)
	assert.Equal(t, 2, e.obs.deleted)
}

func TestListOwnedNewestFirstWithoutPayload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.createText(t, app.CreateRequest{OwnerID: "me", DisplayName: "first", Secret: "pw"})
	e.clock.Advance(time.Second)
	second := e.createText(t, app.CreateRequest{OwnerID: "me", DisplayName: "second"})
	e.clock.Advance(time.Second)
	removed := e.createText(t, app.CreateRequest{OwnerID: "me"})
	require.NoError(t, e.svc.Delete(ctx, removed.String(), "me"))

	list, err := e.svc.List(ctx, "me")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
	assert.True(t, list[1].Protected)
	assert.Equal(t, "first", list[1].DisplayName)

	_, err = e.svc.List(ctx, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := e.clock.Now()
	file := func(size int64) *app.FileUpload {
		return &app.FileUpload{Name: "a.txt", Size: size, Body: strings.NewReader(strings.Repeat("x", int(size)))}
	}
	tests := []struct {
		name string
		req  app.CreateRequest
	}{
		{"unknown kind", app.CreateRequest{Kind: "image", Text: "x"}},
		{"empty text", app.CreateRequest{Kind: domain.KindText}},
		{"text too large", app.CreateRequest{Kind: domain.KindText, Text: strings.Repeat("x", 65)}},
		{"negative max views", app.CreateRequest{Kind: domain.KindText, Text: "x", MaxViews: -1}},
		{"expiry in the past", app.CreateRequest{Kind: domain.KindText, Text: "x", ExpiresAt: now.Add(-time.Second)}},
		{"expiry too far", app.CreateRequest{Kind: domain.KindText, Text: "x", ExpiresAt: now.Add(48 * time.Hour)}},
		{"display name too long", app.CreateRequest{Kind: domain.KindText, Text: "x", DisplayName: strings.Repeat("n", 256)}},
		{"missing file", app.CreateRequest{Kind: domain.KindFile}},
		{"empty file", app.CreateRequest{Kind: domain.KindFile, File: file(0)}},
		{"file too large", app.CreateRequest{Kind: domain.KindFile, File: file(33)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, domain.ErrInvalid)
		})
	}
}

func TestFileAccessAndRelease(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := []byte("file-bytes")
	id, _, err := e.svc.Create(ctx, app.CreateRequest{
		Kind:    domain.KindFile,
		OneTime: true,
		File:    &app.FileUpload{Name: `C:\Users\me\report.txt`, Size: int64(len(data)), Body: bytes.NewReader(data)},
	})
	require.NoError(t, err)

	view, err := e.svc.Access(ctx, id.String(), "")
	require.NoError(t, err)
	require.NotNil(t, view.File)
	assert.Equal(t, "report.txt", view.File.Name)
	assert.Equal(t, "application/octet-stream", view.File.ContentType)
	assert.EqualValues(t, 1, view.DownloadCount)
	assert.True(t, view.Final)

	rc, err := e.svc.OpenBlob(ctx, view)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, data, got)

	e.svc.ReleaseBlob(ctx, view)
	_, err = e.svc.OpenBlob(ctx, view)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.svc.OpenBlob(ctx, domain.ContentView{Kind: domain.KindText})
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

// scriptedStore drives Create through collisions and failures.
type scriptedStore struct {
	app.ItemStore
	insertErrs []error
	inserts    int
	discarded  []string
}

func (s *scriptedStore) PutBlob(context.Context, io.Reader, int64) (string, error) {
	return "locator-1", nil
}

func (s *scriptedStore) DiscardBlob(_ context.Context, locator string) {
	s.discarded = append(s.discarded, locator)
}

func (s *scriptedStore) Insert(context.Context, *domain.Item) error {
	s.inserts++
	if len(s.insertErrs) == 0 {
		return nil
	}
	err := s.insertErrs[0]
	s.insertErrs = s.insertErrs[1:]
	return err
}

func TestCreateRetriesIDCollisions(t *testing.T) {
	st := &scriptedStore{insertErrs: []error{domain.ErrDuplicateID, domain.ErrDuplicateID}}
	svc := &app.Service{Store: st, Clock: &testClock{now: time.Now()}, DefaultTTL: time.Minute}
	_, _, err := svc.Create(context.Background(), app.CreateRequest{Kind: domain.KindText, Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, st.inserts)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = domain.ErrDuplicateID
	}
	st := &scriptedStore{insertErrs: errs}
	svc := &app.Service{Store: st, Clock: &testClock{now: time.Now()}, DefaultTTL: time.Minute}
	_, _, err := svc.Create(context.Background(), app.CreateRequest{
		Kind: domain.KindFile,
		File: &app.FileUpload{Name: "f", Size: 1, Body: strings.NewReader("x")},
	})
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 5, st.inserts)
	assert.Equal(t, []string{"locator-1"}, st.discarded, "an unreferenced payload is discarded")
}
