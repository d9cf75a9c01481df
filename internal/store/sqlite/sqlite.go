// Package sqlite provides a SQLite-backed implementation of the store.Index
// port for persisting item records.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/haukened/linkvault/internal/domain"
	"github.com/haukened/linkvault/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ store.Index = (*Index)(nil)

// Index implements store.Index using SQLite (via database/sql). Mutations are
// single conditional statements, so it is safe for concurrent use.
type Index struct{ db *sql.DB }

// Open opens the database at dsn. SQLite permits one writer at a time, so the
// pool is limited to a single connection and callers queue on it instead of
// failing with SQLITE_BUSY.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err = p.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// New constructs an Index, migrating the schema if needed.
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

const itemColumns = `id, kind, text_content, file_locator, file_name, file_size, file_type,
secret_digest, expires_at, max_views, view_count, download_count, is_one_time,
owner_id, display_name, created_at, deleted_at`

// Insert stores a new item row.
func (i *Index) Insert(ctx context.Context, it *domain.Item) error {
	const q = `INSERT INTO items (` + itemColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	var locator, name, ctype, size any
	if it.File != nil {
		locator, name, ctype, size = it.File.Locator, it.File.Name, it.File.ContentType, it.File.Size
	}
	_, err := i.db.ExecContext(ctx, q,
		it.ID.String(), string(it.Kind), nullString(it.Text), locator, name, size, ctype,
		nullString(it.SecretDigest), millis(it.ExpiresAt), nullPositive(it.MaxViews),
		it.ViewCount, it.DownloadCount, boolInt(it.OneTime),
		nullString(it.OwnerID), nullString(it.DisplayName), millis(it.CreatedAt), nullTime(it.DeletedAt),
	)
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return domain.ErrDuplicateID
	}
	return err
}

// Get returns the row for id whether live or deleted.
func (i *Index) Get(ctx context.Context, id domain.ItemID) (*domain.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = ?`
	it, err := scanItem(i.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return it, err
}

// RecordAccess is the access commit. The WHERE clause re-checks liveness,
// expiry and quota against the row as it is at write time; SET expressions
// see the pre-update counters.
func (i *Index) RecordAccess(ctx context.Context, id domain.ItemID, now time.Time) (*domain.Item, error) {
	const q = `UPDATE items SET
	view_count = view_count + 1,
	download_count = download_count + CASE WHEN kind = 'file' THEN 1 ELSE 0 END,
	deleted_at = CASE
		WHEN is_one_time = 1 THEN ?
		WHEN max_views IS NOT NULL AND view_count + 1 >= max_views THEN ?
		ELSE NULL END
WHERE id = ?
	AND deleted_at IS NULL
	AND expires_at > ?
	AND view_count < CASE WHEN is_one_time = 1 THEN 1 ELSE COALESCE(max_views, view_count + 1) END
RETURNING ` + itemColumns
	ms := millis(now)
	it, err := scanItem(i.db.QueryRowContext(ctx, q, ms, ms, id.String(), ms))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// MarkDeleted finalizes a live row when it is anonymous or owned by requester.
func (i *Index) MarkDeleted(ctx context.Context, id domain.ItemID, requester string, now time.Time) (string, bool, error) {
	const q = `UPDATE items SET deleted_at = ?
WHERE id = ? AND deleted_at IS NULL AND (owner_id IS NULL OR owner_id = ?)
RETURNING COALESCE(file_locator, '')`
	var locator string
	err := i.db.QueryRowContext(ctx, q, millis(now), id.String(), requester).Scan(&locator)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return locator, true, nil
}

// ListExpired returns live rows whose expiry precedes now.
func (i *Index) ListExpired(ctx context.Context, now time.Time) ([]store.ExpiredRecord, error) {
	const q = `SELECT id, COALESCE(file_locator, '') FROM items WHERE expires_at < ? AND deleted_at IS NULL`
	rows, err := i.db.QueryContext(ctx, q, millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []store.ExpiredRecord
	for rows.Next() {
		var (
			r  store.ExpiredRecord
			id string
		)
		if err = rows.Scan(&id, &r.Locator); err != nil {
			return nil, err
		}
		r.ID = domain.ItemID(id)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Finalize marks a live row deleted.
func (i *Index) Finalize(ctx context.Context, id domain.ItemID, now time.Time) (bool, error) {
	const q = `UPDATE items SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`
	return affectedOne(i.db.ExecContext(ctx, q, millis(now), id.String()))
}

// ListOwned returns live rows owned by owner, newest first.
func (i *Index) ListOwned(ctx context.Context, owner string) ([]domain.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items
WHERE owner_id = ? AND deleted_at IS NULL ORDER BY created_at DESC, id`
	rows, err := i.db.QueryContext(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Claim sets owner on a live, anonymous row.
func (i *Index) Claim(ctx context.Context, id domain.ItemID, owner string) (bool, error) {
	const q = `UPDATE items SET owner_id = ? WHERE id = ? AND owner_id IS NULL AND deleted_at IS NULL`
	return affectedOne(i.db.ExecContext(ctx, q, owner, id.String()))
}

// ListLiveLocators returns blob locators of live file rows.
func (i *Index) ListLiveLocators(ctx context.Context) ([]string, error) {
	const q = `SELECT file_locator FROM items WHERE kind = 'file' AND deleted_at IS NULL AND file_locator IS NOT NULL`
	rows, err := i.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err = rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (i *Index) Ping(ctx context.Context) error { return i.db.PingContext(ctx) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*domain.Item, error) {
	var (
		id, kind                                           string
		text, locator, name, ctype, digest, owner, display sql.NullString
		size, maxViews, deletedAt                          sql.NullInt64
		expiresAt, createdAt, oneTime                      int64
		it                                                 domain.Item
	)
	err := r.Scan(&id, &kind, &text, &locator, &name, &size, &ctype,
		&digest, &expiresAt, &maxViews, &it.ViewCount, &it.DownloadCount, &oneTime,
		&owner, &display, &createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	it.ID = domain.ItemID(id)
	it.Kind = domain.Kind(kind)
	it.Text = text.String
	if it.Kind == domain.KindFile {
		it.File = &domain.FileMeta{Locator: locator.String, Name: name.String, Size: size.Int64, ContentType: ctype.String}
	}
	it.SecretDigest = digest.String
	it.ExpiresAt = fromMillis(expiresAt)
	it.MaxViews = int(maxViews.Int64)
	it.OneTime = oneTime == 1
	it.OwnerID = owner.String
	it.DisplayName = display.String
	it.CreatedAt = fromMillis(createdAt)
	if deletedAt.Valid {
		it.DeletedAt = fromMillis(deletedAt.Int64)
	}
	return &it, nil
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Timestamps are stored as unix milliseconds.
func millis(t time.Time) int64      { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullPositive(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return millis(t)
}
