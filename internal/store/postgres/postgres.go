// Package postgres provides a PostgreSQL-backed implementation of the
// store.Index port using a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/haukened/linkvault/internal/domain"
	"github.com/haukened/linkvault/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

var _ store.Index = (*Index)(nil)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Index implements store.Index on PostgreSQL. Each mutation is one
// conditional statement; under READ COMMITTED a blocked UPDATE re-evaluates
// its WHERE clause against the row version that won, which serializes
// concurrent accesses per item.
type Index struct{ db DBTX }

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("postgres connected",
		"domain", "store",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
	)
	return pool, nil
}

// Migrate applies the embedded schema migrations through a database/sql
// handle borrowed from the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err = p.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// New returns an Index over db. Migrations are applied separately.
func New(db DBTX) *Index { return &Index{db: db} }

const itemColumns = `id, kind, text_content, file_locator, file_name, file_size, file_type,
secret_digest, expires_at, max_views, view_count, download_count, is_one_time,
owner_id, display_name, created_at, deleted_at`

// Insert stores a new item row.
func (i *Index) Insert(ctx context.Context, it *domain.Item) error {
	const q = `INSERT INTO items (` + itemColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	var locator, name, ctype, size any
	if it.File != nil {
		locator, name, ctype, size = it.File.Locator, it.File.Name, it.File.ContentType, it.File.Size
	}
	_, err := i.db.Exec(ctx, q,
		it.ID.String(), string(it.Kind), nullString(it.Text), locator, name, size, ctype,
		nullString(it.SecretDigest), it.ExpiresAt, nullPositive(it.MaxViews),
		it.ViewCount, it.DownloadCount, it.OneTime,
		nullString(it.OwnerID), nullString(it.DisplayName), it.CreatedAt, nullTime(it.DeletedAt),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrDuplicateID
	}
	return err
}

// Get returns the row for id whether live or deleted.
func (i *Index) Get(ctx context.Context, id domain.ItemID) (*domain.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	it, err := scanItem(i.db.QueryRow(ctx, q, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return it, err
}

// RecordAccess is the access commit; see the SQLite index for the contract.
func (i *Index) RecordAccess(ctx context.Context, id domain.ItemID, now time.Time) (*domain.Item, error) {
	const q = `UPDATE items SET
	view_count = view_count + 1,
	download_count = download_count + CASE WHEN kind = 'file' THEN 1 ELSE 0 END,
	deleted_at = CASE
		WHEN is_one_time THEN $2::timestamptz
		WHEN max_views IS NOT NULL AND view_count + 1 >= max_views THEN $2::timestamptz
		ELSE NULL END
WHERE id = $1
	AND deleted_at IS NULL
	AND expires_at > $2
	AND view_count < CASE WHEN is_one_time THEN 1 ELSE COALESCE(max_views, view_count + 1) END
RETURNING ` + itemColumns
	it, err := scanItem(i.db.QueryRow(ctx, q, id.String(), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// MarkDeleted finalizes a live row when it is anonymous or owned by requester.
func (i *Index) MarkDeleted(ctx context.Context, id domain.ItemID, requester string, now time.Time) (string, bool, error) {
	const q = `UPDATE items SET deleted_at = $3
WHERE id = $1 AND deleted_at IS NULL AND (owner_id IS NULL OR owner_id = $2)
RETURNING COALESCE(file_locator, '')`
	var locator string
	err := i.db.QueryRow(ctx, q, id.String(), requester, now).Scan(&locator)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return locator, true, nil
}

// ListExpired returns live rows whose expiry precedes now.
func (i *Index) ListExpired(ctx context.Context, now time.Time) ([]store.ExpiredRecord, error) {
	const q = `SELECT id, COALESCE(file_locator, '') FROM items WHERE expires_at < $1 AND deleted_at IS NULL`
	rows, err := i.db.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []store.ExpiredRecord
	for rows.Next() {
		var (
			id  string
			rec store.ExpiredRecord
		)
		if err := rows.Scan(&id, &rec.Locator); err != nil {
			return nil, err
		}
		rec.ID = domain.ItemID(id)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Finalize marks a live row deleted.
func (i *Index) Finalize(ctx context.Context, id domain.ItemID, now time.Time) (bool, error) {
	tag, err := i.db.Exec(ctx, `UPDATE items SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id.String(), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOwned returns live rows owned by owner, newest first.
func (i *Index) ListOwned(ctx context.Context, owner string) ([]domain.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items
WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC, id`
	rows, err := i.db.Query(ctx, q, owner)
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
	const q = `UPDATE items SET owner_id = $2 WHERE id = $1 AND owner_id IS NULL AND deleted_at IS NULL`
	tag, err := i.db.Exec(ctx, q, id.String(), owner)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListLiveLocators returns blob locators of live file rows.
func (i *Index) ListLiveLocators(ctx context.Context) ([]string, error) {
	const q = `SELECT file_locator FROM items WHERE kind = 'file' AND deleted_at IS NULL AND file_locator IS NOT NULL`
	rows, err := i.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Ping checks the pool.
func (i *Index) Ping(ctx context.Context) error { return i.db.Ping(ctx) }

func scanItem(r pgx.Row) (*domain.Item, error) {
	var (
		id, kind                                           string
		text, locator, name, ctype, digest, owner, display *string
		size                                               *int64
		maxViews                                           *int32
		deletedAt                                          *time.Time
		it                                                 domain.Item
	)
	err := r.Scan(&id, &kind, &text, &locator, &name, &size, &ctype,
		&digest, &it.ExpiresAt, &maxViews, &it.ViewCount, &it.DownloadCount, &it.OneTime,
		&owner, &display, &it.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	it.ID = domain.ItemID(id)
	it.Kind = domain.Kind(kind)
	it.Text = deref(text)
	if it.Kind == domain.KindFile {
		it.File = &domain.FileMeta{Locator: deref(locator), Name: deref(name), ContentType: deref(ctype)}
		if size != nil {
			it.File.Size = *size
		}
	}
	it.SecretDigest = deref(digest)
	if maxViews != nil {
		it.MaxViews = int(*maxViews)
	}
	it.OwnerID = deref(owner)
	it.DisplayName = deref(display)
	it.ExpiresAt = it.ExpiresAt.UTC()
	it.CreatedAt = it.CreatedAt.UTC()
	if deletedAt != nil {
		it.DeletedAt = deletedAt.UTC()
	}
	return &it, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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
	return int32(n)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
