// Package filesystem provides a BlobStorage implementation backed by the local
// filesystem. It stores file payloads as immutable blob files.
package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/linkvault/internal/store"
)

// Ensure BlobStore implements store.BlobStorage
var _ store.BlobStorage = (*BlobStore)(nil)

const blobExt = ".blob"

// BlobStore implements store.BlobStorage using the local filesystem.
// Files are named by a random UUID locator with a fixed suffix.
type BlobStore struct {
	root string
}

// New returns a filesystem-backed blob store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &BlobStore{root: root}, nil
}

// path constructs the full path to the blob file for a locator.
func (b *BlobStore) path(locator string) string { return filepath.Join(b.root, locator+blobExt) }

// Put stores exactly size bytes from r under a fresh locator.
func (b *BlobStore) Put(_ context.Context, r io.Reader, size int64) (string, error) {
	locator := uuid.NewString()
	p := b.path(locator)
	// #nosec G304: path is a fixed root plus a generated UUID with a fixed suffix.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err = io.CopyN(f, r, size); err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		// delete partial file on error
		_ = os.Remove(p)
		return "", err
	}
	return locator, nil
}

// Open opens the blob for reading.
func (b *BlobStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(locator)) // #nosec G304 path constructed internally
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrBlobNotFound
	}
	return f, err
}

// Delete removes the blob file for a locator. Missing files are ignored.
func (b *BlobStore) Delete(_ context.Context, locator string) error {
	if locator == "" {
		return nil
	}
	if err := validateLocator(locator); err != nil {
		return err
	}
	err := os.Remove(b.path(locator))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns locators of blobs last modified before cutoff. Higher layers
// derive orphans by diffing against locators referenced by live items.
func (b *BlobStore) List(_ context.Context, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var locators []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != blobExt {
			continue
		}
		locator := strings.TrimSuffix(name, blobExt)
		if validateLocator(locator) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		locators = append(locators, locator)
	}
	return locators, nil
}

// Ping checks that the root directory is still readable.
func (b *BlobStore) Ping(_ context.Context) error {
	_, err := os.ReadDir(b.root)
	return err
}

// validateLocator enforces the canonical UUID form. This prevents path
// traversal (no separators, fixed length) and guarantees uniform filenames.
func validateLocator(locator string) error {
	u, err := uuid.Parse(locator)
	if err != nil || u.String() != locator {
		return errors.New("invalid blob locator")
	}
	return nil
}
