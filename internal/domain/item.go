// Package domain item.go contains the persisted item record and its projections.
package domain

import "time"

// Kind distinguishes inline text items from file items.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindText || k == KindFile }

// FileMeta describes a file payload held in blob storage.
type FileMeta struct {
	Locator     string // opaque blob storage reference
	Name        string // original file name
	Size        int64
	ContentType string
}

// Item is the persisted representation of one shared item.
// Everything except ViewCount, DownloadCount, OwnerID and DeletedAt is
// immutable after creation, and nothing changes once DeletedAt is set.
type Item struct {
	ID            ItemID
	Kind          Kind
	Text          string    // KindText payload
	File          *FileMeta // KindFile payload
	SecretDigest  string    // empty when no password is required
	ExpiresAt     time.Time
	MaxViews      int // 0 means no view limit
	ViewCount     int64
	DownloadCount int64
	OneTime       bool
	OwnerID       string // empty while anonymous
	DisplayName   string
	CreatedAt     time.Time
	DeletedAt     time.Time // zero while live
}

// Live reports whether the item has not been soft deleted.
func (it *Item) Live() bool { return it.DeletedAt.IsZero() }

// Expired reports whether now is at or past the expiry instant.
func (it *Item) Expired(now time.Time) bool { return !now.Before(it.ExpiresAt) }

// Protected reports whether a password is required.
func (it *Item) Protected() bool { return it.SecretDigest != "" }

// EffectiveQuota returns the enforced view limit. One-time items always
// have a quota of 1. ok is false when views are unbounded.
func (it *Item) EffectiveQuota() (quota int64, ok bool) {
	if it.OneTime {
		return 1, true
	}
	if it.MaxViews > 0 {
		return int64(it.MaxViews), true
	}
	return 0, false
}

// Exhausted reports whether the current view count already meets the quota.
func (it *Item) Exhausted() bool {
	q, ok := it.EffectiveQuota()
	return ok && it.ViewCount >= q
}

// ContentView is what a successful access hands back to the caller.
// It never carries the secret digest.
type ContentView struct {
	ID            ItemID
	Kind          Kind
	Text          string
	File          *FileMeta
	ViewCount     int64
	DownloadCount int64
	ExpiresAt     time.Time
	OneTime       bool
	DisplayName   string
	// Final is true when this access moved the item to its terminal state.
	Final bool
}

// View projects an item (as returned by the access update) into a ContentView.
func (it *Item) View() ContentView {
	v := ContentView{
		ID:          it.ID,
		Kind:        it.Kind,
		ViewCount:   it.ViewCount,
		ExpiresAt:   it.ExpiresAt,
		OneTime:     it.OneTime,
		DisplayName: it.DisplayName,
		Final:       !it.Live(),
	}
	switch it.Kind {
	case KindText:
		v.Text = it.Text
	case KindFile:
		if it.File != nil {
			f := *it.File
			v.File = &f
		}
		v.DownloadCount = it.DownloadCount
	}
	return v
}

// ItemSummary is the owner-facing listing entry. It omits payload and digest.
type ItemSummary struct {
	ID            ItemID
	Kind          Kind
	FileName      string
	FileSize      int64
	ContentType   string
	Protected     bool
	ExpiresAt     time.Time
	MaxViews      int
	OneTime       bool
	ViewCount     int64
	DownloadCount int64
	DisplayName   string
	CreatedAt     time.Time
}

// Summary projects an item into an ItemSummary.
func (it *Item) Summary() ItemSummary {
	s := ItemSummary{
		ID:            it.ID,
		Kind:          it.Kind,
		Protected:     it.Protected(),
		ExpiresAt:     it.ExpiresAt,
		MaxViews:      it.MaxViews,
		OneTime:       it.OneTime,
		ViewCount:     it.ViewCount,
		DownloadCount: it.DownloadCount,
		DisplayName:   it.DisplayName,
		CreatedAt:     it.CreatedAt,
	}
	if it.File != nil {
		s.FileName = it.File.Name
		s.FileSize = it.File.Size
		s.ContentType = it.File.ContentType
	}
	return s
}
