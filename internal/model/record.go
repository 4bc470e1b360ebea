// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// Kind distinguishes the two payload shapes a link can carry.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// ContentRecord holds the metadata for one shareable link. Exactly one of
// TextContent or ObjectKey is populated, matching Kind. PasswordHash and
// DeleteToken never leave the process through View.
type ContentRecord struct {
	ID            string `json:"id"`
	Kind          Kind   `json:"kind"`
	TextContent   string `json:"-"`
	ObjectKey     string `json:"-"`
	FileName      string `json:"fileName,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	Size          int64  `json:"size,omitempty"`
	PasswordHash  string `json:"-"`
	BurnAfterRead bool   `json:"burnAfterRead"`
	// MaxAccess is nil when the link allows unlimited accesses.
	MaxAccess   *int      `json:"maxAccess,omitempty"`
	AccessCount int       `json:"accessCount"`
	OwnerID     string    `json:"-"`
	DeleteToken string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the record is logically dead at the given instant.
// Expiry is enforced at read time; physical removal may lag behind.
func (r *ContentRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// HasPassword reports whether the creator set a password gate.
func (r *ContentRecord) HasPassword() bool {
	return r.PasswordHash != ""
}

// RemainingAccess returns how many accesses are left, or -1 for unlimited.
func (r *ContentRecord) RemainingAccess() int {
	if r.MaxAccess == nil {
		return -1
	}
	left := *r.MaxAccess - r.AccessCount
	if left < 0 {
		return 0
	}
	return left
}

// View is the sanitized representation returned to callers. It carries the
// text payload for text links; file links expose only descriptive metadata
// and fetch bytes through the download operation.
type View struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	TextContent   string    `json:"textContent,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	ContentType   string    `json:"contentType,omitempty"`
	Size          int64     `json:"size,omitempty"`
	BurnAfterRead bool      `json:"burnAfterRead"`
	MaxAccess     *int      `json:"maxAccess,omitempty"`
	AccessCount   int       `json:"accessCount"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// ViewOf strips secrets from a record. The password hash and delete token are
// dropped unconditionally; list endpoints additionally rely on this to keep
// owner listings safe to serialize.
func ViewOf(r *ContentRecord) View {
	v := View{
		ID:            r.ID,
		Kind:          r.Kind,
		BurnAfterRead: r.BurnAfterRead,
		AccessCount:   r.AccessCount,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
	if r.MaxAccess != nil {
		max := *r.MaxAccess
		v.MaxAccess = &max
	}
	switch r.Kind {
	case KindText:
		v.TextContent = r.TextContent
	case KindFile:
		v.FileName = r.FileName
		v.ContentType = r.ContentType
		v.Size = r.Size
	}
	return v
}

// Clone returns a deep copy so stores can hand out records without sharing
// the MaxAccess pointer with callers.
func (r *ContentRecord) Clone() *ContentRecord {
	c := *r
	if r.MaxAccess != nil {
		max := *r.MaxAccess
		c.MaxAccess = &max
	}
	return &c
}
