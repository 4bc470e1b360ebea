// Package store defines the metadata store contract shared by the Postgres
// repository and the in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/linkvault/linkvault/internal/model"
)

var (
	// ErrNotFound is returned when no record exists under the given id.
	ErrNotFound = errors.New("record not found")
	// ErrQuotaExhausted signals that the conditional increment found no
	// remaining access slot. Exactly one caller racing at the boundary
	// observes the last slot being taken; later callers all get this.
	ErrQuotaExhausted = errors.New("access quota exhausted")
	// ErrDuplicateID is returned by Put when the identifier is taken.
	ErrDuplicateID = errors.New("record id already in use")
)

// RecordStore is the single source of truth for link metadata.
//
// ConsumeSlot is the quota engine primitive: it tests accessCount < maxAccess
// and increments in one indivisible operation, returning the updated record
// or ErrQuotaExhausted. Records without a max still get their counter
// incremented but never exhaust. Implementations must never decompose this
// into a separate read and write.
type RecordStore interface {
	Put(ctx context.Context, rec *model.ContentRecord) error
	Get(ctx context.Context, id string) (*model.ContentRecord, error)
	ConsumeSlot(ctx context.Context, id string) (*model.ContentRecord, error)
	// Delete removes a record. Deleting an absent record returns
	// ErrNotFound; callers racing the reaper treat that as success.
	Delete(ctx context.Context, id string) error
	// ListByOwner returns an owner's records sorted newest-first.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.ContentRecord, error)
	// ExpiredBefore returns records whose expiry precedes the cutoff, for
	// the reaper to reconcile blob and metadata removal.
	ExpiredBefore(ctx context.Context, cutoff time.Time) ([]*model.ContentRecord, error)
}
