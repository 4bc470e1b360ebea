// Package storage contains the in-memory metadata store. It backs the test
// suites and the dev mode of the server; production deployments use the
// Postgres repository instead.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linkvault/linkvault/internal/model"
	"github.com/linkvault/linkvault/internal/store"
)

// MemoryStore guards a map of records with a single mutex. The mutex is what
// makes ConsumeSlot indivisible: the quota test and the increment happen
// under one critical section, matching the conditional UPDATE the Postgres
// repository issues.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.ContentRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.ContentRecord),
	}
}

// Put inserts a record, refusing to overwrite an existing id.
func (m *MemoryStore) Put(ctx context.Context, rec *model.ContentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return store.ErrDuplicateID
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

// Get returns a copy of the record so callers cannot mutate shared state.
func (m *MemoryStore) Get(ctx context.Context, id string) (*model.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

// ConsumeSlot atomically checks the quota and increments the access counter.
func (m *MemoryStore) ConsumeSlot(ctx context.Context, id string) (*model.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.MaxAccess != nil && rec.AccessCount >= *rec.MaxAccess {
		return nil, store.ErrQuotaExhausted
	}
	rec.AccessCount++
	return rec.Clone(), nil
}

// Delete removes a record, reporting ErrNotFound when it is already gone.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// ListByOwner returns the owner's records sorted newest-first.
func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ContentRecord
	for _, rec := range m.records {
		if rec.OwnerID != "" && rec.OwnerID == ownerID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ExpiredBefore returns every record whose expiry precedes the cutoff.
func (m *MemoryStore) ExpiredBefore(ctx context.Context, cutoff time.Time) ([]*model.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ContentRecord
	for _, rec := range m.records {
		if rec.ExpiresAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

var _ store.RecordStore = (*MemoryStore)(nil)
