package imagestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imgrelay/internal/observability"
)

// ErrNotFound indicates the short identifier is unknown or has expired.
var ErrNotFound = errors.New("image reference not found")

// Record is the platform file reference behind a short identifier. It never
// holds image bytes; the reference is resolved again on every read.
type Record struct {
	FileRef   string
	CreatedAt time.Time
}

// Store maps short identifiers to file references for the process lifetime.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	metrics *observability.MetricsCollector
}

// NewStore creates an empty store. metrics may be nil.
func NewStore(metrics *observability.MetricsCollector) *Store {
	return &Store{
		records: make(map[string]Record),
		metrics: metrics,
	}
}

// Put inserts or overwrites the record for id.
func (s *Store) Put(id, fileRef string, createdAt time.Time) {
	s.mu.Lock()
	_, existed := s.records[id]
	s.records[id] = Record{FileRef: fileRef, CreatedAt: createdAt}
	s.mu.Unlock()

	if !existed {
		s.metrics.RecordStoreInsert(context.Background())
	}
}

// Get returns the record for id, or an error wrapping ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Delete removes id. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if existed {
		s.metrics.RecordStoreRemoval(context.Background(), 1, false)
	}
}

// Range calls fn for every record until fn returns false. fn runs under the
// read lock and must not call back into the store.
func (s *Store) Range(fn func(id string, rec Record) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.records {
		if !fn(id, rec) {
			return
		}
	}
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// DeleteCreatedBefore removes every record created strictly before cutoff
// and returns how many were removed. The scan and the deletes happen under
// one write lock.
func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	removed := 0
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	s.mu.Unlock()

	s.metrics.RecordStoreRemoval(ctx, removed, true)
	return removed
}
