// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crashlens/leadcrawler/internal/leads"
)

// BusinessStore keeps business records in a map keyed by identity.
// Upsert follows the same contract as the Postgres adapter: one record
// per identity key, created_at preserved on update.
type BusinessStore struct {
	mu      sync.RWMutex
	records map[string]leads.BusinessRecord
	order   []string
	now     func() time.Time
}

// NewBusinessStore constructs a BusinessStore.
func NewBusinessStore() *BusinessStore {
	return &BusinessStore{
		records: make(map[string]leads.BusinessRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts the record or refreshes the existing one sharing its
// identity key. Records without an identity key are dropped.
func (s *BusinessStore) Upsert(_ context.Context, record leads.BusinessRecord) (leads.UpsertOutcome, error) {
	key := record.IdentityKey()
	if key == "" {
		return leads.UpsertDropped, leads.ErrNoIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record.UpdatedAt = now

	existing, ok := s.records[key]
	if !ok {
		record.CreatedAt = now
		s.records[key] = record
		s.order = append(s.order, key)
		return leads.UpsertInserted, nil
	}

	record.CreatedAt = existing.CreatedAt
	s.records[key] = record
	return leads.UpsertUpdated, nil
}

// FindByIdentity fetches the record stored under key, if any.
func (s *BusinessStore) FindByIdentity(_ context.Context, key string) (leads.BusinessRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	return record, ok, nil
}

// List returns records in insertion order with limit/offset paging.
func (s *BusinessStore) List(_ context.Context, limit, offset int) ([]leads.BusinessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) {
		return nil, nil
	}
	keys := s.order[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	out := make([]leads.BusinessRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.records[key])
	}
	return out, nil
}

// Len reports the number of distinct records held.
func (s *BusinessStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns every record sorted by name, for test assertions.
func (s *BusinessStore) All() []leads.BusinessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leads.BusinessRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
