// Package memory provides an in-process AppStore for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
)

// Store keeps ApplicationRecords in a map guarded by a RWMutex
type Store struct {
	mu      sync.RWMutex
	records map[string]models.ApplicationRecord

	// FailReplace, when set, is returned by ReplaceAll without touching state
	FailReplace error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{records: make(map[string]models.ApplicationRecord)}
}

// ReplaceAll swaps the whole record set
func (s *Store) ReplaceAll(ctx context.Context, records []models.ApplicationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailReplace != nil {
		return s.FailReplace
	}

	next := make(map[string]models.ApplicationRecord, len(records))
	for i := range records {
		next[records[i].PackageName] = records[i].Clone()
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	return nil
}

// GetAll returns all records ordered by risk score, highest first
func (s *Store) GetAll(ctx context.Context) ([]models.ApplicationRecord, error) {
	s.mu.RLock()
	out := make([]models.ApplicationRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].PackageName < out[j].PackageName
	})
	return out, nil
}

// GetByID returns one record
func (s *Store) GetByID(ctx context.Context, packageName string) (*models.ApplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[packageName]
	if !ok {
		return nil, services.ErrAppNotFound
	}
	out := r.Clone()
	return &out, nil
}

// UpdateMalwareVerdict sets the verdict while the record still carries contentHash
func (s *Store) UpdateMalwareVerdict(ctx context.Context, packageName, contentHash, ratio string, malicious int) (*models.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[packageName]
	if !ok {
		return nil, services.ErrAppNotFound
	}
	if contentHash == "" || r.ContentHash != contentHash {
		return nil, services.ErrContentChanged
	}
	r.SetMalwareVerdict(ratio, malicious)
	s.records[packageName] = r
	out := r.Clone()
	return &out, nil
}

// DeleteAll removes every record
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	s.records = make(map[string]models.ApplicationRecord)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
