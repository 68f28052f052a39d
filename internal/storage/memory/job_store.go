package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

// JobStore keeps audit records in memory for development runs.
type JobStore struct {
	mu      sync.RWMutex
	records []manga.JobRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{}
}

// RecordJob appends the record.
func (s *JobStore) RecordJob(_ context.Context, record manga.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *JobStore) Records() []manga.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]manga.JobRecord(nil), s.records...)
}

// Last returns the most recent record for slug.
func (s *JobStore) Last(slug string) (manga.JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Slug == slug {
			return s.records[i], true
		}
	}
	return manga.JobRecord{}, false
}
