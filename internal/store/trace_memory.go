package store

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/veriflow/veriflow-backend/internal/models"
)

// MemoryTraceStore keeps trace entries in an append-only slice. Used by unit
// tests; the invariant is the same as Mongo's: entries are never mutated.
type MemoryTraceStore struct {
	mu      sync.Mutex
	entries []models.TraceEntry
}

func NewMemoryTraceStore() *MemoryTraceStore {
	return &MemoryTraceStore{}
}

func (s *MemoryTraceStore) Insert(_ context.Context, entry *models.TraceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryTraceStore) ByCorrelationID(_ context.Context, correlationID string) ([]models.TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TraceEntry
	for _, e := range s.entries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryTraceStore) ByAddress(_ context.Context, address string, limit int64) ([]models.TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TraceEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Address == address {
			out = append(out, s.entries[i])
			if limit > 0 && int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryTraceStore) ActiveByAddress(_ context.Context, address string) (*models.TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Address == address && !e.Status.Terminal() {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryTraceStore) LastByCorrelationID(_ context.Context, correlationID string) (*models.TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CorrelationID == correlationID {
			cp := s.entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryTraceStore) Statistics(_ context.Context) (map[models.TraceStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[models.TraceStatus]int64)
	for _, e := range s.entries {
		stats[e.Status]++
	}
	return stats, nil
}
