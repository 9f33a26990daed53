package services

import (
	"context"
	"time"

	"github.com/veriflow/veriflow-backend/internal/models"
	"github.com/veriflow/veriflow-backend/internal/store"
)

// Recorder appends immutable entries to the verification audit trail. It is
// the durable source of truth for a conversation's history: other components
// derive the logical session's correlation id and last known business context
// from the most recent non-terminal entry, never by mutating old rows.
type Recorder struct {
	store store.TraceStore
}

func NewRecorder(traceStore store.TraceStore) *Recorder {
	return &Recorder{store: traceStore}
}

// Append inserts a new trace row. The previous row of the same correlation
// chain (if any) is referenced through the prev_id metadata key, so the full
// history stays linked even though rows are never updated.
func (r *Recorder) Append(ctx context.Context, address, correlationID string, status models.TraceStatus, step string, meta map[string]string) (*models.TraceEntry, error) {
	entry := &models.TraceEntry{
		Address:       address,
		CorrelationID: correlationID,
		Status:        status,
		Step:          step,
		Metadata:      map[string]string{},
		CreatedAt:     time.Now().UTC(),
	}
	for k, v := range meta {
		entry.Metadata[k] = v
	}

	if prev, err := r.store.LastByCorrelationID(ctx, correlationID); err == nil && prev != nil {
		entry.Metadata[models.MetaPrevID] = prev.ID.Hex()
	}

	if doc, ok := entry.Metadata["document_number"]; ok {
		entry.DocumentNumber = doc
		delete(entry.Metadata, "document_number")
	}
	if ref, ok := entry.Metadata["statement_ref"]; ok {
		entry.StatementRef = ref
		delete(entry.Metadata, "statement_ref")
	}

	if err := r.store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ByCorrelationID returns the full chain of a logical session, oldest first.
func (r *Recorder) ByCorrelationID(ctx context.Context, correlationID string) ([]models.TraceEntry, error) {
	return r.store.ByCorrelationID(ctx, correlationID)
}

// ByAddress returns recent entries for an address, newest first.
func (r *Recorder) ByAddress(ctx context.Context, address string, limit int64) ([]models.TraceEntry, error) {
	return r.store.ByAddress(ctx, address, limit)
}

// ActiveByAddress returns the most recent non-terminal entry for an address.
// This is how components recover the live correlation id without depending on
// the in-memory session store.
func (r *Recorder) ActiveByAddress(ctx context.Context, address string) (*models.TraceEntry, error) {
	return r.store.ActiveByAddress(ctx, address)
}

// Statistics returns entry counts per status.
func (r *Recorder) Statistics(ctx context.Context) (map[models.TraceStatus]int64, error) {
	return r.store.Statistics(ctx)
}
