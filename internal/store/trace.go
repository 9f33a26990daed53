package store

import (
	"context"

	"github.com/veriflow/veriflow-backend/internal/models"
)

// TraceStore is the durable backing for the append-only audit trail. Rows are
// never updated or deleted through this interface; there is deliberately no
// Update method.
type TraceStore interface {
	Insert(ctx context.Context, entry *models.TraceEntry) error
	ByCorrelationID(ctx context.Context, correlationID string) ([]models.TraceEntry, error)
	ByAddress(ctx context.Context, address string, limit int64) ([]models.TraceEntry, error)
	// ActiveByAddress returns the most recent entry for the address whose
	// status is non-terminal, or nil when the address has no active session.
	ActiveByAddress(ctx context.Context, address string) (*models.TraceEntry, error)
	// LastByCorrelationID returns the newest entry of a correlation chain,
	// or nil when the chain is empty.
	LastByCorrelationID(ctx context.Context, correlationID string) (*models.TraceEntry, error)
	Statistics(ctx context.Context) (map[models.TraceStatus]int64, error)
}
