package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TraceStatus is the fixed vocabulary of session trace states.
type TraceStatus string

const (
	TraceStatusStarted       TraceStatus = "started"
	TraceStatusInProgress    TraceStatus = "in_progress"
	TraceStatusAuthenticated TraceStatus = "authenticated"
	TraceStatusProcessing    TraceStatus = "processing"
	TraceStatusFinished      TraceStatus = "finished"
	TraceStatusExpired       TraceStatus = "expired"
)

// Terminal reports whether the status ends a logical session.
func (s TraceStatus) Terminal() bool {
	return s == TraceStatusFinished || s == TraceStatusExpired
}

// NonTerminalStatuses lists every status an active session can be in.
// Used by ActiveByAddress queries.
func NonTerminalStatuses() []TraceStatus {
	return []TraceStatus{
		TraceStatusStarted,
		TraceStatusInProgress,
		TraceStatusAuthenticated,
		TraceStatusProcessing,
	}
}

// MetaPrevID is the metadata key carrying the back-reference to the previous
// trace row of the same correlation chain.
const MetaPrevID = "prev_id"

// TraceEntry is one immutable row of the verification audit trail. Rows are
// only ever inserted; progressing a session means inserting a new row whose
// metadata links back to the previous one.
type TraceEntry struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Address       string             `bson:"address" json:"address"`
	CorrelationID string             `bson:"correlation_id" json:"correlation_id"`
	Status        TraceStatus        `bson:"status" json:"status"`
	Step          string             `bson:"step,omitempty" json:"step,omitempty"`

	// Business identifiers linked while the flow progressed.
	DocumentNumber string `bson:"document_number,omitempty" json:"document_number,omitempty"`
	StatementRef   string `bson:"statement_ref,omitempty" json:"statement_ref,omitempty"`

	Metadata  map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
}
