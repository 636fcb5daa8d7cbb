package model

import "time"

// EventKind distinguishes reads from writes in the audit trail.
type EventKind string

const (
	EventRead  EventKind = "read"
	EventWrite EventKind = "write"
)

// Event is one append-only audit record. Operations that fail mid-way
// leave no event.
type Event struct {
	ID        int64     `json:"id"`
	Kind      EventKind `json:"kind"`
	Operation string    `json:"operation"`
	IDs       []string  `json:"ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
