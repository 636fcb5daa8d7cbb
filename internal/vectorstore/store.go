// Package vectorstore abstracts the collection-per-kind vector database.
//
// The interface is intentionally narrow: idempotent upsert keyed by id,
// cosine ANN search with conjunctive equality filters on a small set of
// indexed keys, point lookup, and enumeration for offline jobs. No
// cross-collection joins happen at this layer.
package vectorstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a point id does not exist in a collection.
var ErrNotFound = errors.New("vectorstore: not found")

// Record is one stored point: id, embedding, and a flat metadata payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Filter is a conjunctive equality filter over indexed payload keys
// (project, status, category, kind, source_conversation).
type Filter map[string]string

// Hit is one search result. Score is raw cosine similarity in [-1, 1],
// results sorted descending.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the vector database the registries write through to.
type Store interface {
	// EnsureCollections creates missing collections and payload indexes.
	EnsureCollections(ctx context.Context, dims int, collections ...string) error

	// Upsert inserts or replaces a record. Idempotent on Record.ID.
	Upsert(ctx context.Context, collection string, rec Record) error

	// Get fetches one record by id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Delete removes one record by id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, collection, id string) error

	// Search returns up to k nearest records by cosine similarity,
	// restricted by the filter, sorted by score descending.
	Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]Hit, error)

	// List enumerates up to limit records matching the filter, in
	// unspecified but stable order. Used by offline jobs and listings.
	List(ctx context.Context, collection string, filter Filter, limit int) ([]Record, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// Healthy returns nil when the backing store is reachable.
	Healthy(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

func matches(payload map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
