package model

import "time"

// CompressionTag is the annotation scheme on a lineage edge.
const CompressionTag = "CONCEPT_DETAIL_RESULT"

// LineageEdge records one compression event: what a new conversation
// carries, drops, and resolves from its predecessor. Edges form a DAG
// over conversations.
type LineageEdge struct {
	ID                 string    `json:"id"`
	Project            string    `json:"project"`
	SourceConversation string    `json:"source_conversation"`
	TargetConversation string    `json:"target_conversation"`
	CompressionTag     string    `json:"compression_tag"`
	DecisionsCarried   []string  `json:"decisions_carried,omitempty"`
	DecisionsDropped   []string  `json:"decisions_dropped,omitempty"`
	ThreadsCarried     []string  `json:"threads_carried,omitempty"`
	ThreadsResolved    []string  `json:"threads_resolved,omitempty"`
	CrossProject       bool      `json:"cross_project"`
	CreatedAt          time.Time `json:"created_at"`
}

// Payload flattens the edge into vector-store metadata for persistence in
// the lineage collection.
func (e *LineageEdge) Payload() map[string]any {
	p := map[string]any{
		"kind":                "lineage",
		"project":             e.Project,
		"source_conversation": e.SourceConversation,
		"target_conversation": e.TargetConversation,
		"compression_tag":     e.CompressionTag,
		"cross_project":       e.CrossProject,
		"created_at":          e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(e.DecisionsCarried) > 0 {
		p["decisions_carried"] = e.DecisionsCarried
	}
	if len(e.DecisionsDropped) > 0 {
		p["decisions_dropped"] = e.DecisionsDropped
	}
	if len(e.ThreadsCarried) > 0 {
		p["threads_carried"] = e.ThreadsCarried
	}
	if len(e.ThreadsResolved) > 0 {
		p["threads_resolved"] = e.ThreadsResolved
	}
	return p
}

// EdgeFromPayload reconstructs an edge from vector-store metadata.
func EdgeFromPayload(id string, p map[string]any) *LineageEdge {
	return &LineageEdge{
		ID:                 id,
		Project:            PayloadString(p, "project"),
		SourceConversation: PayloadString(p, "source_conversation"),
		TargetConversation: PayloadString(p, "target_conversation"),
		CompressionTag:     PayloadString(p, "compression_tag"),
		DecisionsCarried:   PayloadStrings(p, "decisions_carried"),
		DecisionsDropped:   PayloadStrings(p, "decisions_dropped"),
		ThreadsCarried:     PayloadStrings(p, "threads_carried"),
		ThreadsResolved:    PayloadStrings(p, "threads_resolved"),
		CrossProject:       PayloadBool(p, "cross_project"),
		CreatedAt:          PayloadTime(p, "created_at"),
	}
}

// RevalidatedMarker suffixes a carried decision id to signal explicit
// revalidation at the compression boundary, e.g. "D042!".
const RevalidatedMarker = "!"

// CarriesValidated reports whether id appears in DecisionsCarried with the
// revalidation marker.
func (e *LineageEdge) CarriesValidated(id string) bool {
	for _, c := range e.DecisionsCarried {
		if c == id+RevalidatedMarker {
			return true
		}
	}
	return false
}

// Carries reports whether id appears in DecisionsCarried, marked or not.
func (e *LineageEdge) Carries(id string) bool {
	for _, c := range e.DecisionsCarried {
		if c == id || c == id+RevalidatedMarker {
			return true
		}
	}
	return false
}
