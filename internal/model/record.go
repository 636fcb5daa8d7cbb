// Package model defines the record types stored across collections and the
// payload mapping used by the vector store.
//
// Every record shares a common header (id, project, text, timestamps,
// source conversation); kind-specific fields ride alongside. The recall
// engine consumes only the header plus a small set of scoring factors, so
// it stays parametric over kinds.
package model

import "time"

// Kind tags a record's collection.
type Kind string

const (
	KindDecision Kind = "decision"
	KindThread   Kind = "thread"
	KindPattern  Kind = "pattern"
	KindPriming  Kind = "priming"
	KindFlag     Kind = "flag"
	KindMessage  Kind = "message"
)

// Collection names in the vector store, one per kind.
const (
	CollectionDecisions = "decisions"
	CollectionThreads   = "threads"
	CollectionPatterns  = "patterns"
	CollectionPriming   = "priming"
	CollectionFlags     = "flags"
	CollectionMessages  = "messages"
	CollectionLineage   = "lineage"
)

// AllCollections lists every collection, lineage included.
var AllCollections = []string{
	CollectionDecisions, CollectionThreads, CollectionPatterns,
	CollectionPriming, CollectionFlags, CollectionMessages, CollectionLineage,
}

// RecallKinds are the kinds the attention engine fans out across.
var RecallKinds = []Kind{KindDecision, KindThread, KindPriming, KindPattern, KindMessage, KindFlag}

// CollectionFor maps a kind to its collection name.
func CollectionFor(k Kind) string {
	switch k {
	case KindDecision:
		return CollectionDecisions
	case KindThread:
		return CollectionThreads
	case KindPattern:
		return CollectionPatterns
	case KindPriming:
		return CollectionPriming
	case KindFlag:
		return CollectionFlags
	case KindMessage:
		return CollectionMessages
	default:
		return string(k)
	}
}

// KindForCollection is the inverse of CollectionFor.
func KindForCollection(c string) Kind {
	switch c {
	case CollectionDecisions:
		return KindDecision
	case CollectionThreads:
		return KindThread
	case CollectionPatterns:
		return KindPattern
	case CollectionPriming:
		return KindPriming
	case CollectionFlags:
		return KindFlag
	case CollectionMessages:
		return KindMessage
	default:
		return Kind(c)
	}
}

// Header is the shared portion of every record.
type Header struct {
	ID                 string    `json:"id"`
	Project            string    `json:"project"`
	Text               string    `json:"text"`
	SourceConversation string    `json:"source_conversation,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (h Header) basePayload(kind Kind) map[string]any {
	p := map[string]any{
		"kind":       string(kind),
		"project":    h.Project,
		"text":       h.Text,
		"created_at": h.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": h.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if h.SourceConversation != "" {
		p["source_conversation"] = h.SourceConversation
	}
	return p
}

func headerFromPayload(id string, p map[string]any) Header {
	return Header{
		ID:                 id,
		Project:            PayloadString(p, "project"),
		Text:               PayloadString(p, "text"),
		SourceConversation: PayloadString(p, "source_conversation"),
		CreatedAt:          PayloadTime(p, "created_at"),
		UpdatedAt:          PayloadTime(p, "updated_at"),
	}
}
