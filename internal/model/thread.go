package model

// ThreadStatus enumerates thread lifecycle states. Resolved is terminal.
type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "open"
	ThreadBlocked  ThreadStatus = "blocked"
	ThreadResolved ThreadStatus = "resolved"
)

// ThreadPriority orders open work.
type ThreadPriority string

const (
	PriorityHigh   ThreadPriority = "high"
	PriorityMedium ThreadPriority = "medium"
	PriorityLow    ThreadPriority = "low"
)

// PriorityRank maps a priority to a sortable rank, high first.
func PriorityRank(p ThreadPriority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Thread is an open line of work carried across conversations.
// Invariant: Resolution is non-empty iff Status is resolved.
type Thread struct {
	Header
	LocalID            string         `json:"local_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Status             ThreadStatus   `json:"status"`
	Priority           ThreadPriority `json:"priority"`
	BlockedBy          []string       `json:"blocked_by,omitempty"`
	Resolution         string         `json:"resolution,omitempty"`
	HopsSinceValidated int            `json:"hops_since_validated"`
}

// Payload flattens the thread into vector-store metadata.
func (t *Thread) Payload() map[string]any {
	p := t.basePayload(KindThread)
	p["local_id"] = t.LocalID
	p["title"] = t.Title
	p["status"] = string(t.Status)
	p["priority"] = string(t.Priority)
	p["hops_since_validated"] = t.HopsSinceValidated
	if t.Description != "" {
		p["description"] = t.Description
	}
	if len(t.BlockedBy) > 0 {
		p["blocked_by"] = t.BlockedBy
	}
	if t.Resolution != "" {
		p["resolution"] = t.Resolution
	}
	return p
}

// ThreadFromPayload reconstructs a thread from vector-store metadata.
func ThreadFromPayload(id string, p map[string]any) *Thread {
	return &Thread{
		Header:             headerFromPayload(id, p),
		LocalID:            PayloadString(p, "local_id"),
		Title:              PayloadString(p, "title"),
		Description:        PayloadString(p, "description"),
		Status:             ThreadStatus(PayloadString(p, "status")),
		Priority:           ThreadPriority(PayloadString(p, "priority")),
		BlockedBy:          PayloadStrings(p, "blocked_by"),
		Resolution:         PayloadString(p, "resolution"),
		HopsSinceValidated: PayloadInt(p, "hops_since_validated"),
	}
}
