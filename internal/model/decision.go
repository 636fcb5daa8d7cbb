package model

// DecisionStatus enumerates decision lifecycle states.
type DecisionStatus string

const (
	DecisionActive     DecisionStatus = "active"
	DecisionSuperseded DecisionStatus = "superseded"
	DecisionResolved   DecisionStatus = "resolved"
)

// Decision is a registered choice with epistemic confidence and conflict
// links. Staleness is measured in compression hops, not wall-clock.
type Decision struct {
	Header
	LocalID              string         `json:"local_id"`
	Rationale            string         `json:"rationale,omitempty"`
	AlternativesRejected []string       `json:"alternatives_rejected,omitempty"`
	EpistemicTier        float64        `json:"epistemic_tier"`
	Status               DecisionStatus `json:"status"`
	ConflictsWith        []string       `json:"conflicts_with,omitempty"`
	HopsSinceValidated   int            `json:"hops_since_validated"`
	LastValidatedAtHop   int            `json:"last_validated_at_hop"`
}

// Payload flattens the decision into vector-store metadata. Fields the
// attention engine scores on (epistemic_tier, updated_at, has_conflicts,
// kind) always appear.
func (d *Decision) Payload() map[string]any {
	p := d.basePayload(KindDecision)
	p["local_id"] = d.LocalID
	p["status"] = string(d.Status)
	p["epistemic_tier"] = d.EpistemicTier
	p["hops_since_validated"] = d.HopsSinceValidated
	p["last_validated_at_hop"] = d.LastValidatedAtHop
	p["has_conflicts"] = len(d.ConflictsWith) > 0
	if d.Rationale != "" {
		p["rationale"] = d.Rationale
	}
	if len(d.AlternativesRejected) > 0 {
		p["alternatives_rejected"] = d.AlternativesRejected
	}
	if len(d.ConflictsWith) > 0 {
		p["conflicts_with"] = d.ConflictsWith
	}
	return p
}

// DecisionFromPayload reconstructs a decision from vector-store metadata.
func DecisionFromPayload(id string, p map[string]any) *Decision {
	return &Decision{
		Header:               headerFromPayload(id, p),
		LocalID:              PayloadString(p, "local_id"),
		Rationale:            PayloadString(p, "rationale"),
		AlternativesRejected: PayloadStrings(p, "alternatives_rejected"),
		EpistemicTier:        PayloadFloat(p, "epistemic_tier"),
		Status:               DecisionStatus(PayloadString(p, "status")),
		ConflictsWith:        PayloadStrings(p, "conflicts_with"),
		HopsSinceValidated:   PayloadInt(p, "hops_since_validated"),
		LastValidatedAtHop:   PayloadInt(p, "last_validated_at_hop"),
	}
}
