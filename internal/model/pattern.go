package model

import "time"

// Pattern is a recurring observation with accumulated confidence.
// Near-duplicate registrations merge into the existing row instead of
// inserting; earlier surface forms are preserved as variants.
type Pattern struct {
	Header
	Confidence   float64   `json:"confidence"`
	MergeCount   int       `json:"merge_count"`
	LastMergedAt time.Time `json:"last_merged_at,omitzero"`
	Variants     []string  `json:"variants,omitempty"`
}

// Payload flattens the pattern into vector-store metadata.
func (p *Pattern) Payload() map[string]any {
	m := p.basePayload(KindPattern)
	m["confidence"] = p.Confidence
	m["merge_count"] = p.MergeCount
	if !p.LastMergedAt.IsZero() {
		m["last_merged_at"] = p.LastMergedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(p.Variants) > 0 {
		m["variants"] = p.Variants
	}
	return m
}

// PatternFromPayload reconstructs a pattern from vector-store metadata.
func PatternFromPayload(id string, m map[string]any) *Pattern {
	return &Pattern{
		Header:       headerFromPayload(id, m),
		Confidence:   PayloadFloat(m, "confidence"),
		MergeCount:   PayloadInt(m, "merge_count"),
		LastMergedAt: PayloadTime(m, "last_merged_at"),
		Variants:     PayloadStrings(m, "variants"),
	}
}
