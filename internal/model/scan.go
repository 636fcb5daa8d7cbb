package model

import "time"

// ResonanceTier classifies a cross-project similarity edge.
type ResonanceTier string

const (
	TierStrong ResonanceTier = "strong"
	TierWeak   ResonanceTier = "weak"
)

// Resonance is one directed edge of the entanglement graph.
type Resonance struct {
	FromID      string        `json:"from_id"`
	ToID        string        `json:"to_id"`
	FromProject string        `json:"from_project"`
	ToProject   string        `json:"to_project"`
	Similarity  float64       `json:"similarity"`
	Tier        ResonanceTier `json:"tier"`
}

// Cluster is a connected component of the undirected strong-edge graph.
// Cluster ids are assigned in order of the smallest member id.
type Cluster struct {
	ID       int      `json:"id"`
	Members  []string `json:"members"`
	Projects []string `json:"projects"`
}

// ScanCounts summarizes one entanglement scan.
type ScanCounts struct {
	ItemsScanned int `json:"items_scanned"`
	Resonances   int `json:"resonances"`
	Clusters     int `json:"clusters"`
	Bridges      int `json:"bridges"`
	LooseEnds    int `json:"loose_ends"`
}

// ScanSummary is the listing form of a snapshot: identity and counts only.
type ScanSummary struct {
	ID        int64      `json:"id"`
	ScannedAt time.Time  `json:"scanned_at"`
	Counts    ScanCounts `json:"counts"`
}

// ScanSnapshot is one append-only output of the entanglement scanner.
type ScanSnapshot struct {
	ID         int64       `json:"id"`
	ScannedAt  time.Time   `json:"scanned_at"`
	Counts     ScanCounts  `json:"counts"`
	Resonances []Resonance `json:"resonances"`
	Clusters   []Cluster   `json:"clusters"`
	Bridges    []Resonance `json:"bridges"`
	LooseEnds  []string    `json:"loose_ends"`
}
