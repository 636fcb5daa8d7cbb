package model

// PrimingBlock is a pre-compiled context payload indexed by territory keys.
// Text in the header holds the compiled text's embeddable surface form.
type PrimingBlock struct {
	Header
	TerritoryName     string   `json:"territory_name"`
	TerritoryKeys     []string `json:"territory_keys,omitempty"`
	ConfidenceFloor   float64  `json:"confidence_floor"`
	SourceExpeditions []string `json:"source_expeditions,omitempty"`
	CompiledText      string   `json:"compiled_text"`
}

// Payload flattens the priming block into vector-store metadata.
func (b *PrimingBlock) Payload() map[string]any {
	p := b.basePayload(KindPriming)
	p["territory_name"] = b.TerritoryName
	p["confidence_floor"] = b.ConfidenceFloor
	p["compiled_text"] = b.CompiledText
	if len(b.TerritoryKeys) > 0 {
		p["territory_keys"] = b.TerritoryKeys
	}
	if len(b.SourceExpeditions) > 0 {
		p["source_expeditions"] = b.SourceExpeditions
	}
	return p
}

// PrimingFromPayload reconstructs a priming block from vector-store metadata.
func PrimingFromPayload(id string, p map[string]any) *PrimingBlock {
	return &PrimingBlock{
		Header:            headerFromPayload(id, p),
		TerritoryName:     PayloadString(p, "territory_name"),
		TerritoryKeys:     PayloadStrings(p, "territory_keys"),
		ConfidenceFloor:   PayloadFloat(p, "confidence_floor"),
		SourceExpeditions: PayloadStrings(p, "source_expeditions"),
		CompiledText:      PayloadString(p, "compiled_text"),
	}
}

// FlagCategory enumerates expedition flag categories.
type FlagCategory string

const (
	FlagInversion     FlagCategory = "inversion"
	FlagIsomorphism   FlagCategory = "isomorphism"
	FlagFSD           FlagCategory = "fsd"
	FlagManifestation FlagCategory = "manifestation"
	FlagTrap          FlagCategory = "trap"
	FlagGeneral       FlagCategory = "general"
)

// ValidFlagCategory reports whether c is a known category.
func ValidFlagCategory(c FlagCategory) bool {
	switch c {
	case FlagInversion, FlagIsomorphism, FlagFSD, FlagManifestation, FlagTrap, FlagGeneral:
		return true
	}
	return false
}

// FlagStatus enumerates the flag compilation lifecycle.
type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagCompiled  FlagStatus = "compiled"
	FlagDiscarded FlagStatus = "discarded"
)

// ExpeditionFlag is a bookmarked observation awaiting compilation into a
// priming block.
type ExpeditionFlag struct {
	Header
	Category    FlagCategory `json:"category"`
	Description string       `json:"description"`
	Status      FlagStatus   `json:"status"`
}

// Payload flattens the flag into vector-store metadata.
func (f *ExpeditionFlag) Payload() map[string]any {
	p := f.basePayload(KindFlag)
	p["category"] = string(f.Category)
	p["description"] = f.Description
	p["status"] = string(f.Status)
	return p
}

// FlagFromPayload reconstructs a flag from vector-store metadata.
func FlagFromPayload(id string, p map[string]any) *ExpeditionFlag {
	return &ExpeditionFlag{
		Header:      headerFromPayload(id, p),
		Category:    FlagCategory(PayloadString(p, "category")),
		Description: PayloadString(p, "description"),
		Status:      FlagStatus(PayloadString(p, "status")),
	}
}
