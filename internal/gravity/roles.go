package gravity

import "sort"

// RoleType describes how a lens role bends recall.
type RoleType struct {
	GravityType string `json:"gravity_type"`
	Description string `json:"description"`
}

// RoleTypes are the known lens roles a project can hold.
var RoleTypes = map[string]RoleType{
	"connector": {GravityType: "lateral", Description: "Cross-domain bridges, isomorphisms, associations"},
	"navigator": {GravityType: "directional", Description: "Validated decisions, rejected alternatives, strategic direction"},
	"builder":   {GravityType: "implementation", Description: "Technical patterns, architecture decisions, code approaches"},
	"evaluator": {GravityType: "quality", Description: "Quality scores, success and failure patterns"},
	"critic":    {GravityType: "critical", Description: "Risks, conflicts, stale items, blind spots"},
	"compiler":  {GravityType: "synthesis", Description: "Compiled expedition findings, priming blocks"},
}

// ValidRole reports whether role names a known lens role.
func ValidRole(role string) bool {
	_, ok := RoleTypes[role]
	return ok
}

// GravityTypeFor returns role's gravity type, defaulting to lateral for
// unknown roles.
func GravityTypeFor(role string) string {
	if rt, ok := RoleTypes[role]; ok {
		return rt.GravityType
	}
	return "lateral"
}

// RoleNames returns the known role names sorted, for error messages.
func RoleNames() []string {
	names := make([]string, 0, len(RoleTypes))
	for name := range RoleTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
