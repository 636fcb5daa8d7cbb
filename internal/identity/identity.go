// Package identity derives deterministic content-addressed identifiers.
//
// Every record id is a name-based UUID (v5) under a per-project namespace,
// so registering the same logical record twice yields the same id and
// upserts stay idempotent across processes.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Namespace returns the per-project UUID namespace.
func Namespace(project string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(strings.ToLower(project)+".mnemo.local"))
}

func derive(project string, parts ...string) string {
	return uuid.NewSHA1(Namespace(project), []byte(strings.Join(parts, "\x1f"))).String()
}

// DecisionID derives the id for a decision keyed by project-local id.
func DecisionID(project, localID string) string {
	return derive(project, "decision", localID)
}

// ThreadID derives the id for a thread keyed by project-local id.
func ThreadID(project, localID string) string {
	return derive(project, "thread", localID)
}

// PatternID derives a content-addressed id for a pattern.
func PatternID(project, text string) string {
	return derive(project, "pattern", normalize(text))
}

// PrimingID derives the id for a priming block keyed by territory name.
func PrimingID(project, territory string) string {
	return derive(project, "priming", strings.ToLower(territory))
}

// FlagID derives a content-addressed id for an expedition flag.
func FlagID(project, category, description string) string {
	return derive(project, "flag", category, normalize(description))
}

// MessageID derives a content-addressed id for an archived message.
func MessageID(project, conversation, text string) string {
	return derive(project, "message", conversation, normalize(text))
}

// EdgeID derives the id for a lineage edge keyed by its endpoints.
func EdgeID(source, target string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("lineage.mnemo.local\x1f"+source+"\x1f"+target)).String()
}

// normalize collapses whitespace and case so trivial reformatting of the
// same text maps to the same id.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
