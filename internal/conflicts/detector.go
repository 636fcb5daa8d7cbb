// Package conflicts implements two-signal contradiction detection between
// decisions.
//
// Signal 1 is semantic proximity: embedding cosine at or above a threshold.
// Signal 2 is entity/intent divergence: the two texts share salient tokens
// but exactly one carries a negation or opposite-modal marker. Both signals
// must pass; paraphrases share tokens without the asymmetry and are not
// conflicts.
//
// The detector is pure: no I/O, no mutation, deterministic for fixed input.
// Keeping it outside the vector store lets the registry swap it for a
// stronger judge without touching storage.
package conflicts

import (
	"strings"
	"unicode"
)

const (
	// SimilarityThreshold gates signal 1.
	SimilarityThreshold = 0.72

	// overlapThreshold gates the salient-token half of signal 2.
	overlapThreshold = 0.5
)

// negationMarkers signal an opposed position when present in exactly one
// of the two texts.
var negationMarkers = []string{
	"not", "no", "never", "don't", "dont", "won't", "wont",
	"rejected", "superseded", "instead", "avoid", "deprecated", "without",
}

// Result carries the decomposed detector signals so callers can explain
// the verdict.
type Result struct {
	Conflict          bool    `json:"conflict"`
	Similarity        float64 `json:"similarity"`
	TokenOverlap      float64 `json:"token_overlap"`
	NegationAsymmetry bool    `json:"negation_asymmetry"`
}

// Detect runs both signals on a candidate pair. similarity is the raw
// embedding cosine between the two texts, computed by the caller.
func Detect(similarity float64, textA, textB string) Result {
	r := Result{Similarity: similarity}

	if similarity < SimilarityThreshold {
		return r
	}

	a := SalientTokens(textA)
	b := SalientTokens(textB)
	r.TokenOverlap = jaccard(a, b)
	r.NegationAsymmetry = hasNegation(textA) != hasNegation(textB)

	r.Conflict = r.TokenOverlap >= overlapThreshold && r.NegationAsymmetry
	return r
}

// SalientTokens extracts the entity-bearing tokens of a text: acronyms,
// mixed-case identifiers, tokens with digits, quoted tokens, and local
// record ids. Sentence-initial capitalized words are deliberately not
// salient on their own. Tokens are lowercased for comparison.
func SalientTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})

	for _, tok := range quotedSpans(text) {
		for _, w := range splitWords(tok) {
			out[strings.ToLower(w)] = struct{}{}
		}
	}

	for _, w := range splitWords(text) {
		if isSalientWord(w) {
			out[strings.ToLower(w)] = struct{}{}
		}
	}
	return out
}

// splitWords splits on everything that is not a letter or digit.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// isSalientWord reports whether a single word is salient without quote
// context: all-caps acronym, uppercase after the first rune, or letters
// mixed with digits.
func isSalientWord(w string) bool {
	if len(w) < 2 {
		return false
	}

	runes := []rune(w)
	allUpper := true
	hasLetter := false
	hasDigit := false
	interiorUpper := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			hasLetter = true
			if i > 0 {
				interiorUpper = true
			}
		case unicode.IsLower(r):
			hasLetter = true
			allUpper = false
		case unicode.IsDigit(r):
			hasDigit = true
			allUpper = false
		}
	}

	if hasLetter && hasDigit {
		return true
	}
	if allUpper && hasLetter {
		return true
	}
	return interiorUpper
}

// quotedSpans returns the contents of single- or double-quoted spans.
func quotedSpans(text string) []string {
	var spans []string
	for _, quote := range []rune{'"', '\''} {
		inside := false
		var current strings.Builder
		for _, r := range text {
			if r == quote {
				if inside && current.Len() > 0 {
					spans = append(spans, current.String())
				}
				current.Reset()
				inside = !inside
				continue
			}
			if inside {
				current.WriteRune(r)
			}
		}
	}
	return spans
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func hasNegation(text string) bool {
	for _, w := range splitWords(strings.ToLower(text)) {
		for _, m := range negationMarkers {
			if w == m {
				return true
			}
		}
	}
	// Apostrophes are stripped by splitWords, so catch contractions whole.
	lower := strings.ToLower(text)
	return strings.Contains(lower, "don't") || strings.Contains(lower, "won't")
}
