// Package attention implements the blended recall scorer. Every candidate
// from every collection lands on a single scale so a fresh high-tier
// decision can outrank a slightly-more-similar stale message.
package attention

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// Weights are the five blend coefficients. They must be non-negative and
// sum to 1.
type Weights struct {
	Similarity    float64 `json:"similarity"`
	Tier          float64 `json:"tier"`
	Freshness     float64 `json:"freshness"`
	ConflictBonus float64 `json:"conflict_bonus"`
	CategoryBoost float64 `json:"category_boost"`
}

// DefaultWeights returns the standard blend.
func DefaultWeights() Weights {
	return Weights{
		Similarity:    0.45,
		Tier:          0.20,
		Freshness:     0.15,
		ConflictBonus: 0.10,
		CategoryBoost: 0.10,
	}
}

// ParseWeights decodes a JSON override, or returns the defaults when raw is
// empty. The override must supply all five keys.
func ParseWeights(raw string) (Weights, error) {
	if raw == "" {
		return DefaultWeights(), nil
	}
	var w Weights
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Weights{}, fmt.Errorf("attention: parse weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Validate checks non-negativity and that the weights sum to 1 within a
// small tolerance.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"similarity":     w.Similarity,
		"tier":           w.Tier,
		"freshness":      w.Freshness,
		"conflict_bonus": w.ConflictBonus,
		"category_boost": w.CategoryBoost,
	} {
		if v < 0 {
			return fmt.Errorf("attention: weight %s is negative (%v)", name, v)
		}
	}
	sum := w.Similarity + w.Tier + w.Freshness + w.ConflictBonus + w.CategoryBoost
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("attention: weights sum to %v, want 1", sum)
	}
	return nil
}

// freshnessHalfLife is the age at which the freshness factor halves.
const freshnessHalfLife = 30 * 24 * time.Hour

// CategoryBoost returns the per-kind boost factor. Unknown kinds get the
// message boost.
func CategoryBoost(kind model.Kind) float64 {
	switch kind {
	case model.KindDecision:
		return 1.0
	case model.KindThread:
		return 0.8
	case model.KindPriming:
		return 0.6
	case model.KindPattern:
		return 0.5
	case model.KindFlag:
		return 0.4
	default:
		return 0.3
	}
}

// NormalizeSimilarity maps a cosine in [-1, 1] onto [0, 1].
func NormalizeSimilarity(cos float64) float64 {
	s := (cos + 1) / 2
	return clamp01(s)
}

// Freshness decays exponentially with age, halving every thirty days.
func Freshness(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	f := math.Exp(-math.Ln2 * age.Hours() / freshnessHalfLife.Hours())
	return clamp01(f)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Factors decomposes an attention score so callers can explain a ranking.
type Factors struct {
	Similarity    float64 `json:"similarity"`
	Tier          float64 `json:"tier"`
	Freshness     float64 `json:"freshness"`
	ConflictBonus float64 `json:"conflict_bonus"`
	CategoryBoost float64 `json:"category_boost"`
}

// Score blends the factors under the given weights.
func (w Weights) Score(f Factors) float64 {
	return w.Similarity*f.Similarity +
		w.Tier*f.Tier +
		w.Freshness*f.Freshness +
		w.ConflictBonus*f.ConflictBonus +
		w.CategoryBoost*f.CategoryBoost
}

// TokenEstimator approximates the token cost of a text.
type TokenEstimator func(text string) int

// EstimateTokens is the default estimator: one token per four bytes,
// rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
