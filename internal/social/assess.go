package social

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

const DefaultAdjustmentAmount = 0.02

// TrustAdjustmentConfig holds the keyword heuristics that move trust per message.
type TrustAdjustmentConfig struct {
	PositiveMarkers  []string `json:"positiveMarkers"`
	NegativeMarkers  []string `json:"negativeMarkers"`
	AdjustmentAmount float64  `json:"adjustmentAmount"`
}

func DefaultTrustAdjustmentConfig() TrustAdjustmentConfig {
	return TrustAdjustmentConfig{
		PositiveMarkers:  []string{"thanks", "thank you", "please", "great", "awesome", "love", "nice", "спасибо", "🙏", "❤️"},
		NegativeMarkers:  []string{"idiot", "stupid", "shut up", "useless", "hate you", "dumb", "спам"},
		AdjustmentAmount: DefaultAdjustmentAmount,
	}
}

func (c TrustAdjustmentConfig) Validate() error {
	if c.AdjustmentAmount < 0 || c.AdjustmentAmount > 1 {
		return fmt.Errorf("%w: trust_adjustment.adjustmentAmount %v outside [0,1]", domain.ErrValidation, c.AdjustmentAmount)
	}
	return nil
}

// Assessment is the heuristic verdict for one incoming message.
type Assessment struct {
	Positive bool
	Delta    float64
	Marker   string
}

// TrustAssessor classifies message text by marker keywords.
type TrustAssessor struct {
	positive []string
	negative []string
	amount   float64
}

func NewTrustAssessor(cfg TrustAdjustmentConfig) *TrustAssessor {
	return &TrustAssessor{
		positive: normalizeKeywords(cfg.PositiveMarkers),
		negative: normalizeKeywords(cfg.NegativeMarkers),
		amount:   cfg.AdjustmentAmount,
	}
}

// Assess returns a negative verdict when any negative marker appears, a
// positive one with a trust bump for positive markers, and otherwise a neutral
// message that still counts as a positive interaction.
func (a *TrustAssessor) Assess(text string) Assessment {
	lower := strings.ToLower(text)
	if m, ok := firstMatch(lower, a.negative); ok {
		return Assessment{Positive: false, Delta: -a.amount, Marker: m}
	}
	if m, ok := firstMatch(lower, a.positive); ok {
		return Assessment{Positive: true, Delta: a.amount, Marker: m}
	}
	return Assessment{Positive: true}
}

// DetectTopics returns the keywords found in text, lowercased and deduplicated.
func DetectTopics(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, k := range normalizeKeywords(keywords) {
		if strings.Contains(lower, k) {
			out = append(out, k)
		}
	}
	return out
}

// MatchAny reports the first keyword contained in text, case-insensitively.
func MatchAny(text string, keywords []string) (string, bool) {
	return firstMatch(strings.ToLower(text), normalizeKeywords(keywords))
}

func firstMatch(lower string, keywords []string) (string, bool) {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

func normalizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
