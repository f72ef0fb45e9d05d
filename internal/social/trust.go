package social

import (
	"fmt"
	"math"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

const (
	MinTrust     = 0.0
	MaxTrust     = 1.0
	DefaultTrust = 0.5
)

// TrustScore is a continuous trust signal in [0,1]. The zero value is a valid score of 0.
type TrustScore struct {
	value float64
}

func NewTrustScore(v float64) (TrustScore, error) {
	if math.IsNaN(v) || v < MinTrust || v > MaxTrust {
		return TrustScore{}, fmt.Errorf("%w: trust score %v outside [0,1]", domain.ErrValidation, v)
	}
	return TrustScore{value: v}, nil
}

// MustTrustScore panics on out-of-range input. Only for constants and tests.
func MustTrustScore(v float64) TrustScore {
	t, err := NewTrustScore(v)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TrustScore) Value() float64 {
	return t.value
}

// Adjust returns a new score moved by delta and clamped to [0,1].
// A NaN delta leaves the score unchanged.
func (t TrustScore) Adjust(delta float64) TrustScore {
	if math.IsNaN(delta) {
		return t
	}
	return TrustScore{value: clamp01(t.value + delta)}
}

// Multiplier maps trust linearly onto [0.5, 1.5].
func (t TrustScore) Multiplier() float64 {
	return 0.5 + t.value
}

func (t TrustScore) String() string {
	return fmt.Sprintf("%.2f", t.value)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
