package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/social"
)

const (
	DefaultBaseProbability = 0.3
	DefaultPersona         = "default"
	OwnerPersona           = "owner"
	MentionMultiplier      = 2.0
)

type QuietHours struct {
	// Start == End disables quiet hours. Start > End spans midnight.
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Multiplier float64 `json:"multiplier"`
}

// Contains reports whether hour falls in the quiet window.
func (q QuietHours) Contains(hour int) bool {
	switch {
	case q.Start == q.End:
		return false
	case q.Start < q.End:
		return hour >= q.Start && hour < q.End
	default:
		return hour >= q.Start || hour < q.End
	}
}

type Topics struct {
	Boring                []string `json:"boring"`
	Interesting           []string `json:"interesting"`
	BoringMultiplier      float64  `json:"boringMultiplier"`
	InterestingMultiplier float64  `json:"interestingMultiplier"`
}

type Config struct {
	BaseProbability         float64                  `json:"baseProbability"`
	RelationshipMultipliers map[social.Level]float64 `json:"relationshipMultipliers,omitempty"`
	QuietHours              QuietHours               `json:"quietHours"`
	Topics                  Topics                   `json:"topics"`
	DefaultPersona          string                   `json:"defaultPersona"`
	// Timezone is an IANA name used for quiet hours; empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		BaseProbability: DefaultBaseProbability,
		QuietHours: QuietHours{
			Start:      23,
			End:        8,
			Multiplier: 0.3,
		},
		Topics: Topics{
			Boring:                []string{"weather", "traffic", "ads", "giveaway"},
			Interesting:           []string{"music", "games", "movies", "travel", "programming"},
			BoringMultiplier:      0.5,
			InterestingMultiplier: 1.5,
		},
		DefaultPersona: DefaultPersona,
	}
}

func (c Config) Validate() error {
	if err := probability("decision.baseProbability", c.BaseProbability); err != nil {
		return err
	}
	for level, m := range c.RelationshipMultipliers {
		if !level.Valid() {
			return fmt.Errorf("%w: decision.relationshipMultipliers: unknown level %q", domain.ErrValidation, level)
		}
		if err := multiplier(fmt.Sprintf("decision.relationshipMultipliers[%s]", level), m); err != nil {
			return err
		}
	}
	q := c.QuietHours
	if q.Start < 0 || q.Start > 23 || q.End < 0 || q.End > 23 {
		return fmt.Errorf("%w: decision.quietHours start/end must be in [0,23]", domain.ErrValidation)
	}
	if err := multiplier("decision.quietHours.multiplier", q.Multiplier); err != nil {
		return err
	}
	if err := multiplier("decision.topics.boringMultiplier", c.Topics.BoringMultiplier); err != nil {
		return err
	}
	if err := multiplier("decision.topics.interestingMultiplier", c.Topics.InterestingMultiplier); err != nil {
		return err
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: decision.timezone %q: %v", domain.ErrValidation, c.Timezone, err)
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// multiplierFor uses the configured table, falling back to the fixed one.
func (c Config) multiplierFor(level social.Level) float64 {
	if m, ok := c.RelationshipMultipliers[level]; ok {
		return m
	}
	return level.DefaultMultiplier()
}

// multiplier accepts finite, non-negative factors.
func multiplier(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s %v must be a finite value >= 0", domain.ErrValidation, name, v)
	}
	return nil
}

func probability(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", domain.ErrValidation, name, v)
	}
	return nil
}
