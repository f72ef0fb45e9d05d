package pacing

import (
	"fmt"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

type ReadDelayConfig struct {
	MinMs     int `json:"minMs"`
	MaxMs     int `json:"maxMs"`
	PerWordMs int `json:"perWordMs"`
}

type ThinkingDelayConfig struct {
	MinMs int `json:"minMs"`
	MaxMs int `json:"maxMs"`
}

type TypingActionConfig struct {
	Enabled        bool    `json:"enabled"`
	BaseDelayMs    int     `json:"baseDelayMs"`
	PerCharacterMs int     `json:"perCharacterMs"`
	Randomness     float64 `json:"randomness"`
	MinMs          int     `json:"minMs"`
	MaxMs          int     `json:"maxMs"`
}

type Config struct {
	Enabled       bool                `json:"enabled"`
	ReadDelay     ReadDelayConfig     `json:"readDelay"`
	ThinkingDelay ThinkingDelayConfig `json:"thinkingDelay"`
	TypingAction  TypingActionConfig  `json:"typingAction"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
		ReadDelay: ReadDelayConfig{
			MinMs:     500,
			MaxMs:     2000,
			PerWordMs: 100,
		},
		ThinkingDelay: ThinkingDelayConfig{
			MinMs: 1000,
			MaxMs: 5000,
		},
		TypingAction: TypingActionConfig{
			Enabled:        true,
			BaseDelayMs:    1000,
			PerCharacterMs: 50,
			Randomness:     0.2,
			MinMs:          800,
			MaxMs:          15000,
		},
	}
}

func (c Config) Validate() error {
	if err := validateRange("pacing.readDelay", c.ReadDelay.MinMs, c.ReadDelay.MaxMs); err != nil {
		return err
	}
	if c.ReadDelay.PerWordMs < 0 {
		return fmt.Errorf("%w: pacing.readDelay.perWordMs must be >= 0", domain.ErrValidation)
	}
	if err := validateRange("pacing.thinkingDelay", c.ThinkingDelay.MinMs, c.ThinkingDelay.MaxMs); err != nil {
		return err
	}
	t := c.TypingAction
	if err := validateRange("pacing.typingAction", t.MinMs, t.MaxMs); err != nil {
		return err
	}
	if t.BaseDelayMs < 0 || t.PerCharacterMs < 0 {
		return fmt.Errorf("%w: pacing.typingAction base and per-character delays must be >= 0", domain.ErrValidation)
	}
	if t.Randomness < 0 || t.Randomness > 1 {
		return fmt.Errorf("%w: pacing.typingAction.randomness %v outside [0,1]", domain.ErrValidation, t.Randomness)
	}
	return nil
}

func validateRange(name string, min, max int) error {
	if min < 0 || max < 0 {
		return fmt.Errorf("%w: %s min/max must be >= 0", domain.ErrValidation, name)
	}
	if min > max {
		return fmt.Errorf("%w: %s minMs %d > maxMs %d", domain.ErrValidation, name, min, max)
	}
	return nil
}
