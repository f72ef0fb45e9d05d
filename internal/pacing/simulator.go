// Package pacing computes human-like read, think and type delays for an
// outgoing reply and sleeps through them.
package pacing

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/pacebot/internal/metrics"
)

// DefaultTypingRefresh re-sends the typing indicator before Telegram drops it (~5s).
const DefaultTypingRefresh = 4 * time.Second

// RandomSource yields uniform values in [0,1).
type RandomSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// TypingFunc shows a "typing…" indicator in the chat being answered.
type TypingFunc func(ctx context.Context) error

// Result reports the delay of each phase in milliseconds.
type Result struct {
	ReadDelayMs     int64 `json:"read_delay_ms"`
	ThinkingDelayMs int64 `json:"thinking_delay_ms"`
	TypingDelayMs   int64 `json:"typing_delay_ms"`
	TotalDelayMs    int64 `json:"total_delay_ms"`
}

func (r *Result) sum() {
	r.TotalDelayMs = r.ReadDelayMs + r.ThinkingDelayMs + r.TypingDelayMs
}

type Simulator struct {
	cfg           Config
	rng           RandomSource
	sleep         SleepFunc
	typingRefresh time.Duration
}

type Option func(*Simulator)

func WithRandom(r RandomSource) Option {
	return func(s *Simulator) {
		if r != nil {
			s.rng = r
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(s *Simulator) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithTypingRefresh sets how often the indicator is re-sent during the typing
// phase. Zero or negative sends it once.
func WithTypingRefresh(d time.Duration) Option {
	return func(s *Simulator) {
		s.typingRefresh = d
	}
}

// NewSimulator expects a config that already passed Validate.
func NewSimulator(cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:           cfg,
		rng:           globalRand{},
		sleep:         sleepContext,
		typingRefresh: DefaultTypingRefresh,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) Config() Config {
	return s.cfg
}

func (s *Simulator) ReadDelay(text string) int64 {
	if !s.cfg.Enabled {
		return 0
	}
	c := s.cfg.ReadDelay
	base := s.uniform(c.MinMs, c.MaxMs)
	return nonNegative(base + int64(wordCount(text))*int64(c.PerWordMs))
}

func (s *Simulator) ThinkingDelay() int64 {
	if !s.cfg.Enabled {
		return 0
	}
	return nonNegative(s.uniform(s.cfg.ThinkingDelay.MinMs, s.cfg.ThinkingDelay.MaxMs))
}

func (s *Simulator) TypingDelay(text string) int64 {
	if !s.cfg.Enabled || !s.cfg.TypingAction.Enabled {
		return 0
	}
	c := s.cfg.TypingAction
	raw := float64(c.BaseDelayMs) + float64(utf8.RuneCountInString(text))*float64(c.PerCharacterMs)
	if c.Randomness > 0 {
		raw += raw * c.Randomness * (2*s.rng.Float64() - 1)
	}
	return clampMs(int64(raw), c.MinMs, c.MaxMs)
}

// Estimate is a deterministic midpoint estimate of the full flow, for logging
// before any text has been generated. response may be empty.
func (s *Simulator) Estimate(incoming, response string) int64 {
	if !s.cfg.Enabled {
		return 0
	}
	rd := s.cfg.ReadDelay
	total := int64(rd.MinMs+rd.MaxMs)/2 + int64(wordCount(incoming))*int64(rd.PerWordMs)
	total += int64(s.cfg.ThinkingDelay.MinMs+s.cfg.ThinkingDelay.MaxMs) / 2
	if c := s.cfg.TypingAction; c.Enabled {
		raw := int64(c.BaseDelayMs) + int64(utf8.RuneCountInString(response))*int64(c.PerCharacterMs)
		total += clampMs(raw, c.MinMs, c.MaxMs)
	}
	return nonNegative(total)
}

// SimulateFullResponseFlow waits through the read, thinking and typing phases
// in order. During the typing phase typing is invoked alongside the wait; its
// failures are logged and the wait continues. A slow typing call never
// extends the flow. If ctx is cancelled the partial
// result is returned with ctx.Err() and the caller must not send the reply.
func (s *Simulator) SimulateFullResponseFlow(ctx context.Context, typing TypingFunc, incoming, response string) (Result, error) {
	var res Result

	res.ReadDelayMs = s.ReadDelay(incoming)
	res.sum()
	if err := s.wait(ctx, res.ReadDelayMs); err != nil {
		return res, err
	}

	res.ThinkingDelayMs = s.ThinkingDelay()
	res.sum()
	if err := s.wait(ctx, res.ThinkingDelayMs); err != nil {
		return res, err
	}

	res.TypingDelayMs = s.TypingDelay(response)
	res.sum()
	if res.TypingDelayMs == 0 {
		return res, ctx.Err()
	}
	if typing == nil {
		return res, s.wait(ctx, res.TypingDelayMs)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	// The indicator is fire-and-forget: the flow never waits on it, and its
	// context ends with the typing phase.
	typingCtx, stop := context.WithCancel(ctx)
	go s.keepTyping(typingCtx, typing)
	err := s.wait(ctx, res.TypingDelayMs)
	stop()
	return res, err
}

// keepTyping always makes the first call; the caller checked cancellation
// before entering the typing phase.
func (s *Simulator) keepTyping(ctx context.Context, typing TypingFunc) {
	if err := typing(ctx); err != nil {
		s.typingFailed(ctx, err)
		return
	}
	if s.typingRefresh <= 0 {
		return
	}
	ticker := time.NewTicker(s.typingRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := typing(ctx); err != nil {
				s.typingFailed(ctx, err)
				return
			}
		}
	}
}

func (s *Simulator) typingFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	metrics.TypingIndicatorFailures.Inc()
	log.Printf("[pacing] typing indicator failed, continuing plain wait: %v", err)
}

func (s *Simulator) wait(ctx context.Context, ms int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ms <= 0 {
		return nil
	}
	return s.sleep(ctx, time.Duration(ms)*time.Millisecond)
}

func (s *Simulator) uniform(min, max int) int64 {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return int64(min)
	}
	return int64(min) + int64(s.rng.Float64()*float64(max-min))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func clampMs(v int64, min, max int) int64 {
	if v < int64(min) {
		v = int64(min)
	}
	if max > 0 && v > int64(max) {
		v = int64(max)
	}
	return nonNegative(v)
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
