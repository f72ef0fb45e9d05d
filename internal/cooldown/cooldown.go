// Package cooldown derives the anti-spam block signal from the agent's own
// recent replies in a chat. It owns no storage; callers pass a snapshot.
package cooldown

import (
	"fmt"
	"time"

	"github.com/stellarlinkco/pacebot/internal/domain"
)

const (
	DefaultMinSecondsBetweenResponses = 30
	DefaultMaxConsecutiveResponses    = 3
	DefaultResetAfterSeconds          = 300
)

// Policy bounds how often the agent speaks in one chat. A
// MaxConsecutiveResponses of zero disables the burst rule.
type Policy struct {
	MinSecondsBetweenResponses int `json:"minSecondsBetweenResponses"`
	MaxConsecutiveResponses    int `json:"maxConsecutiveResponses"`
	ResetAfterSeconds          int `json:"resetAfterSeconds"`
}

func DefaultPolicy() Policy {
	return Policy{
		MinSecondsBetweenResponses: DefaultMinSecondsBetweenResponses,
		MaxConsecutiveResponses:    DefaultMaxConsecutiveResponses,
		ResetAfterSeconds:          DefaultResetAfterSeconds,
	}
}

func (p Policy) Validate() error {
	if p.MinSecondsBetweenResponses < 0 {
		return fmt.Errorf("%w: cooldown.minSecondsBetweenResponses must be >= 0", domain.ErrValidation)
	}
	if p.MaxConsecutiveResponses < 0 {
		return fmt.Errorf("%w: cooldown.maxConsecutiveResponses must be >= 0", domain.ErrValidation)
	}
	if p.ResetAfterSeconds < 0 {
		return fmt.Errorf("%w: cooldown.resetAfterSeconds must be >= 0", domain.ErrValidation)
	}
	return nil
}

// Window is how far back a caller must look for Check to see every relevant message.
func (p Policy) Window() time.Duration {
	w := p.ResetAfterSeconds
	if p.MinSecondsBetweenResponses > w {
		w = p.MinSecondsBetweenResponses
	}
	return time.Duration(w) * time.Second
}

// Message is one entry of a chat's history as far as cooldown cares.
type Message struct {
	ChatID    int64
	FromAgent bool
	Timestamp time.Time
}

type Verdict struct {
	Blocked     bool
	Reason      string
	SinceLast   time.Duration
	RecentCount int
}

// Check evaluates the policy against msgs at now.
func Check(msgs []Message, now time.Time, p Policy) Verdict {
	var last time.Time
	agentMsgs := 0
	for _, m := range msgs {
		if !m.FromAgent {
			continue
		}
		agentMsgs++
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	if agentMsgs == 0 {
		return Verdict{Reason: "no recent agent replies"}
	}

	v := Verdict{SinceLast: now.Sub(last)}
	minGap := time.Duration(p.MinSecondsBetweenResponses) * time.Second
	if v.SinceLast < minGap {
		v.Blocked = true
		v.Reason = fmt.Sprintf("last reply %s ago, minimum gap %s", v.SinceLast.Round(time.Second), minGap)
		return v
	}

	cutoff := now.Add(-time.Duration(p.ResetAfterSeconds) * time.Second)
	for _, m := range msgs {
		if m.FromAgent && !m.Timestamp.Before(cutoff) {
			v.RecentCount++
		}
	}
	if p.MaxConsecutiveResponses > 0 && v.RecentCount >= p.MaxConsecutiveResponses {
		v.Blocked = true
		v.Reason = fmt.Sprintf("%d replies in the last %ds (max %d)", v.RecentCount, p.ResetAfterSeconds, p.MaxConsecutiveResponses)
		return v
	}
	v.Reason = "cooldown clear"
	return v
}

func IsBlocked(msgs []Message, now time.Time, minSecondsBetweenResponses, maxConsecutiveResponses, resetAfterSeconds int) bool {
	return Check(msgs, now, Policy{
		MinSecondsBetweenResponses: minSecondsBetweenResponses,
		MaxConsecutiveResponses:    maxConsecutiveResponses,
		ResetAfterSeconds:          resetAfterSeconds,
	}).Blocked
}
