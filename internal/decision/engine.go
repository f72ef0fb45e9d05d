// Package decision turns an incoming message and a user snapshot into an
// admit/deny verdict with its probability, persona and reasoning trail.
package decision

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/pacebot/internal/social"
)

// PlaceholderDelayMs is the estimate used when no DelayEstimator is wired.
const PlaceholderDelayMs = 2000

// Rule names which step of the priority chain fixed the verdict.
type Rule string

const (
	RuleCooldown      Rule = "cooldown"
	RuleBlocked       Rule = "blocked"
	RuleForced        Rule = "forced"
	RuleProbabilistic Rule = "probabilistic"
)

// Message is the transport-independent view of an incoming chat message.
type Message struct {
	Text                  string
	SenderID              int64
	ChatID                int64
	Timestamp             time.Time
	IsPrivateChat         bool
	IsReplyToAgent        bool
	MentionsAgentUsername string
}

type Factors struct {
	RelationshipMultiplier float64 `json:"relationship_multiplier"`
	TrustMultiplier        float64 `json:"trust_multiplier"`
	TimeMultiplier         float64 `json:"time_multiplier"`
	TopicMultiplier        float64 `json:"topic_multiplier"`
	MentionMultiplier      float64 `json:"mention_multiplier"`
	IsPrivateChat          bool    `json:"is_private_chat"`
	IsReplyToAgent         bool    `json:"is_reply_to_agent"`
	CooldownActive         bool    `json:"cooldown_active"`
}

type Decision struct {
	ShouldRespond    bool    `json:"should_respond"`
	Probability      float64 `json:"probability"`
	Factors          Factors `json:"factors"`
	Reasoning        string  `json:"reasoning"`
	PersonaMode      string  `json:"persona_mode"`
	EstimatedDelayMs *int64  `json:"estimated_delay_ms,omitempty"`
	Rule             Rule    `json:"rule"`
}

// RandomSource yields uniform values in [0,1).
type RandomSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DelayEstimator gives a rough total reply delay before the text exists.
type DelayEstimator interface {
	Estimate(incoming, response string) int64
}

// Engine is safe for concurrent use as long as its RandomSource is.
type Engine struct {
	cfg       Config
	loc       *time.Location
	rng       RandomSource
	now       func() time.Time
	estimator DelayEstimator
}

type Option func(*Engine)

func WithRandom(r RandomSource) Option {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithDelayEstimator(est DelayEstimator) Option {
	return func(e *Engine) {
		e.estimator = est
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DefaultPersona) == "" {
		cfg.DefaultPersona = DefaultPersona
	}
	e := &Engine{
		cfg: cfg,
		loc: cfg.location(),
		rng: globalRand{},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// MakeDecision never mutates user. Rule order: cooldown, blocked relationship,
// forced response (private chat, mention, reply to agent), then a Bernoulli
// draw at the combined probability.
func (e *Engine) MakeDecision(msg Message, user social.UserState, botUsername string, cooldownActive bool) Decision {
	level := user.RelationshipValue().Level()
	f := Factors{
		RelationshipMultiplier: e.cfg.multiplierFor(level),
		TrustMultiplier:        user.Trust.Multiplier(),
		TimeMultiplier:         1.0,
		TopicMultiplier:        1.0,
		MentionMultiplier:      1.0,
		IsPrivateChat:          msg.IsPrivateChat,
		IsReplyToAgent:         msg.IsReplyToAgent,
		CooldownActive:         cooldownActive,
	}

	var reasons []string
	reasons = append(reasons, fmt.Sprintf("relationship=%s (x%.2f)", level, f.RelationshipMultiplier))
	reasons = append(reasons, fmt.Sprintf("trust=%.2f (x%.2f)", user.Trust.Value(), f.TrustMultiplier))

	if mentionsBot(msg, botUsername) {
		f.MentionMultiplier = MentionMultiplier
		reasons = append(reasons, fmt.Sprintf("mentions @%s (x%.1f)", strings.TrimPrefix(botUsername, "@"), f.MentionMultiplier))
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	if hour := ts.In(e.loc).Hour(); e.cfg.QuietHours.Contains(hour) {
		f.TimeMultiplier = e.cfg.QuietHours.Multiplier
		reasons = append(reasons, fmt.Sprintf("quiet hours %02d:00 (x%.2f)", hour, f.TimeMultiplier))
	}

	if kw, ok := social.MatchAny(msg.Text, e.cfg.Topics.Boring); ok {
		f.TopicMultiplier = e.cfg.Topics.BoringMultiplier
		reasons = append(reasons, fmt.Sprintf("boring topic %q (x%.2f)", kw, f.TopicMultiplier))
	} else if kw, ok := social.MatchAny(msg.Text, e.cfg.Topics.Interesting); ok {
		f.TopicMultiplier = e.cfg.Topics.InterestingMultiplier
		reasons = append(reasons, fmt.Sprintf("interesting topic %q (x%.2f)", kw, f.TopicMultiplier))
	}

	d := Decision{
		Factors:     f,
		PersonaMode: e.persona(user, level),
	}

	switch {
	case cooldownActive:
		d.Rule = RuleCooldown
		d.Probability = 0
		reasons = append(reasons, "cooldown active: deny")
	case level == social.LevelBlocked || f.RelationshipMultiplier == 0:
		d.Rule = RuleBlocked
		d.Probability = 0
		reasons = append(reasons, "relationship blocks replies: deny")
	case f.IsPrivateChat || f.MentionMultiplier > 1.5 || f.IsReplyToAgent:
		d.Rule = RuleForced
		d.Probability = 1
		d.ShouldRespond = true
		reasons = append(reasons, "forced response ("+forcedBy(f)+")")
	default:
		d.Rule = RuleProbabilistic
		p := e.cfg.BaseProbability * f.RelationshipMultiplier * f.TrustMultiplier * f.TimeMultiplier * f.TopicMultiplier
		d.Probability = clamp01(p)
		r := e.rng.Float64()
		d.ShouldRespond = r < d.Probability
		verdict := "deny"
		if d.ShouldRespond {
			verdict = "respond"
		}
		reasons = append(reasons, fmt.Sprintf("p=%.3f (base %.2f), roll=%.3f: %s", d.Probability, e.cfg.BaseProbability, r, verdict))
	}

	if d.ShouldRespond {
		est := int64(PlaceholderDelayMs)
		if e.estimator != nil {
			est = e.estimator.Estimate(msg.Text, "")
		}
		d.EstimatedDelayMs = &est
	}

	reasons = append(reasons, "persona="+d.PersonaMode)
	d.Reasoning = strings.Join(reasons, "; ")
	return d
}

func (e *Engine) persona(user social.UserState, level social.Level) string {
	if p := strings.TrimSpace(user.PreferredPersona); p != "" {
		return p
	}
	if level == social.LevelOwner {
		return OwnerPersona
	}
	return e.cfg.DefaultPersona
}

func mentionsBot(msg Message, botUsername string) bool {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(botUsername), "@"))
	if name == "" {
		return false
	}
	if strings.EqualFold(strings.TrimPrefix(msg.MentionsAgentUsername, "@"), name) {
		return true
	}
	return containsHandle(strings.ToLower(msg.Text), "@"+name)
}

// containsHandle reports whether handle occurs in text followed by a rune
// that cannot continue a username, so @pacebot does not match @pacebot_fan.
func containsHandle(text, handle string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], handle)
		if j < 0 {
			return false
		}
		end := i + j + len(handle)
		if r, _ := utf8.DecodeRuneInString(text[end:]); end == len(text) || !isUsernameRune(r) {
			return true
		}
		i = end
	}
}

func isUsernameRune(r rune) bool {
	return r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

func forcedBy(f Factors) string {
	var parts []string
	if f.IsPrivateChat {
		parts = append(parts, "private chat")
	}
	if f.MentionMultiplier > 1.5 {
		parts = append(parts, "mention")
	}
	if f.IsReplyToAgent {
		parts = append(parts, "reply to agent")
	}
	return strings.Join(parts, ", ")
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
