package decision

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/social"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type fixedEstimator int64

func (f fixedEstimator) Estimate(string, string) int64 { return int64(f) }

// noon UTC, outside the default quiet hours.
var noon = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func neutralConfig() Config {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Topics = Topics{
		Boring:                []string{"weather"},
		Interesting:           []string{"music"},
		BoringMultiplier:      0.5,
		InterestingMultiplier: 1.5,
	}
	return cfg
}

func newEngine(t *testing.T, cfg Config, r float64) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, WithRandom(fixedRand(r)), WithClock(func() time.Time { return noon }))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	return e
}

func user(level social.Level, trust float64) social.UserState {
	u := social.NewUserState(1, "alice", "Alice")
	u.Relationship = level
	u.Trust = social.MustTrustScore(trust)
	return u.Clone()
}

func groupMsg(text string) Message {
	return Message{Text: text, SenderID: 1, ChatID: -100, Timestamp: noon}
}

func TestMakeDecision_GroupProbability(t *testing.T) {
	cfg := neutralConfig()
	cfg.BaseProbability = 0.3
	u := user(social.LevelCloseFriend, 0.8)

	d := newEngine(t, cfg, 0.2).MakeDecision(groupMsg("hello all"), u, "pacebot", false)
	if math.Abs(d.Probability-0.351) > 1e-9 {
		t.Fatalf("Probability = %v, want 0.351", d.Probability)
	}
	if !d.ShouldRespond {
		t.Error("roll 0.2 < 0.351 should respond")
	}
	if d.Rule != RuleProbabilistic {
		t.Errorf("Rule = %s, want probabilistic", d.Rule)
	}

	d = newEngine(t, cfg, 0.5).MakeDecision(groupMsg("hello all"), u, "pacebot", false)
	if d.ShouldRespond {
		t.Error("roll 0.5 >= 0.351 should not respond")
	}
	if d.EstimatedDelayMs != nil {
		t.Error("no delay estimate expected when not responding")
	}
}

func TestMakeDecision_CooldownAlwaysDenies(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0)
	msgs := []Message{
		{Text: "hi", IsPrivateChat: true, Timestamp: noon},
		{Text: "hey @pacebot", Timestamp: noon},
		{Text: "sure", IsReplyToAgent: true, Timestamp: noon},
	}
	for _, lvl := range social.Levels() {
		for _, m := range msgs {
			d := e.MakeDecision(m, user(lvl, 1), "pacebot", true)
			if d.ShouldRespond || d.Probability != 0 {
				t.Errorf("%s %q: cooldown decision = %v/%v", lvl, m.Text, d.ShouldRespond, d.Probability)
			}
			if d.Rule != RuleCooldown {
				t.Errorf("Rule = %s, want cooldown", d.Rule)
			}
		}
	}
}

func TestMakeDecision_BlockedAlwaysDenies(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0)
	u := user(social.LevelBlocked, 0)
	msgs := []Message{
		{Text: "hi", IsPrivateChat: true, Timestamp: noon},
		{Text: "@PaceBot help", Timestamp: noon},
		{Text: "ok", IsReplyToAgent: true, IsPrivateChat: true, Timestamp: noon},
	}
	for _, m := range msgs {
		d := e.MakeDecision(m, u, "pacebot", false)
		if d.ShouldRespond || d.Probability != 0 {
			t.Errorf("%q: blocked user got %v/%v", m.Text, d.ShouldRespond, d.Probability)
		}
		if d.Rule != RuleBlocked {
			t.Errorf("Rule = %s, want blocked", d.Rule)
		}
	}
}

func TestMakeDecision_ZeroConfiguredMultiplierDenies(t *testing.T) {
	cfg := neutralConfig()
	cfg.RelationshipMultipliers = map[social.Level]float64{social.LevelStranger: 0}
	d := newEngine(t, cfg, 0).MakeDecision(Message{Text: "hi", IsPrivateChat: true, Timestamp: noon}, user(social.LevelStranger, 0.5), "pacebot", false)
	if d.ShouldRespond || d.Rule != RuleBlocked {
		t.Errorf("decision = %+v, want blocked deny", d)
	}
}

func TestMakeDecision_ForcedResponses(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0.99)
	tests := []struct {
		name string
		msg  Message
	}{
		{"private", Message{Text: "hi", IsPrivateChat: true, Timestamp: noon}},
		{"mention in text", Message{Text: "hey @PaceBot what's up", Timestamp: noon}},
		{"mention entity", Message{Text: "hey", MentionsAgentUsername: "pacebot", Timestamp: noon}},
		{"reply", Message{Text: "right", IsReplyToAgent: true, Timestamp: noon}},
	}
	for _, tt := range tests {
		d := e.MakeDecision(tt.msg, user(social.LevelStranger, 0), "@pacebot", false)
		if !d.ShouldRespond || d.Probability != 1.0 {
			t.Errorf("%s: decision = %v/%v, want forced", tt.name, d.ShouldRespond, d.Probability)
		}
		if d.Rule != RuleForced {
			t.Errorf("%s: Rule = %s, want forced", tt.name, d.Rule)
		}
		if d.EstimatedDelayMs == nil || *d.EstimatedDelayMs != PlaceholderDelayMs {
			t.Errorf("%s: EstimatedDelayMs = %v, want placeholder", tt.name, d.EstimatedDelayMs)
		}
	}
}

func TestMakeDecision_MentionFactor(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0.99)
	d := e.MakeDecision(groupMsg("ping @pacebot"), user(social.LevelFriend, 0.5), "pacebot", false)
	if d.Factors.MentionMultiplier != 2.0 {
		t.Errorf("MentionMultiplier = %v, want 2.0", d.Factors.MentionMultiplier)
	}
	d = e.MakeDecision(groupMsg("ping @pacebot_fan"), user(social.LevelFriend, 0.5), "", false)
	if d.Factors.MentionMultiplier != 1.0 {
		t.Error("empty bot username must never count as a mention")
	}
}

func TestMakeDecision_MentionNeedsUsernameBoundary(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0.99)
	tests := []struct {
		text string
		want bool
	}{
		{"hey @pacebot_fan how are you", false},
		{"@pacebot2 ping", false},
		{"@PaceBotX", false},
		{"@pacebot_fan and @pacebot, thoughts?", true},
		{"hey @PaceBot!", true},
		{"@pacebot", true},
		{"ask @pacebot\nplease", true},
	}
	for _, tt := range tests {
		d := e.MakeDecision(groupMsg(tt.text), user(social.LevelFriend, 0.5), "pacebot", false)
		got := d.Factors.MentionMultiplier == MentionMultiplier
		if got != tt.want {
			t.Errorf("%q: mentioned = %v, want %v", tt.text, got, tt.want)
		}
		if !tt.want && (d.ShouldRespond || d.Rule == RuleForced) {
			t.Errorf("%q: forced reply to a message for someone else: %+v", tt.text, d)
		}
	}
}

func TestMakeDecision_QuietHours(t *testing.T) {
	cfg := neutralConfig()
	cfg.BaseProbability = 1
	cfg.QuietHours = QuietHours{Start: 23, End: 7, Multiplier: 0.25}
	e := newEngine(t, cfg, 0.99)
	u := user(social.LevelOwner, 0.5)

	night := groupMsg("hi")
	night.Timestamp = time.Date(2026, 5, 20, 2, 0, 0, 0, time.UTC)
	d := e.MakeDecision(night, u, "pacebot", false)
	if d.Factors.TimeMultiplier != 0.25 {
		t.Errorf("TimeMultiplier at 02:00 = %v, want 0.25", d.Factors.TimeMultiplier)
	}
	if math.Abs(d.Probability-0.25) > 1e-9 {
		t.Errorf("Probability = %v, want 0.25", d.Probability)
	}

	d = e.MakeDecision(groupMsg("hi"), u, "pacebot", false)
	if d.Factors.TimeMultiplier != 1.0 {
		t.Errorf("TimeMultiplier at noon = %v, want 1.0", d.Factors.TimeMultiplier)
	}
}

func TestQuietHours_Contains(t *testing.T) {
	overnight := QuietHours{Start: 22, End: 6}
	sameDay := QuietHours{Start: 13, End: 15}
	off := QuietHours{Start: 5, End: 5}

	tests := []struct {
		q    QuietHours
		hour int
		want bool
	}{
		{overnight, 22, true},
		{overnight, 0, true},
		{overnight, 5, true},
		{overnight, 6, false},
		{overnight, 12, false},
		{sameDay, 13, true},
		{sameDay, 14, true},
		{sameDay, 15, false},
		{off, 5, false},
	}
	for _, tt := range tests {
		if got := tt.q.Contains(tt.hour); got != tt.want {
			t.Errorf("%+v.Contains(%d) = %v, want %v", tt.q, tt.hour, got, tt.want)
		}
	}
}

func TestMakeDecision_TopicPrecedence(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0.99)
	u := user(social.LevelFriend, 0.5)

	if d := e.MakeDecision(groupMsg("new MUSIC album"), u, "pacebot", false); d.Factors.TopicMultiplier != 1.5 {
		t.Errorf("interesting TopicMultiplier = %v, want 1.5", d.Factors.TopicMultiplier)
	}
	if d := e.MakeDecision(groupMsg("weather is bad"), u, "pacebot", false); d.Factors.TopicMultiplier != 0.5 {
		t.Errorf("boring TopicMultiplier = %v, want 0.5", d.Factors.TopicMultiplier)
	}
	if d := e.MakeDecision(groupMsg("music for rainy weather"), u, "pacebot", false); d.Factors.TopicMultiplier != 0.5 {
		t.Errorf("both TopicMultiplier = %v, want boring 0.5", d.Factors.TopicMultiplier)
	}
}

func TestMakeDecision_ProbabilityClamped(t *testing.T) {
	cfg := neutralConfig()
	cfg.BaseProbability = 1
	cfg.Topics.InterestingMultiplier = 10
	e := newEngine(t, cfg, 0.999)
	d := e.MakeDecision(groupMsg("music"), user(social.LevelOwner, 1), "pacebot", false)
	if d.Probability != 1 {
		t.Errorf("Probability = %v, want 1", d.Probability)
	}
}

func TestMakeDecision_ProbabilityRangeProperty(t *testing.T) {
	cfg := neutralConfig()
	for _, base := range []float64{0, 0.3, 1} {
		cfg.BaseProbability = base
		e := newEngine(t, cfg, 0.5)
		for _, lvl := range social.Levels() {
			for _, trust := range []float64{0, 0.5, 1} {
				for _, text := range []string{"music", "weather", "plain"} {
					d := e.MakeDecision(groupMsg(text), user(lvl, trust), "pacebot", false)
					if d.Probability < 0 || d.Probability > 1 {
						t.Fatalf("Probability %v out of range", d.Probability)
					}
				}
			}
		}
	}
}

func TestMakeDecision_Persona(t *testing.T) {
	cfg := neutralConfig()
	cfg.DefaultPersona = "casual"
	e := newEngine(t, cfg, 0)

	if d := e.MakeDecision(groupMsg("x"), user(social.LevelFriend, 0.5), "b", false); d.PersonaMode != "casual" {
		t.Errorf("PersonaMode = %q, want casual", d.PersonaMode)
	}
	if d := e.MakeDecision(groupMsg("x"), user(social.LevelOwner, 1), "b", false); d.PersonaMode != OwnerPersona {
		t.Errorf("PersonaMode = %q, want owner", d.PersonaMode)
	}
	u := user(social.LevelOwner, 1)
	u.PreferredPersona = "sarcastic"
	if d := e.MakeDecision(groupMsg("x"), u, "b", false); d.PersonaMode != "sarcastic" {
		t.Errorf("PersonaMode = %q, want sarcastic", d.PersonaMode)
	}
}

func TestMakeDecision_UsesEstimator(t *testing.T) {
	e, err := NewEngine(neutralConfig(), WithRandom(fixedRand(0)), WithDelayEstimator(fixedEstimator(4321)))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	d := e.MakeDecision(Message{Text: "hi", IsPrivateChat: true, Timestamp: noon}, user(social.LevelFriend, 0.5), "b", false)
	if d.EstimatedDelayMs == nil || *d.EstimatedDelayMs != 4321 {
		t.Errorf("EstimatedDelayMs = %v, want 4321", d.EstimatedDelayMs)
	}
}

func TestMakeDecision_Reasoning(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0)
	d := e.MakeDecision(groupMsg("@pacebot music?"), user(social.LevelFriend, 0.5), "pacebot", false)
	for _, want := range []string{"relationship=friend", "trust=0.50", "mentions @pacebot", "interesting topic", "forced response", "persona=default"} {
		if !strings.Contains(d.Reasoning, want) {
			t.Errorf("Reasoning %q missing %q", d.Reasoning, want)
		}
	}
}

func TestMakeDecision_UnknownLevelTreatedAsStranger(t *testing.T) {
	e := newEngine(t, neutralConfig(), 0.99)
	u := user(social.LevelFriend, 0.5)
	u.Relationship = "nemesis"
	d := e.MakeDecision(groupMsg("x"), u, "b", false)
	if d.Factors.RelationshipMultiplier != 0.3 {
		t.Errorf("RelationshipMultiplier = %v, want 0.3", d.Factors.RelationshipMultiplier)
	}
}

func TestNewEngine_ValidatesConfig(t *testing.T) {
	tests := []func(*Config){
		func(c *Config) { c.BaseProbability = 1.2 },
		func(c *Config) { c.BaseProbability = -0.1 },
		func(c *Config) { c.QuietHours.Start = 24 },
		func(c *Config) { c.QuietHours.Multiplier = -1 },
		func(c *Config) { c.RelationshipMultipliers = map[social.Level]float64{"nemesis": 1} },
		func(c *Config) { c.Timezone = "Mars/Olympus" },
		func(c *Config) { c.QuietHours.Multiplier = math.NaN() },
		func(c *Config) { c.Topics.BoringMultiplier = math.NaN() },
		func(c *Config) { c.Topics.InterestingMultiplier = math.Inf(1) },
		func(c *Config) { c.RelationshipMultipliers = map[social.Level]float64{social.LevelFriend: math.NaN()} },
	}
	for i, mutate := range tests {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewEngine(cfg); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
}
