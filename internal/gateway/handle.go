package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"

	"github.com/stellarlinkco/pacebot/internal/bus"
	"github.com/stellarlinkco/pacebot/internal/cooldown"
	"github.com/stellarlinkco/pacebot/internal/decision"
	"github.com/stellarlinkco/pacebot/internal/metrics"
	"github.com/stellarlinkco/pacebot/internal/pacing"
	"github.com/stellarlinkco/pacebot/internal/social"
	"github.com/stellarlinkco/pacebot/internal/store"
)

// handle runs one inbound message through admission, bookkeeping, generation
// and pacing. Failures are logged and the message is dropped.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	metrics.MessagesTotal.WithLabelValues(msg.Channel).Inc()
	now := g.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	user, err := g.snapshot(ctx, msg)
	if err != nil {
		log.Printf("[gateway] user %d: %v", msg.SenderID, err)
		return
	}

	verdict := g.cooldownVerdict(ctx, msg.ChatID, now)
	d := g.engine.MakeDecision(msg.DecisionMessage(), user, g.botUsername(), verdict.Blocked)
	observeDecision(d)
	log.Printf("[decision] %s/%d %s respond=%t p=%.3f rule=%s: %s",
		msg.Channel, msg.ChatID, user.DisplayLabel(), d.ShouldRespond, d.Probability, d.Rule, d.Reasoning)

	updated, err := g.recordInteraction(ctx, msg, now)
	if err != nil {
		log.Printf("[gateway] record interaction for %d: %v", msg.SenderID, err)
		updated = user
	}

	if err := g.store.RecordMessage(ctx, store.ChatMessage{
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: now,
	}); err != nil {
		log.Printf("[gateway] record message: %v", err)
	}

	if !d.ShouldRespond {
		return
	}
	g.respond(ctx, msg, updated, d)
}

// snapshot loads the sender, promoting configured owners on sight.
func (g *Gateway) snapshot(ctx context.Context, msg bus.InboundMessage) (social.UserState, error) {
	user, created, err := g.users.Snapshot(ctx, msg.SenderID, msg.Username, msg.DisplayName)
	if err != nil {
		return social.UserState{}, err
	}
	if created {
		log.Printf("[gateway] new user %s (%d)", user.DisplayLabel(), user.UserID)
	}
	if g.cfg.IsOwner(msg.SenderID) && user.Relationship != social.LevelOwner {
		user, err = g.users.Update(ctx, msg.SenderID, func(u *social.UserState) error {
			u.PromoteToOwner()
			return nil
		})
		if err != nil {
			return social.UserState{}, fmt.Errorf("promote owner: %w", err)
		}
		log.Printf("[gateway] promoted configured owner %s", user.DisplayLabel())
	}
	return user, nil
}

// cooldownVerdict treats a history read failure as no cooldown.
func (g *Gateway) cooldownVerdict(ctx context.Context, chatID int64, now time.Time) cooldown.Verdict {
	policy := g.cfg.Cooldown
	recent, err := g.store.RecentMessages(ctx, chatID, now.Add(-policy.Window()))
	if err != nil {
		log.Printf("[gateway] load recent messages for chat %d: %v", chatID, err)
		return cooldown.Verdict{}
	}
	return cooldown.Check(recent, now, policy)
}

// recordInteraction applies the trust heuristic, topic detection and the
// automatic upgrade check to the stored user.
func (g *Gateway) recordInteraction(ctx context.Context, msg bus.InboundMessage, now time.Time) (social.UserState, error) {
	a := g.assessor.Assess(msg.Content)
	topics := g.cfg.Decision.Topics
	keywords := append(append([]string(nil), topics.Boring...), topics.Interesting...)

	var upgraded bool
	u, err := g.users.Update(ctx, msg.SenderID, func(u *social.UserState) error {
		u.RecordInteraction(a.Positive, now)
		if a.Delta != 0 {
			u.AdjustTrust(a.Delta)
		}
		u.AddTopics(social.DetectTopics(msg.Content, keywords)...)
		upgraded = u.TryUpgradeRelationship(g.cfg.RelationshipUpgrade)
		return nil
	})
	if err != nil {
		return social.UserState{}, err
	}
	if a.Marker != "" {
		log.Printf("[gateway] trust %s %+.2f (%q) -> %s", u.DisplayLabel(), a.Delta, a.Marker, u.Trust)
	}
	if upgraded {
		metrics.RelationshipUpgrades.WithLabelValues(string(u.Relationship)).Inc()
		log.Printf("[gateway] %s upgraded to %s", u.DisplayLabel(), u.Relationship)
	}
	return u, nil
}

func (g *Gateway) respond(ctx context.Context, msg bus.InboundMessage, user social.UserState, d decision.Decision) {
	p, _ := g.personas.Get(d.PersonaMode)
	rt, err := g.runtimeFor(p)
	if err != nil {
		metrics.GenerationErrors.Inc()
		log.Printf("[gateway] %v", err)
		return
	}

	reply, err := generate(ctx, rt, msg, user)
	if err != nil {
		if !isCancelled(err) {
			metrics.GenerationErrors.Inc()
		}
		log.Printf("[gateway] generation for %s failed: %v", msg.SessionKey(), err)
		return
	}
	if strings.TrimSpace(reply) == "" {
		log.Printf("[gateway] empty reply for %s, staying quiet", msg.SessionKey())
		return
	}

	typing := func(ctx context.Context) error {
		return g.channels.SendTyping(ctx, msg.Channel, msg.ChatID)
	}
	res, err := g.pacer.SimulateFullResponseFlow(ctx, typing, msg.Content, reply)
	observePacing(res)
	if err != nil {
		metrics.PacingCancelled.Inc()
		log.Printf("[pacing] %s aborted after %dms: %v", msg.SessionKey(), res.TotalDelayMs, err)
		return
	}

	out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply}
	if !msg.IsPrivateChat {
		out.ReplyTo = msg.MessageID
	}
	if !g.bus.PublishOutbound(ctx, out) {
		metrics.PacingCancelled.Inc()
		log.Printf("[gateway] reply to %s dropped: shutting down", msg.SessionKey())
		return
	}
	log.Printf("[gateway] replied to %s after %dms: %s", msg.SessionKey(), res.TotalDelayMs, truncate(reply, 80))

	// cooldown counts this reply from now on
	if err := g.store.RecordMessage(context.WithoutCancel(ctx), store.ChatMessage{
		ChatID:    msg.ChatID,
		FromAgent: true,
		Content:   reply,
		CreatedAt: g.now(),
	}); err != nil {
		log.Printf("[gateway] record reply: %v", err)
	}
}

// generate asks rt for a reply, framing the message with who sent it.
func generate(ctx context.Context, rt Runtime, msg bus.InboundMessage, user social.UserState) (string, error) {
	where := "group chat"
	if msg.IsPrivateChat {
		where = "private chat"
	}
	prompt := fmt.Sprintf("[Speaker]\n%s (%s)\n\n[Chat]\n%s\n\n[Message]\n%s",
		user.DisplayLabel(), user.RelationshipValue().Level(), where, msg.Content)

	resp, err := rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: msg.SessionKey(),
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

func observeDecision(d decision.Decision) {
	outcome := "ignore"
	if d.ShouldRespond {
		outcome = "respond"
	}
	metrics.DecisionsTotal.WithLabelValues(string(d.Rule), outcome).Inc()
	if d.Rule == decision.RuleProbabilistic {
		metrics.DecisionProbability.Observe(d.Probability)
	}
}

func observePacing(res pacing.Result) {
	for phase, ms := range map[string]int64{
		"read":     res.ReadDelayMs,
		"thinking": res.ThinkingDelayMs,
		"typing":   res.TypingDelayMs,
	} {
		if ms > 0 {
			metrics.PacingDelaySeconds.WithLabelValues(phase).Observe(float64(ms) / 1000)
		}
	}
}
