package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/pacebot/internal/config"
	"github.com/stellarlinkco/pacebot/internal/decision"
	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/pacing"
	"github.com/stellarlinkco/pacebot/internal/social"
)

type decideFlags struct {
	private  bool
	reply    bool
	mention  string
	cooldown bool
	userID   int64
	level    string
	trust    float64
	seed     uint64
	asJSON   bool
}

func newDecideCmd() *cobra.Command {
	var f decideFlags
	cmd := &cobra.Command{
		Use:   "decide <message text>",
		Short: "Dry-run the response decision for a message",
		Long: `Runs a message through the decision engine without sending anything.
With --user the stored state of that user is used; otherwise a stranger
(or the --level/--trust given) is assumed. Nothing is written.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			user, err := decideUser(cmd, cfg, f)
			if err != nil {
				return err
			}
			d, err := dryRun(cfg, f, user, strings.Join(args, " "), time.Now())
			if err != nil {
				return err
			}
			return printDecision(cmd.OutOrStdout(), d, user, f.asJSON)
		},
	}
	cmd.Flags().BoolVar(&f.private, "private", false, "treat as a private chat")
	cmd.Flags().BoolVar(&f.reply, "reply", false, "treat as a reply to the agent")
	cmd.Flags().StringVar(&f.mention, "mention", "", "username mentioned by the message entities")
	cmd.Flags().BoolVar(&f.cooldown, "cooldown", false, "pretend the chat is in cooldown")
	cmd.Flags().Int64Var(&f.userID, "user", 0, "load this user's stored state")
	cmd.Flags().StringVar(&f.level, "level", "", "relationship level to assume (overrides --user)")
	cmd.Flags().Float64Var(&f.trust, "trust", -1, "trust score to assume (overrides --user)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "seed for a reproducible roll and delay (0 = random)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the decision as JSON")
	return cmd
}

func decideUser(cmd *cobra.Command, cfg *config.Config, f decideFlags) (social.UserState, error) {
	u := social.NewUserState(f.userID, "", "")
	if f.userID != 0 {
		st, err := openStore(cfg)
		if err != nil {
			return social.UserState{}, err
		}
		defer st.Close()
		loaded, err := st.LoadUser(cmd.Context(), f.userID)
		switch {
		case err == nil:
			u = loaded
		case errors.Is(err, domain.ErrNotFound):
		default:
			return social.UserState{}, err
		}
	}
	if cfg.IsOwner(f.userID) && f.userID != 0 {
		u.PromoteToOwner()
	}

	if f.level != "" {
		level, err := social.ParseLevel(f.level)
		if err != nil {
			return social.UserState{}, err
		}
		u.Relationship = level
	}
	if f.trust >= 0 {
		t, err := social.NewTrustScore(f.trust)
		if err != nil {
			return social.UserState{}, err
		}
		u.Trust = t
	}
	return u.Clone(), nil
}

func dryRun(cfg *config.Config, f decideFlags, user social.UserState, text string, now time.Time) (decision.Decision, error) {
	var pacingOpts []pacing.Option
	var decisionOpts []decision.Option
	if f.seed != 0 {
		rng := rand.New(rand.NewPCG(f.seed, f.seed))
		pacingOpts = append(pacingOpts, pacing.WithRandom(rng))
		decisionOpts = append(decisionOpts, decision.WithRandom(rng))
	}
	sim := pacing.NewSimulator(cfg.Pacing, pacingOpts...)
	decisionOpts = append(decisionOpts, decision.WithDelayEstimator(sim), decision.WithClock(func() time.Time { return now }))

	engine, err := decision.NewEngine(cfg.Decision, decisionOpts...)
	if err != nil {
		return decision.Decision{}, fmt.Errorf("create decision engine: %w", err)
	}

	msg := decision.Message{
		Text:                  text,
		SenderID:              user.UserID,
		Timestamp:             now,
		IsPrivateChat:         f.private,
		IsReplyToAgent:        f.reply,
		MentionsAgentUsername: f.mention,
	}
	return engine.MakeDecision(msg, user, cfg.Agent.BotUsername, f.cooldown), nil
}

func printDecision(out io.Writer, d decision.Decision, user social.UserState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	verdict := "stay quiet"
	if d.ShouldRespond {
		verdict = "respond"
	}
	fmt.Fprintf(out, "Verdict: %s (rule: %s)\n", verdict, d.Rule)
	fmt.Fprintf(out, "User: %s, %s, trust %s\n", user.DisplayLabel(), user.RelationshipValue().Level(), user.Trust)
	fmt.Fprintf(out, "Probability: %.3f\n", d.Probability)
	fmt.Fprintf(out, "Factors: relationship=%.2f trust=%.2f time=%.2f topic=%.2f mention=%.2f\n",
		d.Factors.RelationshipMultiplier, d.Factors.TrustMultiplier, d.Factors.TimeMultiplier,
		d.Factors.TopicMultiplier, d.Factors.MentionMultiplier)
	fmt.Fprintf(out, "Persona: %s\n", d.PersonaMode)
	if d.EstimatedDelayMs != nil {
		fmt.Fprintf(out, "Estimated delay: %dms\n", *d.EstimatedDelayMs)
	}
	fmt.Fprintf(out, "Reasoning: %s\n", d.Reasoning)
	return nil
}
