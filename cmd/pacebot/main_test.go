package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/pacebot/internal/config"
	"github.com/stellarlinkco/pacebot/internal/decision"
	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/social"
	"github.com/stellarlinkco/pacebot/internal/store"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"PACEBOT_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
		"PACEBOT_BASE_URL", "ANTHROPIC_BASE_URL", "PACEBOT_TELEGRAM_TOKEN",
		"PACEBOT_BOT_USERNAME", "PACEBOT_DB_PATH", "PACEBOT_PACING_ENABLED",
		"PACEBOT_BASE_PROBABILITY",
	} {
		t.Setenv(k, "")
	}
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedUser(t *testing.T, u *social.UserState) {
	t.Helper()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.New(cfg.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.SaveUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

func loadUser(t *testing.T, id int64) *social.UserState {
	t.Helper()
	cfg, _ := config.LoadConfig()
	st, err := store.New(cfg.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	u, err := st.LoadUser(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadUser(%d): %v", id, err)
	}
	return u
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "anthropic (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); got != "openai" {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                  "not set",
		"short":             "set",
		"sk-ant-1234567890": "sk-a...7890",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOnboard(t *testing.T) {
	home := isolate(t)

	out, err := execute(t, "onboard")
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if !strings.Contains(out, "Created config") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(home, ".pacebot", "config.json")); err != nil {
		t.Errorf("config not written: %v", err)
	}
	personaFile := filepath.Join(home, ".pacebot", "workspace", "personas", "sarcastic", "PERSONA.md")
	if _, err := os.Stat(personaFile); err != nil {
		t.Errorf("example persona not written: %v", err)
	}

	out, err = execute(t, "onboard")
	if err != nil {
		t.Fatalf("second onboard: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("second output = %q", out)
	}
}

func TestStatus(t *testing.T) {
	isolate(t)
	t.Setenv("PACEBOT_API_KEY", "sk-ant-1234567890")

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"API Key: sk-a...7890",
		"Provider: anthropic (default)",
		"Personas: [default owner]",
		"(not created yet)",
		"Maintenance: never run",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	seedUser(t, social.NewUserState(1, "alice", ""))
	out, _ = execute(t, "status")
	if !strings.Contains(out, "(1 users)") {
		t.Errorf("status after seeding:\n%s", out)
	}
}

func TestStatus_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("PACEBOT_BASE_PROBABILITY", "7")
	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status should report, not fail: %v", err)
	}
	if !strings.Contains(out, "Config: error") {
		t.Errorf("output = %q", out)
	}
}

func TestGateway_RequiresAPIKey(t *testing.T) {
	isolate(t)
	_, err := execute(t, "gateway")
	if err == nil || !strings.Contains(err.Error(), "API key not set") {
		t.Errorf("err = %v", err)
	}
}

func TestDecide_PrivateForced(t *testing.T) {
	isolate(t)
	out, err := execute(t, "decide", "--private", "--json", "hello", "there")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	var d decision.Decision
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !d.ShouldRespond || d.Rule != decision.RuleForced || d.Probability != 1 {
		t.Errorf("decision = %+v", d)
	}
	if d.EstimatedDelayMs == nil || *d.EstimatedDelayMs <= 0 {
		t.Errorf("EstimatedDelayMs = %v", d.EstimatedDelayMs)
	}
	if d.PersonaMode != "default" {
		t.Errorf("persona = %q", d.PersonaMode)
	}
}

func TestDecide_CooldownAndBlocked(t *testing.T) {
	isolate(t)

	out, err := execute(t, "decide", "--private", "--cooldown", "--json", "hi")
	if err != nil {
		t.Fatal(err)
	}
	var d decision.Decision
	json.Unmarshal([]byte(out), &d)
	if d.ShouldRespond || d.Rule != decision.RuleCooldown || d.EstimatedDelayMs != nil {
		t.Errorf("cooldown decision = %+v", d)
	}

	out, _ = execute(t, "decide", "--private", "--level", "blocked", "--json", "hi")
	d = decision.Decision{}
	json.Unmarshal([]byte(out), &d)
	if d.ShouldRespond || d.Rule != decision.RuleBlocked {
		t.Errorf("blocked decision = %+v", d)
	}
}

func TestDecide_SeedIsReproducible(t *testing.T) {
	isolate(t)
	first, err := execute(t, "decide", "--seed", "42", "--json", "what about music")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := execute(t, "decide", "--seed", "42", "--json", "what about music")
	if first != second {
		t.Errorf("same seed gave different output:\n%s\n%s", first, second)
	}
}

func TestDecide_StoredUser(t *testing.T) {
	isolate(t)
	u := social.NewUserState(77, "bob", "")
	u.PromoteToOwner()
	u.PreferredPersona = "sarcastic"
	seedUser(t, u)

	out, err := execute(t, "decide", "--user", "77", "--private", "hey")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Verdict: respond", "@bob, owner", "Persona: sarcastic", "Reasoning:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDecide_BadFlags(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "decide", "--level", "boss", "hi"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad level err = %v", err)
	}
	if _, err := execute(t, "decide", "--trust", "1.5", "hi"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad trust err = %v", err)
	}
	if _, err := execute(t, "decide"); err == nil {
		t.Error("expected error without message text")
	}
}

func TestDryRun_QuietHoursUseClock(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Decision.Timezone = "UTC"
	user := social.NewUserState(1, "", "").Clone()

	night := time.Date(2026, 5, 20, 2, 0, 0, 0, time.UTC)
	d, err := dryRun(cfg, decideFlags{seed: 1, trust: -1}, user, "hi", night)
	if err != nil {
		t.Fatal(err)
	}
	if d.Factors.TimeMultiplier != cfg.Decision.QuietHours.Multiplier {
		t.Errorf("time multiplier at 02:00 = %v", d.Factors.TimeMultiplier)
	}
}

func TestUser_BlockUnblockFlow(t *testing.T) {
	isolate(t)

	out, err := execute(t, "user", "block", "5", "spamming", "links")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if !strings.Contains(out, "blocked") {
		t.Errorf("output = %q", out)
	}
	u := loadUser(t, 5)
	if u.Relationship != social.LevelBlocked || u.BlockReason != "spamming links" || u.Trust.Value() != 0 {
		t.Errorf("user = %+v", u)
	}

	if _, err := execute(t, "user", "unblock", "5"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if u := loadUser(t, 5); u.Relationship != social.LevelStranger {
		t.Errorf("after unblock = %s", u.Relationship)
	}

	if _, err := execute(t, "user", "unblock", "5"); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Errorf("unblock non-blocked err = %v", err)
	}
}

func TestUser_PromoteAndLevel(t *testing.T) {
	isolate(t)

	if _, err := execute(t, "user", "level", "8", "friend"); err != nil {
		t.Fatalf("level: %v", err)
	}
	if u := loadUser(t, 8); u.Relationship != social.LevelFriend {
		t.Errorf("level = %s", u.Relationship)
	}

	if _, err := execute(t, "user", "promote", "8"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if u := loadUser(t, 8); u.Relationship != social.LevelOwner {
		t.Errorf("after promote = %s", u.Relationship)
	}

	if _, err := execute(t, "user", "level", "8", "friend"); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Errorf("demoting owner err = %v", err)
	}
	if _, err := execute(t, "user", "level", "8", "owner"); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Errorf("level owner err = %v", err)
	}
	if _, err := execute(t, "user", "level", "8", "boss"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown level err = %v", err)
	}
}

func TestUser_Persona(t *testing.T) {
	isolate(t)

	if _, err := execute(t, "user", "persona", "3", "owner"); err != nil {
		t.Fatalf("persona: %v", err)
	}
	if u := loadUser(t, 3); u.PreferredPersona != "owner" {
		t.Errorf("persona = %q", u.PreferredPersona)
	}
	if _, err := execute(t, "user", "persona", "3", "pirate"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown persona err = %v", err)
	}
	if _, err := execute(t, "user", "persona", "3", "none"); err != nil {
		t.Fatal(err)
	}
	if u := loadUser(t, 3); u.PreferredPersona != "" {
		t.Errorf("persona not cleared: %q", u.PreferredPersona)
	}
}

func TestUser_ShowAndList(t *testing.T) {
	isolate(t)

	out, _ := execute(t, "user", "list")
	if !strings.Contains(out, "No users yet.") {
		t.Errorf("empty list = %q", out)
	}

	u := social.NewUserState(11, "carol", "Carol")
	u.AddTopics("music")
	u.RecordInteraction(true, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	seedUser(t, u)

	out, err := execute(t, "user", "show", "11")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var s social.Summary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if s.UserID != 11 || s.Username != "carol" || len(s.Topics) != 1 || s.InteractionCount != 1 {
		t.Errorf("summary = %+v", s)
	}

	out, err = execute(t, "user", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "@carol") || !strings.Contains(out, "stranger") {
		t.Errorf("list = %q", out)
	}

	if _, err := execute(t, "user", "show", "999"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("show unknown err = %v", err)
	}
	if _, err := execute(t, "user", "show", "abc"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("show bad id err = %v", err)
	}
}
