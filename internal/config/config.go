package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stellarlinkco/pacebot/internal/cooldown"
	"github.com/stellarlinkco/pacebot/internal/decision"
	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/pacing"
	"github.com/stellarlinkco/pacebot/internal/social"
)

const (
	DefaultModel                = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens            = 1024
	DefaultMaxIterations        = 4
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 18790
	DefaultWebUIPort            = 18791
	DefaultBufSize              = 100
	DefaultSendRatePerSecond    = 1.0
	DefaultSendBurst            = 3
	DefaultHistoryRetentionDays = 7
	DefaultPruneSchedule        = "0 30 3 * * *"
)

type Config struct {
	Agent               AgentConfig                  `json:"agent"`
	Provider            ProviderConfig               `json:"provider"`
	Channels            ChannelsConfig               `json:"channels"`
	Gateway             GatewayConfig                `json:"gateway"`
	Store               StoreConfig                  `json:"store"`
	Personas            PersonasConfig               `json:"personas"`
	Decision            decision.Config              `json:"decision"`
	Cooldown            cooldown.Policy              `json:"cooldown"`
	Pacing              pacing.Config                `json:"pacing"`
	RelationshipUpgrade social.UpgradeRules          `json:"relationshipUpgrade"`
	TrustAdjustment     social.TrustAdjustmentConfig `json:"trustAdjustment"`
}

type AgentConfig struct {
	// BotUsername is used for mention detection when the transport cannot
	// report it (webui). Telegram overrides it with the authorized account.
	BotUsername   string  `json:"botUsername"`
	Workspace     string  `json:"workspace"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"maxTokens"`
	MaxIterations int     `json:"maxIterations"`
	Owners        []int64 `json:"owners,omitempty"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled           bool     `json:"enabled"`
	Token             string   `json:"token"`
	AllowFrom         []string `json:"allowFrom"`
	Proxy             string   `json:"proxy,omitempty"`
	SendRatePerSecond float64  `json:"sendRatePerSecond"`
	SendBurst         int      `json:"sendBurst"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	Port      int      `json:"port"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type StoreConfig struct {
	DBPath               string `json:"dbPath,omitempty"`
	HistoryRetentionDays int    `json:"historyRetentionDays"`
	PruneSchedule        string `json:"pruneSchedule"`
}

type PersonasConfig struct {
	Dir string `json:"dir,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:     filepath.Join(home, ".pacebot", "workspace"),
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			MaxIterations: DefaultMaxIterations,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				SendRatePerSecond: DefaultSendRatePerSecond,
				SendBurst:         DefaultSendBurst,
			},
			WebUI: WebUIConfig{Port: DefaultWebUIPort},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Store: StoreConfig{
			HistoryRetentionDays: DefaultHistoryRetentionDays,
			PruneSchedule:        DefaultPruneSchedule,
		},
		Decision:            decision.DefaultConfig(),
		Cooldown:            cooldown.DefaultPolicy(),
		Pacing:              pacing.DefaultConfig(),
		RelationshipUpgrade: social.DefaultUpgradeRules(),
		TrustAdjustment:     social.DefaultTrustAdjustmentConfig(),
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".pacebot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DBPath is the configured database file or the default under ConfigDir.
func (c *Config) DBPath() string {
	if p := strings.TrimSpace(c.Store.DBPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "data", "pacebot.db")
}

// PersonaDir is the configured persona directory or <workspace>/personas.
func (c *Config) PersonaDir() string {
	if d := strings.TrimSpace(c.Personas.Dir); d != "" {
		return d
	}
	return filepath.Join(c.Agent.Workspace, "personas")
}

// IsOwner reports whether userID is listed in agent.owners.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Agent.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// LoadConfig reads the config file over the defaults, applies environment
// overrides and validates the result once.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Store.PruneSchedule == "" {
		cfg.Store.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.Decision.DefaultPersona == "" {
		cfg.Decision.DefaultPersona = decision.DefaultPersona
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if key := os.Getenv("PACEBOT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("PACEBOT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("PACEBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if name := os.Getenv("PACEBOT_BOT_USERNAME"); name != "" {
		cfg.Agent.BotUsername = name
	}
	if dbPath := os.Getenv("PACEBOT_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if v := os.Getenv("PACEBOT_PACING_ENABLED"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: PACEBOT_PACING_ENABLED=%q", domain.ErrValidation, v)
		}
		cfg.Pacing.Enabled = parsed
	}
	if v := os.Getenv("PACEBOT_BASE_PROBABILITY"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: PACEBOT_BASE_PROBABILITY=%q", domain.ErrValidation, v)
		}
		cfg.Decision.BaseProbability = parsed
	}
	return nil
}

// Validate checks every component section. Components trust their config
// after this and never re-validate per message.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("%w: provider.type %q", domain.ErrValidation, c.Provider.Type)
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("%w: gateway.port %d", domain.ErrValidation, c.Gateway.Port)
	}
	if c.Channels.WebUI.Enabled && (c.Channels.WebUI.Port <= 0 || c.Channels.WebUI.Port > 65535) {
		return fmt.Errorf("%w: channels.webui.port %d", domain.ErrValidation, c.Channels.WebUI.Port)
	}
	if c.Channels.Telegram.SendRatePerSecond < 0 || c.Channels.Telegram.SendBurst < 0 {
		return fmt.Errorf("%w: channels.telegram send rate and burst must be >= 0", domain.ErrValidation)
	}
	if c.Store.HistoryRetentionDays < 0 {
		return fmt.Errorf("%w: store.historyRetentionDays must be >= 0", domain.ErrValidation)
	}

	checks := []struct {
		section string
		err     error
	}{
		{"decision", c.Decision.Validate()},
		{"cooldown", c.Cooldown.Validate()},
		{"pacing", c.Pacing.Validate()},
		{"relationshipUpgrade", c.RelationshipUpgrade.Validate()},
		{"trustAdjustment", c.TrustAdjustment.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("config %s: %w", ch.section, ch.err)
		}
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
