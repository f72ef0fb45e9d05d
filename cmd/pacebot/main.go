package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/pacebot/internal/config"
	"github.com/stellarlinkco/pacebot/internal/cron"
	"github.com/stellarlinkco/pacebot/internal/gateway"
	"github.com/stellarlinkco/pacebot/internal/persona"
	"github.com/stellarlinkco/pacebot/internal/store"
)

const apiKeyHint = "API key not set. Run 'pacebot onboard' or set PACEBOT_API_KEY / ANTHROPIC_API_KEY"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pacebot",
		Short:         "pacebot - a group-chat agent that decides when to speak",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "gateway",
			Short: "Start the gateway (channels + decisions + pacing + maintenance)",
			Args:  cobra.NoArgs,
			RunE:  runGateway,
		},
		&cobra.Command{
			Use:   "onboard",
			Short: "Initialize config, workspace and persona directory",
			Args:  cobra.NoArgs,
			RunE:  runOnboard,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show pacebot status",
			Args:  cobra.NoArgs,
			RunE:  runStatus,
		},
		newDecideCmd(),
		newUserCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return errors.New(apiKeyHint)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	dir := cfg.PersonaDir()
	if err := persona.WriteExample(dir, "sarcastic", "Dry wit for close friends", sarcasticPrompt); err != nil {
		return fmt.Errorf("write example persona: %w", err)
	}

	fmt.Fprintf(out, "Workspace ready: %s\n", ws)
	fmt.Fprintf(out, "Personas: %s\n", dir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key and Telegram token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set PACEBOT_API_KEY and PACEBOT_TELEGRAM_TOKEN")
	fmt.Fprintln(out, "  3. Run 'pacebot decide \"hello\"' to see how a message would be treated")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Bot username: %s\n", orDash(cfg.Agent.BotUsername))
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "WebUI: enabled=%v port=%d\n", cfg.Channels.WebUI.Enabled, cfg.Channels.WebUI.Port)
	fmt.Fprintf(out, "Pacing: enabled=%v\n", cfg.Pacing.Enabled)
	fmt.Fprintf(out, "Base probability: %.2f\n", cfg.Decision.BaseProbability)

	if reg, err := persona.LoadRegistry(cfg.PersonaDir()); err != nil {
		fmt.Fprintf(out, "Personas: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Personas: %v\n", reg.Names())
	}

	printStoreStatus(cmd, out, cfg)
	printMaintenance(out, cfg)
	return nil
}

// printStoreStatus reports the user count without creating a database.
func printStoreStatus(cmd *cobra.Command, out io.Writer, cfg *config.Config) {
	dbPath := cfg.DBPath()
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(out, "Database: %s (not created yet)\n", dbPath)
		return
	}
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(out, "Database: %s (error: %v)\n", dbPath, err)
		return
	}
	defer st.Close()
	users, err := st.ListUsers(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "Database: %s (error: %v)\n", dbPath, err)
		return
	}
	fmt.Fprintf(out, "Database: %s (%d users)\n", dbPath, len(users))
}

func printMaintenance(out io.Writer, cfg *config.Config) {
	states, err := cron.LoadState(gateway.MaintenanceStatePath(cfg))
	if err != nil {
		fmt.Fprintf(out, "Maintenance: error (%v)\n", err)
		return
	}
	if len(states) == 0 {
		fmt.Fprintln(out, "Maintenance: never run")
		return
	}
	for _, s := range states {
		line := fmt.Sprintf("Maintenance: %s last=%s status=%s", s.Name, s.LastRunAt.Format("2006-01-02 15:04"), s.LastStatus)
		if s.LastError != "" {
			line += " error=" + s.LastError
		} else if s.LastResult != "" {
			line += " (" + s.LastResult + ")"
		}
		fmt.Fprintln(out, line)
	}
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// openStore opens the configured database, creating its directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", filepath.Clean(cfg.DBPath()), err)
	}
	return st, nil
}

const sarcasticPrompt = `You are a member of a group chat talking with a close friend.
Keep it short, dry and a little sarcastic, never mean. No lists, no headings.
Match the language of the message.`
