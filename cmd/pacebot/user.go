package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/pacebot/internal/config"
	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/persona"
	"github.com/stellarlinkco/pacebot/internal/social"
	"github.com/stellarlinkco/pacebot/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and override per-user relationship state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List known users, most recently active first",
			Args:  cobra.NoArgs,
			RunE:  runUserList,
		},
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Show a user's state as JSON",
			Args:  cobra.ExactArgs(1),
			RunE:  runUserShow,
		},
		&cobra.Command{
			Use:   "block <user-id> [reason...]",
			Short: "Block a user; the agent will never answer them",
			Args:  cobra.MinimumNArgs(1),
			RunE: userMutation(func(u *social.UserState, args []string) (string, error) {
				reason := strings.Join(args, " ")
				if reason == "" {
					reason = "manual"
				}
				u.Block(reason)
				return "blocked", nil
			}),
		},
		&cobra.Command{
			Use:   "unblock <user-id>",
			Short: "Unblock a user, resetting them to stranger",
			Args:  cobra.ExactArgs(1),
			RunE: userMutation(func(u *social.UserState, args []string) (string, error) {
				return "unblocked", u.Unblock()
			}),
		},
		&cobra.Command{
			Use:   "promote <user-id>",
			Short: "Make a user an owner",
			Args:  cobra.ExactArgs(1),
			RunE: userMutation(func(u *social.UserState, args []string) (string, error) {
				u.PromoteToOwner()
				return "promoted to owner", nil
			}),
		},
		&cobra.Command{
			Use:   "level <user-id> <level>",
			Short: "Set a relationship level (stranger, acquaintance, friend, close_friend, blocked)",
			Args:  cobra.ExactArgs(2),
			RunE: userMutation(func(u *social.UserState, args []string) (string, error) {
				level, err := social.ParseLevel(args[0])
				if err != nil {
					return "", err
				}
				return "set to " + string(level), u.SetRelationship(level)
			}),
		},
		newUserPersonaCmd(),
	)
	return cmd
}

func newUserPersonaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "persona <user-id> <name|none>",
		Short: "Pin the persona used when answering a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[1])
			if name != "none" {
				cfg, err := config.LoadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				reg, err := persona.LoadRegistry(cfg.PersonaDir())
				if err != nil {
					return fmt.Errorf("load personas: %w", err)
				}
				if !reg.Has(name) {
					return fmt.Errorf("%w: persona %q not found (have %v)", domain.ErrNotFound, name, reg.Names())
				}
			}
			return userMutation(func(u *social.UserState, _ []string) (string, error) {
				if name == "none" {
					u.PreferredPersona = ""
					return "persona cleared", nil
				}
				u.PreferredPersona = name
				return "persona set to " + name, nil
			})(cmd, args)
		},
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", domain.ErrValidation, s)
	}
	return id, nil
}

func withStore(fn func(st *store.Store) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// userMutation loads the user, applies fn and saves the result. Unknown IDs
// start as strangers. fn receives the arguments after the user ID.
func userMutation(fn func(u *social.UserState, args []string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		return withStore(func(st *store.Store) error {
			var what string
			u, err := social.NewRegistry(st).Update(cmd.Context(), id, func(u *social.UserState) error {
				var err error
				what, err = fn(u, args[1:])
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (relationship %s, trust %s)\n",
				u.DisplayLabel(), what, u.RelationshipValue().Level(), u.Trust)
			return nil
		})
	}
}

func runUserShow(cmd *cobra.Command, args []string) error {
	id, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(st *store.Store) error {
		u, err := st.LoadUser(cmd.Context(), id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(u.Summary())
	})
}

func runUserList(cmd *cobra.Command, args []string) error {
	return withStore(func(st *store.Store) error {
		users, err := st.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(users) == 0 {
			fmt.Fprintln(out, "No users yet.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tRELATIONSHIP\tTRUST\tMESSAGES\tLAST SEEN")
		for i := range users {
			u := &users[i]
			last := "-"
			if !u.LastInteraction.IsZero() {
				last = u.LastInteraction.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
				u.UserID, u.DisplayLabel(), u.RelationshipValue().Level(), u.Trust, u.InteractionCount, last)
		}
		return tw.Flush()
	})
}
