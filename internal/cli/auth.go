package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

// LoadSummary reports one collection's load-and-merge outcome.
type LoadSummary struct {
	Collection   string `json:"collection"`
	Key          string `json:"key"`
	Source       string `json:"source"`
	Items        int    `json:"items"`
	Pushed       int    `json:"pushed,omitempty"`
	GuestCleared bool   `json:"guest_cleared,omitempty"`
	Error        string `json:"error,omitempty"`
}

// IdentityResult is the output of login, logout, whoami and sync.
type IdentityResult struct {
	User        string        `json:"user"`
	Collections []LoadSummary `json:"collections,omitempty"`
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login <user>",
		Short: "Sign in and merge guest activity into the account",
		Long: `Sign in as <user> with a bearer token.

Each collection is fetched from the remote service. Guest items the account
does not have yet are pushed upstream and the guest copy is deleted. If the
remote service is unreachable the last local copy for the account is shown
and the guest copy is kept for the next login.

Example:
  cartsync login alice --token tok-alice`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, false, func(ctx context.Context, a *app) error {
				return runLogin(ctx, a, args[0], token)
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token (required)")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runLogin(ctx context.Context, a *app, user, token string) error {
	user = strings.TrimSpace(user)
	if user == "" || user == item.GuestScope {
		return NewExitError(ExitCommandError, ErrCodeArgs, fmt.Sprintf("invalid user %q", user))
	}
	if strings.TrimSpace(token) == "" {
		return NewExitError(ExitCommandError, ErrCodeArgs, "empty token")
	}

	// Load the current actor first so queued guest state is settled.
	if _, _, err := a.restore(ctx); err != nil {
		return err
	}
	if err := a.sess.Flush(ctx); err != nil {
		a.logger.Warn("pending writes not sent before login", "error", err)
	}

	id := &collection.Identity{UserID: user, Token: token}
	results := a.sess.SetIdentity(ctx, id)
	if results == nil {
		// Same user again: reload so the stores pick up the new token.
		results = a.sess.Reload(ctx)
	}
	for _, res := range results {
		if res.Err != nil && remote.IsUnauthorized(res.Err) {
			a.sess.SetIdentity(ctx, nil)
			return WrapExitError(ExitFailure, ErrCodeRemote, "token rejected", res.Err)
		}
	}
	if err := a.saveIdentity(ctx, id); err != nil {
		return err
	}

	out := IdentityResult{User: user, Collections: summarizeLoads(a, results)}
	return a.out.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "Logged in as %s\n", user)
		writeLoads(w, out.Collections)
	})
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Send pending writes and return to the guest state",
		Long: `Send pending writes for the signed-in account, then forget the identity.

The account's local copy is kept so the next login starts from it. Guest
collections are shown from the guest copy.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				return runLogout(ctx, a)
			})
		},
	}
}

func runLogout(ctx context.Context, a *app) error {
	prev := a.sess.Identity()
	if err := a.sess.Flush(ctx); err != nil {
		a.logger.Warn("pending writes not sent before logout", "error", err)
	}
	a.sess.SetIdentity(ctx, nil)
	if err := a.saveIdentity(ctx, nil); err != nil {
		return err
	}

	return a.out.Success(IdentityResult{User: item.GuestScope}, func(w io.Writer) {
		if prev == nil {
			fmt.Fprintln(w, "Not logged in")
			return
		}
		fmt.Fprintf(w, "Logged out %s\n", prev.UserID)
	})
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "whoami",
		Short:         "Show the signed-in user",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, false, func(ctx context.Context, a *app) error {
				id, err := a.savedIdentity(ctx)
				if err != nil {
					return err
				}
				user := item.GuestScope
				if id != nil {
					user = id.UserID
				}
				return a.out.Success(IdentityResult{User: user}, func(w io.Writer) {
					fmt.Fprintln(w, user)
				})
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reload every collection for the current identity",
		Long: `Run load-and-merge for every collection and report where each list came from.

Sources: remote (fetched), merged (guest items pushed, refetch failed),
cache (remote unreachable, local copy shown), guest (not signed in).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, false, func(ctx context.Context, a *app) error {
				id, results, err := a.restore(ctx)
				if err != nil {
					return err
				}
				user := item.GuestScope
				if id != nil {
					user = id.UserID
				}
				out := IdentityResult{User: user, Collections: summarizeLoads(a, results)}
				return a.out.Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "Synced %s\n", user)
					writeLoads(w, out.Collections)
				})
			})
		},
	}
}

func summarizeLoads(a *app, results map[item.Kind]collection.LoadResult) []LoadSummary {
	out := make([]LoadSummary, 0, len(results))
	for _, st := range a.sess.Stores() {
		res, ok := results[st.Kind()]
		if !ok {
			continue
		}
		s := LoadSummary{
			Collection:   st.Kind().String(),
			Key:          res.Key,
			Source:       res.Source,
			Items:        len(st.Items()),
			Pushed:       res.Pushed,
			GuestCleared: res.GuestCleared,
		}
		if res.Err != nil {
			s.Error = res.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

func writeLoads(w io.Writer, loads []LoadSummary) {
	for _, l := range loads {
		fmt.Fprintf(w, "  %-15s %3d item(s)  from %s", l.Collection, l.Items, l.Source)
		if l.Pushed > 0 {
			fmt.Fprintf(w, ", %d guest item(s) pushed", l.Pushed)
		}
		if l.Error != "" {
			fmt.Fprintf(w, " (%s)", l.Error)
		}
		fmt.Fprintln(w)
	}
}
