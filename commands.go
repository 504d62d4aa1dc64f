package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-authgate/session-cli/session"
	"github.com/go-authgate/session-cli/tui"
)

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the current user and pending login code",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			wasLoggedIn, err := a.mgr.Logout()
			if err != nil {
				return err
			}
			tui.NewPlainDisplayer(a.out).LoggedOut(wasLoggedIn)
			return nil
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.mgr.LoggedIn() {
				return fmt.Errorf("%w: not logged in, run login first", session.ErrAuth)
			}
			if refresh {
				if _, err := a.mgr.RefreshUserProfile(cmd.Context()); err != nil {
					if !warnSyncError(a.errOut, err) {
						return err
					}
				}
			}
			snap := a.mgr.Session()
			if snap.Identity == nil {
				return errors.New("profile not loaded, run whoami --refresh")
			}
			writeIdentity(a.out, snap.Identity, snap.Token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch the profile from the server first")
	return cmd
}

func newTokenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := a.mgr.EnsureValidAccessToken(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.out, token)
			return nil
		},
	}
}

func newAchievementsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "List and grant achievements",
	}
	cmd.AddCommand(
		newAchievementsListCommand(a),
		newAchievementsAppCommand(a),
		newAchievementsGrantCommand(a),
	)
	return cmd
}

func newAchievementsListCommand(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List achievements unlocked by the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := a.mgr.Achievements()
			if refresh {
				var err error
				if list, err = a.mgr.RefreshUserAchievements(cmd.Context()); err != nil {
					return err
				}
			}
			writeUserAchievementTable(a.out, list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch the list from the server first")
	return cmd
}

func newAchievementsAppCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "app",
		Short: "List every achievement defined for the app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := a.mgr.GetAppAchievements(cmd.Context())
			if err != nil {
				return err
			}
			writeDefinitionTable(a.out, defs)
			return nil
		},
	}
}

func newAchievementsGrantCommand(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "grant IDENTIFIER",
		Short: "Unlock an achievement for the logged-in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ua, err := a.mgr.AddUserAchievement(cmd.Context(), args[0], strict)
			if err != nil {
				return err
			}
			if ua == nil {
				_, _ = fmt.Fprintf(a.out, "Granted %s (not confirmed: missing %s scope).\n",
					args[0], session.ScopeAchievementsRead)
				return nil
			}
			_, _ = fmt.Fprintf(a.out, "Granted %s (%s) at %s.\n",
				ua.Identifier, ua.Name, formatTime(ua.AchievedAt))
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail if the achievement is already unlocked")
	return cmd
}

func newCodeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Manage the pending login code",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard the pending login code",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if a.mgr.PendingCode() == nil {
				_, _ = fmt.Fprintln(a.out, "No login code pending.")
				return nil
			}
			if err := a.mgr.ClearLoginCode(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.out, "Login code cleared.")
			return nil
		},
	})
	return cmd
}

// warnSyncError prints a failed secondary achievement sync and reports
// whether err was one.
func warnSyncError(w io.Writer, err error) bool {
	var syncErr *session.AchievementSyncError
	if !errors.As(err, &syncErr) {
		return false
	}
	_, _ = fmt.Fprintf(w, "⚠️  WARNING: %v\n", syncErr)
	return true
}

func writeIdentity(w io.Writer, id *session.Identity, tok *session.TokenRecord) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID:\t%d\n", id.ID)
	_, _ = fmt.Fprintf(tw, "Name:\t%s\n", id.DisplayName)
	_, _ = fmt.Fprintf(tw, "Score:\t%d\n", id.Score)
	if id.ProfileType != "" {
		_, _ = fmt.Fprintf(tw, "Type:\t%s\n", id.ProfileType)
	}
	if id.Bio != "" {
		_, _ = fmt.Fprintf(tw, "Bio:\t%s\n", id.Bio)
	}
	if !id.CreatedAt.IsZero() {
		_, _ = fmt.Fprintf(tw, "Member since:\t%s\n", formatTime(id.CreatedAt))
	}
	if tok != nil {
		_, _ = fmt.Fprintf(tw, "Scopes:\t%s\n", strings.Join(tok.Scopes, " "))
		_, _ = fmt.Fprintf(tw, "Access expires:\t%s\n", formatTime(tok.AccessExpiresAt))
	}
	_ = tw.Flush()
}

func writeUserAchievementTable(w io.Writer, list []session.UserAchievement) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "IDENTIFIER\tNAME\tACHIEVED")
	for _, ua := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", ua.Identifier, ua.Name, formatTime(ua.AchievedAt))
	}
	_ = tw.Flush()
}

func writeDefinitionTable(w io.Writer, defs []session.AchievementDefinition) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "IDENTIFIER\tNAME\tAPP")
	for _, d := range defs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Identifier, d.Name, d.AppID)
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
