package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/session-cli/session"
	"github.com/go-authgate/session-cli/tui"
)

// loginPoller is the part of *session.Manager the poll loop needs.
type loginPoller interface {
	PendingCode() *session.DeviceCodeRequest
	NextPollAt() time.Time
	CheckComplete(ctx context.Context) (bool, *session.Identity, error)
}

// WaitForLogin drives CheckComplete for the pending code until the user
// finishes, the code expires or ctx is cancelled. It sleeps until the manager
// allows the next check, so every check reaches the server. When only the
// achievement sync after login failed, the identity is returned together with
// the *session.AchievementSyncError.
func WaitForLogin(ctx context.Context, mgr loginPoller, d tui.Displayer) (*session.Identity, error) {
	if mgr.PendingCode() == nil {
		return nil, fmt.Errorf("%w: no login code pending", session.ErrInvalidState)
	}

	timer := time.NewTimer(max(time.Until(mgr.NextPollAt()), 0))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		done, identity, err := mgr.CheckComplete(ctx)
		if done || err != nil {
			return identity, err
		}

		d.PollPending()
		timer.Reset(max(time.Until(mgr.NextPollAt()), 0))
	}
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// withDisplayer runs fn with the BubbleTea renderer on a terminal and plain
// text otherwise.
func (a *app) withDisplayer(fn func(d tui.Displayer) error) error {
	if a.errOut != os.Stderr || !isTTY() {
		d := tui.NewPlainDisplayer(a.errOut)
		d.Banner()
		return fn(d)
	}

	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			a.log.Warn("TUI error", zap.Error(err))
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	err := fn(d)
	if err != nil {
		d.Fatal(err)
	}
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return err
}

func newLoginCommand(a *app) *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a short code, reusing a valid session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDisplayer(func(d tui.Displayer) error {
				return runLogin(cmd.Context(), a.mgr, d, scopes)
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request (default: all)")
	return cmd
}

// runLogin reuses a session whose access token is still usable, resumes a
// pending unexpired code, or starts a new short-code login.
func runLogin(ctx context.Context, mgr *session.Manager, d tui.Displayer, scopes []string) error {
	if mgr.LoggedIn() {
		if id := mgr.Identity(); id != nil {
			d.SessionFound(id.DisplayName)
		}
		_, err := mgr.EnsureValidAccessToken(ctx)
		switch {
		case err == nil:
			return reportDone(mgr, d)
		case !errors.Is(err, session.ErrAuth):
			return err
		}
		// Refresh rejected: fall through to a fresh login.
	} else {
		d.SessionNotFound()
	}

	code := mgr.PendingCode()
	if code == nil || code.Expired(time.Now()) {
		d.RequestingCode()
		var err error
		code, err = mgr.RequestCode(ctx, scopes...)
		if err != nil {
			return fmt.Errorf("short code request failed: %w", err)
		}
	}
	d.DeviceCodeReady(code.DeviceAuth())

	d.WaitingForAuth()
	identity, err := WaitForLogin(ctx, mgr, d)
	var syncErr *session.AchievementSyncError
	switch {
	case errors.As(err, &syncErr):
		d.LoginSuccess(identity.DisplayName, identity.ID)
		d.AchievementSyncFailed(syncErr.Err)
	case errors.Is(err, session.ErrExpired):
		return fmt.Errorf("login code expired, please run login again: %w", err)
	case err != nil:
		return fmt.Errorf("login failed: %w", err)
	default:
		d.LoginSuccess(identity.DisplayName, identity.ID)
		if mgr.Session().Token.HasScope(session.ScopeAchievementsRead) {
			d.AchievementsSynced(len(mgr.Achievements()))
		}
	}
	d.SessionSaved(mgr.SnapshotPath())
	return reportDone(mgr, d)
}

func reportDone(mgr *session.Manager, d tui.Displayer) error {
	snap := mgr.Session()
	name := ""
	if snap.Identity != nil {
		name = snap.Identity.DisplayName
	}
	d.Done(name, snap.Token.Scopes, time.Until(snap.Token.AccessExpiresAt).Round(time.Second))
	return nil
}
