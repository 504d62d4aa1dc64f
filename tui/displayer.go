package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"golang.org/x/oauth2"
)

// Displayer abstracts all user-facing output of the login flow.
type Displayer interface {
	Banner()
	SessionFound(displayName string)
	SessionNotFound()
	RequestingCode()
	DeviceCodeReady(auth *oauth2.DeviceAuthResponse)
	WaitingForAuth()
	PollPending()
	LoginSuccess(displayName string, userID int64)
	AchievementsSynced(count int)
	AchievementSyncFailed(err error)
	SessionSaved(path string)
	LoggedOut(wasLoggedIn bool)
	Done(displayName string, scopes []string, expiresIn time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Short Code Login ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionFound(displayName string) {
	fmt.Fprintf(p.w, "Found existing session for %s\n", displayName)
}

func (p *PlainDisplayer) SessionNotFound() {
	fmt.Fprintln(p.w, "No existing session, starting login...")
}

func (p *PlainDisplayer) RequestingCode() {
	fmt.Fprintln(p.w, "Requesting login code...")
}

func (p *PlainDisplayer) DeviceCodeReady(auth *oauth2.DeviceAuthResponse) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Visit: %s\n", auth.VerificationURI)
	fmt.Fprintf(p.w, "And enter code: %s\n", auth.UserCode)
	fmt.Fprintf(p.w, "Code expires at %s\n", auth.Expiry.Local().Format(time.Kitchen))
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) WaitingForAuth() {
	fmt.Fprintln(p.w, "Waiting for you to enter the code...")
}

func (p *PlainDisplayer) PollPending() {}

func (p *PlainDisplayer) LoginSuccess(displayName string, userID int64) {
	fmt.Fprintf(p.w, "\nLogged in as %s (id %d)\n", displayName, userID)
}

func (p *PlainDisplayer) AchievementsSynced(count int) {
	fmt.Fprintf(p.w, "Synced %d unlocked achievements\n", count)
}

func (p *PlainDisplayer) AchievementSyncFailed(err error) {
	fmt.Fprintf(p.w, "Warning: %v\n", err)
}

func (p *PlainDisplayer) SessionSaved(path string) {
	fmt.Fprintf(p.w, "Session saved to %s\n", path)
}

func (p *PlainDisplayer) LoggedOut(wasLoggedIn bool) {
	if wasLoggedIn {
		fmt.Fprintln(p.w, "Logged out.")
		return
	}
	fmt.Fprintln(p.w, "No user was logged in.")
}

func (p *PlainDisplayer) Done(displayName string, scopes []string, expiresIn time.Duration) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "User: %s\n", displayName)
	fmt.Fprintf(p.w, "Scopes: %s\n", strings.Join(scopes, " "))
	fmt.Fprintf(p.w, "Access token expires in: %s\n", expiresIn.Round(time.Second))
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                      {}
func (NoopDisplayer) SessionFound(_ string)                        {}
func (NoopDisplayer) SessionNotFound()                             {}
func (NoopDisplayer) RequestingCode()                              {}
func (NoopDisplayer) DeviceCodeReady(_ *oauth2.DeviceAuthResponse) {}
func (NoopDisplayer) WaitingForAuth()                              {}
func (NoopDisplayer) PollPending()                                 {}
func (NoopDisplayer) LoginSuccess(_ string, _ int64)               {}
func (NoopDisplayer) AchievementsSynced(_ int)                     {}
func (NoopDisplayer) AchievementSyncFailed(_ error)                {}
func (NoopDisplayer) SessionSaved(_ string)                        {}
func (NoopDisplayer) LoggedOut(_ bool)                             {}
func (NoopDisplayer) Done(_ string, _ []string, _ time.Duration)   {}
func (NoopDisplayer) Fatal(_ error)                                {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionFound(displayName string) {
	t.p.Send(MsgSessionFound{DisplayName: displayName})
}

func (t *ProgramDisplayer) SessionNotFound() {
	t.p.Send(MsgSessionNotFound{})
}

func (t *ProgramDisplayer) RequestingCode() {
	t.p.Send(MsgRequestingCode{})
}

func (t *ProgramDisplayer) DeviceCodeReady(auth *oauth2.DeviceAuthResponse) {
	t.p.Send(MsgDeviceCodeReady{Auth: auth})
}

func (t *ProgramDisplayer) WaitingForAuth() {
	t.p.Send(MsgWaitingForAuth{})
}

func (t *ProgramDisplayer) PollPending() {
	t.p.Send(MsgPollPending{})
}

func (t *ProgramDisplayer) LoginSuccess(displayName string, userID int64) {
	t.p.Send(MsgLoginSuccess{DisplayName: displayName, UserID: userID})
}

func (t *ProgramDisplayer) AchievementsSynced(count int) {
	t.p.Send(MsgAchievementsSynced{Count: count})
}

func (t *ProgramDisplayer) AchievementSyncFailed(err error) {
	t.p.Send(MsgAchievementSyncFailed{Err: err})
}

func (t *ProgramDisplayer) SessionSaved(path string) {
	t.p.Send(MsgSessionSaved{Path: path})
}

func (t *ProgramDisplayer) LoggedOut(wasLoggedIn bool) {
	t.p.Send(MsgLoggedOut{WasLoggedIn: wasLoggedIn})
}

func (t *ProgramDisplayer) Done(displayName string, scopes []string, expiresIn time.Duration) {
	t.p.Send(MsgDone{DisplayName: displayName, Scopes: scopes, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
