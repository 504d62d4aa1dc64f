package tui

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"golang.org/x/oauth2"
)

// tickMsg refreshes the code countdown.
type tickMsg time.Time

type state int

const (
	stateLoading state = iota
	stateRequesting
	statePolling
	stateSuccess
	stateError
)

// event is one line of the login history shown under the main panel.
type event struct {
	mark  string
	style lipgloss.Style
	text  string
}

// Model is the BubbleTea model for the login TUI.
type Model struct {
	state   state
	spinner spinner.Model

	code      *oauth2.DeviceAuthResponse
	remaining time.Duration
	polls     int

	done   MsgDone
	errMsg string

	events []event
}

var (
	colorAccent = lipgloss.Color("99")
	colorCode   = lipgloss.Color("228")

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

func boxed(c color.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(c).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(c).
		Padding(0, 2)
}

// NewModel returns a model in the loading state.
func NewModel() Model {
	return Model{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(colorAccent)),
		),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.code == nil {
			return m, nil
		}
		m.remaining = max(time.Until(m.code.Expiry), 0)
		if m.remaining == 0 {
			return m, nil
		}
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case MsgSessionFound:
		m.ok("Found existing session for " + msg.DisplayName)
	case MsgSessionNotFound:
		m.info("No existing session, starting login")
	case MsgRequestingCode:
		m.state = stateRequesting

	case MsgDeviceCodeReady:
		m.code = msg.Auth
		m.remaining = max(time.Until(msg.Auth.Expiry), 0)
		m.state = statePolling
		m.info("Login code ready")
		return m, tickAfterSecond()

	case MsgWaitingForAuth:
		m.state = statePolling
	case MsgPollPending:
		m.polls++

	case MsgLoginSuccess:
		m.ok(fmt.Sprintf("Logged in as %s (id %d)", msg.DisplayName, msg.UserID))
	case MsgAchievementsSynced:
		m.ok(fmt.Sprintf("Synced %d unlocked achievements", msg.Count))
	case MsgAchievementSyncFailed:
		m.warn(fmt.Sprintf("Achievements not synced: %v", msg.Err))
	case MsgSessionSaved:
		m.ok("Session saved to " + msg.Path)
	case MsgLoggedOut:
		if msg.WasLoggedIn {
			m.ok("Logged out")
		} else {
			m.info("No user was logged in")
		}

	case MsgDone:
		m.done = msg
		m.state = stateSuccess
	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
	}
	return m, nil
}

func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	}
	return tea.NewView(m.viewMain())
}

func (m Model) viewMain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n\n", boxed(colorAccent).Render("  Short Code Login  "))

	switch {
	case m.state == statePolling && m.code != nil:
		fmt.Fprintf(&b, "%s\n%s\n\n", styleBold.Render("Visit:"), m.code.VerificationURI)
		fmt.Fprintf(&b, "%s\n\n%s\n\n", styleDim.Render("Enter code:"), boxed(colorCode).Render("  "+m.code.UserCode+"  "))
		b.WriteString(m.spinner.View() + " Waiting for you to enter the code...")
		if m.remaining > 0 {
			b.WriteString("  " + styleDim.Render(formatDuration(m.remaining)+" remaining"))
		}
		if m.polls > 0 {
			b.WriteString("  " + styleDim.Render(fmt.Sprintf("(%d checks)", m.polls)))
		}
		b.WriteString("\n")
	case m.state == stateRequesting:
		b.WriteString(m.spinner.View() + " Requesting login code...\n")
	default:
		b.WriteString(m.spinner.View() + " Loading session...\n")
	}

	b.WriteString(m.viewEvents())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n\n", styleOK.Render("  ✓ Logged in!"))
	rows := [][2]string{
		{"User:", m.done.DisplayName},
		{"Scopes:", strings.Join(m.done.Scopes, " ")},
		{"Expires In:", formatDuration(m.done.ExpiresIn)},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", styleBold.Width(12).Render(r[0]), r[1])
	}
	b.WriteString(m.viewEvents())
	return b.String()
}

func (m Model) viewError() string {
	return fmt.Sprintf("\n%s\n\n%s\n%s",
		styleErr.Render("  ✗ Login failed"),
		styleDim.Render("  "+m.errMsg),
		m.viewEvents())
}

func (m Model) viewEvents() string {
	if len(m.events) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, e := range m.events {
		b.WriteString(e.style.Render("  "+e.mark+" "+e.text) + "\n")
	}
	return b.String()
}

func (m *Model) ok(text string)   { m.events = append(m.events, event{"✓", styleOK, text}) }
func (m *Model) warn(text string) { m.events = append(m.events, event{"⚠", styleWarn, text}) }
func (m *Model) info(text string) { m.events = append(m.events, event{"·", styleDim, text}) }

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// formatDuration renders d as "Xm Ys" or "Xs", rounded to the second.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	if mins := int(d / time.Minute); mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, int(d/time.Second)%60)
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}
