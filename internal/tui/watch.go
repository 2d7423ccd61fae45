// Package tui renders the portal's live session view.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"schoolhub/pkg/session"
)

const watchTickInterval = time.Second

// Visibility is notified when the terminal regains focus or the user asks for a check.
type Visibility interface {
	Visible()
}

// StateMsg carries a session transition into the program.
type StateMsg session.State

type watchTickMsg time.Time

func watchTickCmd() tea.Cmd {
	return tea.Tick(watchTickInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

// WatchModel shows who is signed in and how long the access token has left. It quits
// once the session ends.
type WatchModel struct {
	session   *session.Manager
	refresh   Visibility
	threshold int
	now       func() time.Time

	state     session.State
	expiresAt time.Time
	ended     bool
	width     int
}

func NewWatchModel(manager *session.Manager, refresh Visibility, thresholdMinutes int) WatchModel {
	return WatchModel{
		session:   manager,
		refresh:   refresh,
		threshold: thresholdMinutes,
		now:       time.Now,
		state:     manager.State(),
		expiresAt: tokenExpiry(manager),
	}
}

func (m WatchModel) Init() tea.Cmd {
	return watchTickCmd()
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.refresh.Visible()
		}
	case tea.FocusMsg:
		m.refresh.Visible()
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case watchTickMsg:
		m.expiresAt = tokenExpiry(m.session)
		return m, watchTickCmd()
	case StateMsg:
		m.state = session.State(msg)
		m.expiresAt = tokenExpiry(m.session)
		if !m.state.IsAuthenticated {
			m.ended = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("schoolhub session"))
	b.WriteString("\n\n")

	if m.ended || !m.state.IsAuthenticated {
		b.WriteString(errStyle.Render("Session ended. Run `portal login` to sign in again."))
		b.WriteString("\n")
		return b.String()
	}

	user := m.state.User
	if user != nil {
		b.WriteString(row("user", fmt.Sprintf("%s %s <%s>", user.FirstName, user.LastName, user.Email)))
		b.WriteString(row("role", user.Role))
		b.WriteString(row("tenant", user.TenantID))
	}
	b.WriteString(row("expires", m.remaining()))
	b.WriteString(helpStyle.Render("r: check now   q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) remaining() string {
	if m.expiresAt.IsZero() {
		return warnStyle.Render("unknown")
	}
	left := m.expiresAt.Sub(m.now()).Truncate(time.Second)
	if left <= 0 {
		return errStyle.Render("expired")
	}
	text := left.String()
	if left < time.Duration(m.threshold)*time.Minute {
		return warnStyle.Render(text + " (refresh due)")
	}
	return okStyle.Render(text)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func tokenExpiry(manager *session.Manager) time.Time {
	token, ok := manager.AccessToken()
	if !ok {
		return time.Time{}
	}
	exp, err := session.DecodeExpiry(token)
	if err != nil {
		return time.Time{}
	}
	return exp
}
