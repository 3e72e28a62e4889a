// Package tui renders the session gate as a terminal modal: the same
// hidden/visible machine the dashboard shows as a dialog, with "refresh"
// and "log in again" as its two ways out.
package tui

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// Controller is the gate surface the TUI drives. Implemented by gate.Gate.
type Controller interface {
	Refresh(ctx context.Context) (redirect string, err error)
	Logout() string
}

// state represents the current phase of the gate UI.
type state int

const (
	stateHidden     state = iota
	stateVisible          // modal showing, waiting for a decision
	stateRefreshing       // user chose refresh, waiting for the server
	stateLoggedOut        // terminal: session ended, redirect shown
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK statusKind = iota
	statusWarn
	statusInfo
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session gate.
type Model struct {
	ctrl    Controller
	state   state
	spinner spinner.Model
	width   int
	height  int

	reason   string
	redirect string
	email    string
	role     string

	statusLines []statusLine
}

// Package-level lipgloss styles.
var (
	styleModal = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 3)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial gate model.
func NewModel(ctrl Controller) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("214"))),
	)
	return Model{
		ctrl:    ctrl,
		state:   stateHidden,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case MsgSessionInfo:
		m.email = msg.Email
		m.role = msg.Role
		return m, nil

	case MsgGateOpened:
		if m.state == stateHidden {
			m.state = stateVisible
			m.reason = msg.Reason
			m.addStatus(statusWarn, "Session gate opened: "+msg.Reason)
		}
		return m, nil

	case MsgGateClosed:
		if m.state == stateVisible {
			m.state = stateHidden
			m.addStatus(statusOK, "Session recovered")
		}
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing session...")
		return m, nil

	case MsgRefreshOK:
		m.state = stateHidden
		m.addStatus(statusOK, "Session refreshed")
		return m, nil

	case MsgRefreshFailed:
		m.state = stateLoggedOut
		m.redirect = msg.Redirect
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgLoggedOut:
		m.state = stateLoggedOut
		m.redirect = msg.Redirect
		m.addStatus(statusInfo, "Logged out")
		return m, nil
	}

	return m, nil
}

// handleKey processes key presses for the current state.
func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		return m, tea.Quit
	}
	if m.state != stateVisible {
		return m, nil
	}

	switch msg.String() {
	case "r":
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing session...")
		ctrl := m.ctrl
		return m, func() tea.Msg {
			redirect, err := ctrl.Refresh(context.Background())
			if err != nil {
				return MsgRefreshFailed{Err: err, Redirect: redirect}
			}
			return MsgRefreshOK{}
		}
	case "l", "esc":
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return MsgLoggedOut{Redirect: ctrl.Logout()}
		}
	}
	return m, nil
}

// View renders the gate.
func (m Model) View() tea.View {
	switch m.state {
	case stateVisible, stateRefreshing:
		return tea.NewView(m.viewModal())
	case stateLoggedOut:
		return tea.NewView(m.viewLoggedOut())
	default:
		return tea.NewView(m.viewHidden())
	}
}

// viewHidden is the idle status line shown while the session is healthy.
func (m Model) viewHidden() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ● session active"))
	if m.email != "" {
		b.WriteString(styleDim.Render(fmt.Sprintf("  %s (%s)", m.email, m.role)))
	}
	b.WriteString("\n")
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewModal is the expiry dialog.
func (m Model) viewModal() string {
	var b strings.Builder

	var inner strings.Builder
	inner.WriteString("Session expired\n\n")
	inner.WriteString(styleDim.Render(m.reason))
	inner.WriteString("\n\n")
	if m.state == stateRefreshing {
		inner.WriteString(m.spinner.View())
		inner.WriteString(" Refreshing session...")
	} else {
		inner.WriteString(styleBold.Render("[r]"))
		inner.WriteString(" refresh session   ")
		inner.WriteString(styleBold.Render("[l]"))
		inner.WriteString(" log in again")
	}

	b.WriteString("\n")
	b.WriteString(styleModal.Render(inner.String()))
	b.WriteString("\n")
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewLoggedOut is shown after a forced logout.
func (m Model) viewLoggedOut() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Session ended"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  Log in again at: "))
	b.WriteString(m.redirect)
	b.WriteString("\n")
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}
