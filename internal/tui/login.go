package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/sdk/auth"
)

// ErrLoginAborted is returned when the user leaves the login view before it finishes.
var ErrLoginAborted = errors.New("tui: login aborted")

const maxLogLines = 5

// StateSubscriber is the part of auth.Session the login view watches.
type StateSubscriber interface {
	Subscribe(fn func(auth.SessionState)) (unsubscribe func())
}

type stateMsg auth.SessionState

type logMsg LogLine

type streamClosedMsg struct{}

// loginModel shows a spinner until the session signs in or fails.
type loginModel struct {
	spinner spinner.Model
	authURL string

	states <-chan auth.SessionState
	logs   <-chan LogLine
	done   <-chan struct{}

	state   auth.SessionState
	lines   []LogLine
	width   int
	over    bool
	aborted bool
}

func newLoginModel(authURL string, states <-chan auth.SessionState, logs <-chan LogLine, done <-chan struct{}) loginModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return loginModel{
		spinner: s,
		authURL: authURL,
		states:  states,
		logs:    logs,
		done:    done,
		state:   auth.SessionState{Status: auth.StatusAuthenticating, IsLoading: true},
	}
}

func (m loginModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForState(m.states, m.done)}
	if m.logs != nil {
		cmds = append(cmds, waitForLog(m.logs, m.done))
	}
	return tea.Batch(cmds...)
}

func waitForState(states <-chan auth.SessionState, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case st := <-states:
			return stateMsg(st)
		case <-done:
			return streamClosedMsg{}
		}
	}
}

func waitForLog(logs <-chan LogLine, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case line, ok := <-logs:
			if !ok {
				return streamClosedMsg{}
			}
			return logMsg(line)
		case <-done:
			return streamClosedMsg{}
		}
	}
}

// LoginFinished reports whether state ends the login view. A browser that
// failed to open is not final: the user can still follow the printed URL.
func LoginFinished(state auth.SessionState) bool {
	if state.IsAuthenticated {
		return true
	}
	if state.Status != auth.StatusUnauthenticated || state.Error == nil {
		return false
	}
	return state.Error.Kind != clipify.KindBrowserOpenFailed
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = auth.SessionState(msg)
		if LoginFinished(m.state) {
			m.over = true
			return m, tea.Quit
		}
		return m, waitForState(m.states, m.done)

	case logMsg:
		m.lines = append(m.lines, LogLine(msg))
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		return m, waitForLog(m.logs, m.done)

	case streamClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Clipify sign-in"))
	b.WriteString("\n")

	switch {
	case m.over && m.state.IsAuthenticated:
		b.WriteString(successStyle.Render("✓ Signed in as " + displayName(m.state.User)))
		b.WriteString("\n")
		return b.String()
	case m.over && m.state.Error != nil:
		b.WriteString(errorStyle.Render("✗ " + m.state.Error.Message))
		b.WriteString("\n")
		return b.String()
	case m.aborted:
		b.WriteString(helpStyle.Render("Login cancelled."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(progressLine(m.state))
	b.WriteString("\n\n")

	if m.authURL != "" {
		b.WriteString(helpStyle.Render("If the browser did not open, visit:"))
		b.WriteString("\n")
		url := m.authURL
		if m.width > 4 && len(url) > m.width-4 {
			url = url[:m.width-7] + "..."
		}
		b.WriteString(urlStyle.Render(url))
		b.WriteString("\n\n")
	}

	for _, line := range m.lines {
		b.WriteString(logLevelStyle(line.Level).Render(fmt.Sprintf("%-7s", line.Level)))
		b.WriteString(" ")
		b.WriteString(line.Message)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("q: cancel"))
	b.WriteString("\n")
	return b.String()
}

func progressLine(state auth.SessionState) string {
	switch {
	case state.Error != nil && state.Error.Kind == clipify.KindBrowserOpenFailed:
		return warningStyle.Render("Could not open the browser. Open the link below to continue.")
	case state.Status == auth.StatusRefreshing:
		return valueStyle.Render("Refreshing session...")
	default:
		return valueStyle.Render("Waiting for sign-in to complete in the browser...")
	}
}

// RunLogin shows the login progress view until the session signs in, fails,
// the user cancels, or ctx ends. It returns the last observed state.
func RunLogin(ctx context.Context, session StateSubscriber, authURL string, hook *LogHook, output io.Writer) (auth.SessionState, error) {
	states := make(chan auth.SessionState, 8)
	unsubscribe := session.Subscribe(func(st auth.SessionState) { pushLatest(states, st) })
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)

	var logs <-chan LogLine
	if hook != nil {
		logs = hook.Chan()
	}

	p := tea.NewProgram(newLoginModel(authURL, states, logs, done), tea.WithContext(ctx), tea.WithOutput(output))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return auth.SessionState{}, ctx.Err()
		}
		return auth.SessionState{}, fmt.Errorf("tui: %w", err)
	}
	m := final.(loginModel)
	if m.aborted {
		return m.state, ErrLoginAborted
	}
	return m.state, nil
}

// pushLatest sends st without blocking the session, dropping the oldest
// queued state when the buffer is full.
func pushLatest(states chan auth.SessionState, st auth.SessionState) {
	for {
		select {
		case states <- st:
			return
		default:
		}
		select {
		case <-states:
		default:
		}
	}
}

func displayName(user *clipify.UserProfile) string {
	if user == nil {
		return "unknown user"
	}
	switch {
	case user.Name != "" && user.Email != "":
		return fmt.Sprintf("%s <%s>", user.Name, user.Email)
	case user.Email != "":
		return user.Email
	case user.Name != "":
		return user.Name
	default:
		return user.ID
	}
}
