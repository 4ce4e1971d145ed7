package chat

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"docchat/internal/api"
	"docchat/internal/session"
)

// updateLogin handles keys on the login page.
func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "tab", "shift+tab", "up", "down":
		m.loginFocus = (m.loginFocus + 1) % 2
		if m.loginFocus == 0 {
			m.passwordInput.Blur()
			return m, m.emailInput.Focus()
		}
		m.emailInput.Blur()
		return m, m.passwordInput.Focus()

	case "enter":
		if m.loggingIn {
			return m, nil
		}
		email := strings.TrimSpace(m.emailInput.Value())
		password := m.passwordInput.Value()
		if email == "" || password == "" {
			m.loginErr = "Email and password are required."
			return m, nil
		}
		m.loggingIn = true
		m.loginErr = ""
		return m, m.loginCmd(email, password)
	}

	var cmd tea.Cmd
	if m.loginFocus == 0 {
		m.emailInput, cmd = m.emailInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

// handleLoginResult stores the user record and returns to the chat view
// on success.
func (m Model) handleLoginResult(msg loginResultMsg) (tea.Model, tea.Cmd) {
	m.loggingIn = false
	if msg.err != nil {
		m.logger.Warn("login failed", zap.Error(msg.err))
		if api.IsUnauthorized(msg.err) {
			m.loginErr = "Invalid email or password."
		} else {
			m.loginErr = "Login failed. Please try again."
		}
		m.passwordInput.Reset()
		return m, nil
	}

	if err := m.sess.SetUser(&session.User{ID: msg.resp.User.ID, Email: msg.resp.User.Email}); err != nil {
		m.logger.Warn("failed to persist user", zap.Error(err))
	}
	m.viewMode = ChatView
	m.passwordInput.Reset()
	return m, m.textarea.Focus()
}
