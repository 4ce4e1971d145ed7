package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"docchat/internal/conversation"
)

const (
	headerHeight   = 3
	composerHeight = 5
	footerHeight   = 2
)

// Update is the main event loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		switch m.viewMode {
		case LoginView:
			return m.updateLogin(msg)
		case SectionsView:
			return m.updateSections(msg)
		default:
			return m.updateChat(msg)
		}

	case ctrlUpdateMsg:
		return m.handleCtrlUpdate(conversation.Update(msg))

	case tocLoadedMsg:
		m.toc = msg
		return m, nil

	case loginResultMsg:
		return m.handleLoginResult(msg)

	case sendRejectedMsg:
		m.notice = "A response is still streaming. Press Esc to stop it."
		m.noticeLevel = conversation.NoticeInfo
		return m, clearNoticeAfter()

	case clearNoticeMsg:
		m.notice = ""
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// Cursor blink and other component messages.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.emailInput, cmd = m.emailInput.Update(msg)
	cmds = append(cmds, cmd)
	m.passwordInput, cmd = m.passwordInput.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) resize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	vpHeight := msg.Height - headerHeight - composerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(msg.Width - 6)
	m.refreshViewport()
	return m
}

// handleCtrlUpdate applies one controller update and re-arms the
// listener.
func (m Model) handleCtrlUpdate(u conversation.Update) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.listenUpdates()}

	switch u.Kind {
	case conversation.MessagesUpdated:
		m.refreshViewport()

	case conversation.NoticePosted:
		m.notice = u.Notice.Text
		m.noticeLevel = u.Notice.Level
		cmds = append(cmds, clearNoticeAfter())

	case conversation.StateChanged:
		wasStreaming := m.streaming
		m.streaming = u.State == conversation.StateStreaming
		if m.streaming {
			m.textarea.Blur()
			if !wasStreaming {
				cmds = append(cmds, m.spinner.Tick)
			}
		} else {
			cmds = append(cmds, m.textarea.Focus())
		}

	case conversation.SessionExpired:
		if err := m.sess.Clear(); err != nil {
			m.logger.Warn("failed to clear session", zap.Error(err))
		}
		m = m.toLoginView()
	}

	return m, tea.Batch(cmds...)
}

// updateChat handles keys on the chat page.
func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Stop()
		return m, tea.Quit

	case "esc":
		if m.streaming {
			m.ctrl.Stop()
		}
		return m, nil

	case "enter":
		if m.streaming {
			return m, nil
		}
		text := strings.TrimSpace(m.textarea.Value())
		if text == "" {
			return m, nil
		}
		m.textarea.Reset()
		return m, m.sendCmd(text)

	case "alt+enter":
		m.textarea.InsertString("\n")
		return m, nil

	case "ctrl+s":
		if len(m.toc) == 0 {
			m.notice = "Table of contents not loaded."
			m.noticeLevel = conversation.NoticeInfo
			return m, clearNoticeAfter()
		}
		m.viewMode = SectionsView
		m.sectionsCursor = 0
		return m, nil

	case "ctrl+l":
		m.ctrl.Stop()
		if err := m.sess.Clear(); err != nil {
			m.logger.Warn("failed to clear session", zap.Error(err))
		}
		return m.toLoginView(), nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	default:
		if m.streaming {
			// Composer is disabled while a response streams.
			return m, nil
		}
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd
	}
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) toLoginView() Model {
	m.viewMode = LoginView
	m.loggingIn = false
	m.loginErr = ""
	m.emailInput.Reset()
	m.passwordInput.Reset()
	m.loginFocus = 0
	m.emailInput.Focus()
	m.passwordInput.Blur()
	return m
}
