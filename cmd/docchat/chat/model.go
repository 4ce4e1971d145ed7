// Package chat provides the interactive TUI for docchat. The
// functionality is split across multiple files:
//   - model.go: types, construction, Init
//   - update.go: the Update loop and key handling
//   - view.go: rendering
//   - login.go: the login form
//   - sections.go: the section filter page
package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"docchat/cmd/docchat/ui"
	"docchat/internal/api"
	"docchat/internal/config"
	"docchat/internal/conversation"
	"docchat/internal/session"
)

// ViewMode determines which page is active.
type ViewMode int

const (
	LoginView ViewMode = iota
	ChatView
	SectionsView
)

const noticeDuration = 4 * time.Second

// Model is the bubbletea model for the docchat TUI.
type Model struct {
	cfg    *config.Config
	logger *zap.Logger
	client *api.Client
	sess   *session.Store
	ctrl   *conversation.Controller

	styles   ui.Styles
	renderer *glamour.TermRenderer

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	viewMode  ViewMode
	streaming bool

	// Login form
	emailInput    textinput.Model
	passwordInput textinput.Model
	loginFocus    int
	loggingIn     bool
	loginErr      string

	// Section filter
	toc            []api.TableOfContentsEntry
	selected       map[string]bool
	sectionsCursor int

	// Transient toast
	notice      string
	noticeLevel conversation.NoticeLevel

	width  int
	height int
	ready  bool
}

// Messages for tea updates.
type (
	ctrlUpdateMsg  conversation.Update
	tocLoadedMsg   []api.TableOfContentsEntry
	loginResultMsg struct {
		resp *api.LoginResponse
		err  error
	}
	sendRejectedMsg error
	clearNoticeMsg  struct{}
)

// New wires the TUI model. The client, session store, and controller are
// constructed by the caller and injected.
func New(cfg *config.Config, client *api.Client, sess *session.Store, ctrl *conversation.Controller, logger *zap.Logger) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask about the annual report..."
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	email := textinput.New()
	email.Placeholder = "email"
	email.CharLimit = 128
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.CharLimit = 128
	password.EchoMode = textinput.EchoPassword

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		logger.Warn("markdown renderer unavailable", zap.Error(err))
	}

	mode := ChatView
	if !sess.IsAuthenticated() {
		mode = LoginView
	}

	return Model{
		cfg:           cfg,
		logger:        logger,
		client:        client,
		sess:          sess,
		ctrl:          ctrl,
		styles:        ui.NewStyles(),
		renderer:      renderer,
		textarea:      ta,
		spinner:       sp,
		emailInput:    email,
		passwordInput: password,
		viewMode:      mode,
		selected:      make(map[string]bool),
	}
}

// Init starts the update listener, the spinner, and the reference-data
// fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.listenUpdates(),
		m.fetchTOC(),
	)
}

// listenUpdates bridges the controller's update channel into tea
// messages; it is re-issued after every received update.
func (m Model) listenUpdates() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.ctrl.Updates()
		if !ok {
			return nil
		}
		return ctrlUpdateMsg(u)
	}
}

// fetchTOC loads the table of contents for the section filter. A failure
// is logged only: the filter page just stays empty.
func (m Model) fetchTOC() tea.Cmd {
	client := m.client
	logger := m.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		entries, err := client.TableOfContents(ctx)
		if err != nil {
			logger.Warn("failed to load table of contents", zap.Error(err))
			return nil
		}
		return tocLoadedMsg(entries)
	}
}

// sendCmd submits the composer text to the controller.
func (m Model) sendCmd(text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Send(context.Background(), text); err != nil {
			return sendRejectedMsg(err)
		}
		return nil
	}
}

// loginCmd runs the login call.
func (m Model) loginCmd(email, password string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		resp, err := client.Login(ctx, email, password)
		return loginResultMsg{resp: resp, err: err}
	}
}

func clearNoticeAfter() tea.Cmd {
	return tea.Tick(noticeDuration, func(time.Time) tea.Msg {
		return clearNoticeMsg{}
	})
}
