package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"docchat/internal/api"
	"docchat/internal/conversation"
)

// View renders the active page.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	switch m.viewMode {
	case LoginView:
		return m.renderLogin()
	case SectionsView:
		return m.renderSections()
	default:
		return m.renderChat()
	}
}

func (m Model) renderChat() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.styles.Composer.Width(m.width - 2).Render(m.textarea.View()))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render("Annual Report Assistant")
	who := "signed out"
	if u := m.sess.User(); u != nil {
		who = u.Email
	}
	subtitle := m.styles.Subtitle.Render(who + m.renderFilterBadge())
	return title + "\n" + subtitle + "\n"
}

func (m Model) renderFilterBadge() string {
	n := len(m.selectedSections())
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("  ·  filter: %d section(s)", n)
}

func (m Model) renderFooter() string {
	if m.notice != "" {
		style := m.styles.Toast
		if m.noticeLevel == conversation.NoticeError {
			style = m.styles.ToastErr
		}
		return style.Render(m.notice)
	}
	if m.streaming {
		return m.styles.Footer.Render(m.spinner.View() + " Answering... (Esc to stop)")
	}
	return m.styles.Footer.Render("Enter send · Alt+Enter newline · Ctrl+S sections · Ctrl+L logout · Ctrl+C quit")
}

// renderHistory renders the ordered message list with role-based
// styling.
func (m Model) renderHistory() string {
	messages := m.ctrl.Messages()
	if len(messages) == 0 {
		return m.styles.Muted.Render("\n  Ask a question about the annual report to get started.")
	}

	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleUser:
			b.WriteString(m.styles.UserLabel.Render("You") + "\n")
			b.WriteString(m.styles.UserText.Render(msg.Content))
			b.WriteString("\n")

		default:
			b.WriteString(m.styles.BotLabel.Render("Assistant") + "\n")
			if msg.Content == "" && !msg.Failed {
				b.WriteString(m.styles.Muted.Render("  ..."))
				b.WriteString("\n")
				continue
			}
			b.WriteString(m.safeRenderMarkdown(msg.Content))
			if msg.Failed {
				b.WriteString(m.styles.Error.Render("  (response failed)") + "\n")
			}
			if chips := m.renderCitations(msg.Citations); chips != "" {
				b.WriteString(chips + "\n")
			}
		}
	}
	return b.String()
}

// renderCitations renders page/section chips for an assistant message.
func (m Model) renderCitations(citations []api.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	chips := make([]string, 0, len(citations))
	for _, c := range citations {
		label := fmt.Sprintf("p.%d", c.PageNumber)
		if c.SectionName != "" {
			label += " " + c.SectionName
		}
		chips = append(chips, m.styles.Chip.Render(label))
	}
	return "  " + strings.Join(chips, " ")
}

// safeRenderMarkdown renders markdown with panic recovery; glamour can
// panic on odd terminal widths.
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content + "\n"
		}
	}()

	if m.renderer != nil && content != "" {
		if rendered, err := m.renderer.Render(content); err == nil {
			return rendered
		}
	}
	return content + "\n"
}

func (m Model) renderLogin() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Annual Report Assistant") + "\n")
	b.WriteString(m.styles.Subtitle.Render("Sign in to continue") + "\n\n")
	b.WriteString("  " + m.emailInput.View() + "\n")
	b.WriteString("  " + m.passwordInput.View() + "\n\n")
	if m.loggingIn {
		b.WriteString(m.styles.Muted.Render("  Signing in..."))
	} else if m.loginErr != "" {
		b.WriteString(m.styles.Error.Render("  " + m.loginErr))
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.Footer.Render("Tab switch field · Enter submit · Ctrl+C quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (m Model) renderSections() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Filter by section") + "\n")
	b.WriteString(m.styles.Subtitle.Render("Questions are answered from the checked sections only") + "\n\n")

	for i, entry := range m.toc {
		cursor := "  "
		if i == m.sectionsCursor {
			cursor = m.styles.Selected.Render("> ")
		}
		check := "[ ]"
		if m.selected[entry.Section] {
			check = m.styles.Selected.Render("[x]")
		}
		b.WriteString(fmt.Sprintf("%s%s %s %s\n",
			cursor, check, entry.Section,
			m.styles.Muted.Render(fmt.Sprintf("p.%d", entry.Page))))
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("Space toggle · c clear · Enter apply · Ctrl+C quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}
