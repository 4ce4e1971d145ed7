package chat

import (
	tea "github.com/charmbracelet/bubbletea"
)

// updateSections handles keys on the section filter page. Toggled
// sections narrow retrieval for subsequent questions; an empty selection
// means the whole document.
func (m Model) updateSections(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.sectionsCursor > 0 {
			m.sectionsCursor--
		}
		return m, nil

	case "down", "j":
		if m.sectionsCursor < len(m.toc)-1 {
			m.sectionsCursor++
		}
		return m, nil

	case " ":
		if m.sectionsCursor < len(m.toc) {
			name := m.toc[m.sectionsCursor].Section
			m.selected[name] = !m.selected[name]
		}
		return m, nil

	case "c":
		m.selected = make(map[string]bool)
		return m, nil

	case "enter", "esc":
		m.ctrl.SetSections(m.selectedSections())
		m.viewMode = ChatView
		return m, nil
	}
	return m, nil
}

// selectedSections returns the checked sections in table-of-contents
// order.
func (m Model) selectedSections() []string {
	var out []string
	for _, entry := range m.toc {
		if m.selected[entry.Section] {
			out = append(out, entry.Section)
		}
	}
	return out
}
