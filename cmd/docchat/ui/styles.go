// Package ui provides the visual styling for the docchat TUI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette. Dark-terminal friendly defaults.
var (
	ColorPrimary = lipgloss.Color("#2196F3") // Blue
	ColorAccent  = lipgloss.Color("#8BC34A") // Green
	ColorMuted   = lipgloss.Color("#6c7a89")
	ColorError   = lipgloss.Color("#e53935")
	ColorWarning = lipgloss.Color("#FFC107")
	ColorBorder  = lipgloss.Color("#3a4556")
	ColorChip    = lipgloss.Color("#1e2a3d")
)

// Styles holds the pre-built lipgloss styles used by the views.
type Styles struct {
	Header    lipgloss.Style
	Subtitle  lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	UserText  lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Toast     lipgloss.Style
	ToastErr  lipgloss.Style
	Chip      lipgloss.Style
	Footer    lipgloss.Style
	Composer  lipgloss.Style
	Selected  lipgloss.Style
}

// NewStyles builds the default style set.
func NewStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Padding(0, 1),
		Subtitle: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1),
		UserLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginTop(1),
		BotLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent).
			MarginTop(1),
		UserText: lipgloss.NewStyle().
			PaddingLeft(2),
		Muted: lipgloss.NewStyle().
			Foreground(ColorMuted),
		Error: lipgloss.NewStyle().
			Foreground(ColorError),
		Toast: lipgloss.NewStyle().
			Foreground(ColorWarning).
			Padding(0, 1),
		ToastErr: lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true).
			Padding(0, 1),
		Chip: lipgloss.NewStyle().
			Background(ColorChip).
			Foreground(ColorAccent).
			Padding(0, 1).
			MarginRight(1),
		Footer: lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1),
		Composer: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent),
	}
}
