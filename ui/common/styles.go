package common

import "github.com/charmbracelet/lipgloss"

const (
	COLOR_GREY      = "241"
	COLOR_MAGENTA   = "170"
	COLOR_LIGHTBLUE = "69"
	COLOR_PURPLE    = "#7D56F4"
	COLOR_GREEN     = "42"
	COLOR_RED       = "196"
	COLOR_ORANGE    = "214"
)

var (
	HelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY)).Padding(0, 2)
	CaptionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_MAGENTA)).Padding(1, 2)
	StatusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREEN)).Padding(0, 2)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_RED)).Padding(0, 2)
	// SuspendedStyle marks instances nothing is delivered to.
	SuspendedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_RED)).Bold(true)
	DeadStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_ORANGE))
)

func DefaultWindowWidth(width int) int {
	return width - 4
}

func DefaultWindowHeight(height int) int {
	return height - 8
}
