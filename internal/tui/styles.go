package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/looptrack/internal/race"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	clockStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	noticeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F5C542"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).MarginTop(1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	logHeadStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))

	selectedRowStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#2E3A59"))

	statusStyles = map[race.Status]lipgloss.Style{
		race.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#5BEF8D")),
		race.StatusFinished:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F5C542")),
		race.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
)
