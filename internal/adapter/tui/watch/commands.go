package watch

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const refreshInterval = 500 * time.Millisecond

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
