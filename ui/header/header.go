package header

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/util"
)

// Model is the top bar: server domain, version and delivery queue depth.
type Model struct {
	Width  int
	Domain string
	Queued int
	store  common.Store
}

type queueMsg int

func New(store common.Store, domain string, width int) Model {
	return Model{Width: width, Domain: domain, Queued: -1, store: store}
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		n, err := m.store.CountDeliveries(context.Background())
		if err != nil {
			return queueMsg(-1)
		}
		return queueMsg(n)
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case queueMsg:
		m.Queued = int(msg)
	case common.SuspendedMsg:
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) View() string {
	return GetHeaderStyle(m.Domain, m.Queued, m.Width)
}

func box(text string, width int, bg string) string {
	return lipgloss.
		NewStyle().
		SetString(text).
		Align(lipgloss.Left).
		Background(lipgloss.Color(bg)).
		Padding(0, 1).
		Width(width).
		Border(lipgloss.NormalBorder(), true, false, true, false).
		BorderForeground(lipgloss.Color(common.COLOR_MAGENTA)).
		String()
}

func GetHeaderStyle(domain string, queued, width int) string {
	// each box has a padding of 1 on both sides
	available := max(40, width-6)
	domainWidth := available / 3
	versionWidth := available / 3
	queueWidth := available - domainWidth - versionWidth

	queue := "queue: ?"
	if queued >= 0 {
		queue = fmt.Sprintf("queue: %d pending", queued)
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Left,
		box(domain, domainWidth, common.COLOR_PURPLE),
		box(util.GetNameAndVersion(), versionWidth, common.COLOR_GREY),
		box(queue, queueWidth, common.COLOR_MAGENTA),
	)
}
