package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
)

var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color(common.COLOR_LIGHTBLUE))

// Model lists every known instance with its delivery health.
type Model struct {
	store     common.Store
	skipper   common.Skipper
	Table     table.Model
	Instances []domain.Instance
	// Skipped holds the hosts the host policy skips.
	Skipped map[string]bool
	Status  string
	Error   string
}

type instancesLoadedMsg struct {
	instances []domain.Instance
	skipped   map[string]bool
	err       error
}

func columns(width int) []table.Column {
	host := max(20, width-62)
	return []table.Column{
		{Title: "Host", Width: host},
		{Title: "Software", Width: 16},
		{Title: "Status", Width: 8},
		{Title: "Last contact", Width: 16},
		{Title: "State", Width: 12},
	}
}

func InitialModel(store common.Store, skipper common.Skipper, width, height int) Model {
	t := table.New(
		table.WithColumns(columns(width)),
		table.WithFocused(true),
		table.WithHeight(max(5, height-6)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(common.COLOR_GREY)).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color(common.COLOR_PURPLE)).
		Bold(false)
	t.SetStyles(styles)

	return Model{store: store, skipper: skipper, Table: t}
}

func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	store, skipper := m.store, m.skipper
	return func() tea.Msg {
		ctx := context.Background()
		instances, err := store.ReadInstances(ctx)
		if err != nil {
			log.Error("Loading instances failed", "err", err)
			return instancesLoadedMsg{err: err}
		}
		skipped := make(map[string]bool)
		if skipper != nil && len(instances) > 0 {
			hosts := make([]string, len(instances))
			for i, inst := range instances {
				hosts[i] = inst.Host
			}
			list, err := skipper.SkippedInstances(ctx, hosts)
			if err != nil {
				log.Warn("Checking skipped instances failed", "err", err)
			}
			for _, h := range list {
				skipped[h] = true
			}
		}
		return instancesLoadedMsg{instances: instances, skipped: skipped}
	}
}

func formatContact(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func state(inst domain.Instance, skipped bool) string {
	switch {
	case inst.IsSuspended:
		return "suspended"
	case skipped:
		return "skipped"
	case inst.IsNotResponding:
		return "not responding"
	default:
		return "ok"
	}
}

func rows(instances []domain.Instance, skipped map[string]bool) []table.Row {
	out := make([]table.Row, 0, len(instances))
	for _, inst := range instances {
		status := "-"
		if inst.LatestStatus != nil {
			status = fmt.Sprint(*inst.LatestStatus)
		}
		software := strings.TrimSpace(inst.SoftwareName + " " + inst.SoftwareVersion)
		if software == "" {
			software = "?"
		}
		out = append(out, table.Row{inst.Host, software, status, formatContact(inst.LastCommunicatedAt), state(inst, skipped[inst.Host])})
	}
	return out
}

// Selected returns the highlighted instance, if any.
func (m Model) Selected() (domain.Instance, bool) {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Instances) {
		return domain.Instance{}, false
	}
	return m.Instances[i], true
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Table.SetColumns(columns(common.DefaultWindowWidth(msg.Width)))
		m.Table.SetHeight(max(5, common.DefaultWindowHeight(msg.Height)-6))
		return m, nil

	case instancesLoadedMsg:
		if msg.err != nil {
			m.Error = msg.err.Error()
			return m, nil
		}
		m.Instances = msg.instances
		m.Skipped = msg.skipped
		m.Table.SetRows(rows(m.Instances, m.Skipped))
		if m.Table.Cursor() >= len(m.Instances) {
			m.Table.SetCursor(max(0, len(m.Instances)-1))
		}
		return m, nil

	case common.SuspendedMsg:
		if msg.Err != nil {
			m.Error = msg.Err.Error()
			return m, nil
		}
		if msg.Suspended {
			m.Status = msg.Host + " suspended"
		} else {
			m.Status = msg.Host + " unsuspended"
		}
		return m, m.load()

	case tea.KeyMsg:
		m.Status = ""
		m.Error = ""
		switch msg.String() {
		case "s":
			if inst, ok := m.Selected(); ok {
				return m, common.Suspend(m.store, inst.Host, !inst.IsSuspended)
			}
			return m, nil
		case "r":
			return m, m.load()
		case "enter":
			if inst, ok := m.Selected(); ok {
				return m, func() tea.Msg { return common.ShowInstanceMsg{Instance: &inst} }
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	suspended := 0
	for _, inst := range m.Instances {
		if inst.IsSuspended {
			suspended++
		}
	}
	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("instances (%d known, %d suspended)", len(m.Instances), suspended)))
	s.WriteString("\n")

	if len(m.Instances) == 0 {
		s.WriteString(common.HelpStyle.Render("No instances yet."))
	} else {
		s.WriteString(baseStyle.Render(m.Table.View()))
	}
	s.WriteString("\n")

	if m.Status != "" {
		s.WriteString(common.StatusStyle.Render(m.Status))
		s.WriteString("\n")
	}
	if m.Error != "" {
		s.WriteString(common.ErrorStyle.Render("Error: " + m.Error))
		s.WriteString("\n")
	}
	return s.String()
}
