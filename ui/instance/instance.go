package instance

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/ui/common"
)

var labelStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color(common.COLOR_GREY)).
	Width(22).
	PaddingLeft(2)

// Model shows a single instance record.
type Model struct {
	store    common.Store
	Instance *domain.Instance
	Status   string
	Error    string
}

func InitialModel(store common.Store) Model {
	return Model{store: store}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case common.ShowInstanceMsg:
		m.Instance = msg.Instance
		m.Status = ""
		m.Error = ""
		return m, nil
	case common.SuspendedMsg:
		if m.Instance == nil || msg.Host != m.Instance.Host {
			return m, nil
		}
		if msg.Err != nil {
			m.Error = msg.Err.Error()
			return m, nil
		}
		m.Instance.IsSuspended = msg.Suspended
		m.Status = "saved"
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "s" && m.Instance != nil {
			return m, common.Suspend(m.store, m.Instance.Host, !m.Instance.IsSuspended)
		}
	}
	return m, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC1123)
}

func (m Model) View() string {
	if m.Instance == nil {
		return common.HelpStyle.Render("No instance selected.")
	}
	inst := m.Instance

	status := "-"
	if inst.LatestStatus != nil {
		status = fmt.Sprint(*inst.LatestStatus)
	}
	suspended := "no"
	if inst.IsSuspended {
		suspended = common.SuspendedStyle.Render("yes")
	}
	responding := "yes"
	if inst.IsNotResponding {
		responding = common.DeadStyle.Render("no")
	}

	fields := [][2]string{
		{"Suspended", suspended},
		{"Responding", responding},
		{"Software", strings.TrimSpace(inst.SoftwareName + " " + inst.SoftwareVersion)},
		{"Latest status", status},
		{"Last request", formatTime(inst.LatestRequestSentAt)},
		{"Last contact", formatTime(inst.LastCommunicatedAt)},
		{"Info updated", formatTime(inst.InfoUpdatedAt)},
		{"First seen", inst.CreatedAt.Local().Format(time.RFC1123)},
	}

	var s strings.Builder
	s.WriteString(common.CaptionStyle.Render(inst.Host))
	s.WriteString("\n")
	for _, f := range fields {
		s.WriteString(labelStyle.Render(f[0]))
		s.WriteString(f[1])
		s.WriteString("\n")
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
