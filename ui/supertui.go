package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/mammut/ui/admin"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/ui/header"
	"github.com/deemkeen/mammut/ui/instance"
	"github.com/deemkeen/mammut/ui/lookup"
)

var focusedModelStyle = lipgloss.NewStyle().
	Align(lipgloss.Top, lipgloss.Top).
	BorderStyle(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color(common.COLOR_LIGHTBLUE)).
	MarginLeft(1)

// MainModel is the admin console of one SSH session.
type MainModel struct {
	width         int
	height        int
	state         common.SessionState
	headerModel   header.Model
	adminModel    admin.Model
	lookupModel   lookup.Model
	instanceModel instance.Model
	// back is the view esc returns to from the instance view
	back common.SessionState
}

func NewModel(store common.Store, skipper common.Skipper, domain string, width, height int) MainModel {
	width = common.DefaultWindowWidth(width)
	height = common.DefaultWindowHeight(height)
	return MainModel{
		width:         width,
		height:        height,
		state:         common.InstancesView,
		headerModel:   header.New(store, domain, width),
		adminModel:    admin.InitialModel(store, skipper, width, height),
		lookupModel:   lookup.InitialModel(store),
		instanceModel: instance.InitialModel(store),
	}
}

func (m MainModel) Init() tea.Cmd {
	return tea.Batch(m.headerModel.Init(), m.adminModel.Init())
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = common.DefaultWindowWidth(msg.Width)
		m.height = common.DefaultWindowHeight(msg.Height)
		m.headerModel.Width = m.width
		m.adminModel, cmd = m.adminModel.Update(msg)
		return m, cmd

	case common.ShowInstanceMsg:
		m.back = m.state
		m.state = common.InstanceView
		m.instanceModel, _ = m.instanceModel.Update(msg)
		m.lookupModel, _ = m.lookupModel.Update(msg)
		return m, nil

	case common.ErrMsg:
		m.lookupModel, cmd = m.lookupModel.Update(msg)
		return m, cmd

	case common.SuspendedMsg:
		m.headerModel, cmd = m.headerModel.Update(msg)
		cmds = append(cmds, cmd)
		m.adminModel, cmd = m.adminModel.Update(msg)
		cmds = append(cmds, cmd)
		m.instanceModel, cmd = m.instanceModel.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.state != common.LookupView {
				return m, tea.Quit
			}
		case "tab":
			switch m.state {
			case common.InstancesView:
				m.state = common.LookupView
				return m, m.lookupModel.Init()
			default:
				m.state = common.InstancesView
				return m, m.adminModel.Init()
			}
		case "esc":
			if m.state == common.InstanceView {
				m.state = m.back
				if m.state == common.InstancesView {
					return m, m.adminModel.Init()
				}
				return m, nil
			}
		}

		switch m.state {
		case common.InstancesView:
			m.adminModel, cmd = m.adminModel.Update(msg)
		case common.LookupView:
			m.lookupModel, cmd = m.lookupModel.Update(msg)
		case common.InstanceView:
			m.instanceModel, cmd = m.instanceModel.Update(msg)
		}
		return m, cmd
	}

	// data messages go to every view
	m.headerModel, cmd = m.headerModel.Update(msg)
	cmds = append(cmds, cmd)
	m.adminModel, cmd = m.adminModel.Update(msg)
	cmds = append(cmds, cmd)
	m.lookupModel, cmd = m.lookupModel.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m MainModel) View() string {
	var body, keys string
	switch m.state {
	case common.InstancesView:
		body = m.adminModel.View()
		keys = "↑/↓: select • enter: show • s: suspend/unsuspend • r: reload"
	case common.LookupView:
		body = m.lookupModel.View()
		keys = "enter: show • esc: clear"
	case common.InstanceView:
		body = m.instanceModel.View()
		keys = "s: suspend/unsuspend • esc: back"
	}

	s := m.headerModel.View() + "\n"
	s += focusedModelStyle.Width(m.width).Render(body) + "\n"
	s += common.HelpStyle.Render(fmt.Sprintf("keys > tab: switch view • %s • q: exit", keys))
	return s
}
