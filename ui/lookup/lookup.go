package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/ui/common"
	"github.com/deemkeen/mammut/util"
)

// Model finds one instance by host name.
type Model struct {
	store     common.Store
	TextInput textinput.Model
	Error     string
}

func InitialModel(store common.Store) Model {
	ti := textinput.New()
	ti.Placeholder = "mastodon.social"
	ti.Focus()
	ti.CharLimit = 253
	ti.Width = 50

	return Model{store: store, TextInput: ti}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Find looks host up after converting it to punycode.
func Find(store common.Store, host string) tea.Cmd {
	return func() tea.Msg {
		puny := util.ToPuny(host)
		inst, err := store.ReadInstanceByHost(context.Background(), puny)
		if errors.Is(err, db.ErrNotFound) {
			return common.ErrMsg{Err: fmt.Errorf("unknown instance %s", puny)}
		}
		if err != nil {
			return common.ErrMsg{Err: err}
		}
		return common.ShowInstanceMsg{Instance: inst}
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case common.ErrMsg:
		m.Error = msg.Err.Error()
		return m, nil
	case common.ShowInstanceMsg:
		m.TextInput.SetValue("")
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			host := strings.TrimSpace(m.TextInput.Value())
			if host == "" {
				m.Error = "Please enter a host"
				return m, nil
			}
			m.Error = ""
			return m, Find(m.store, host)
		case "esc":
			m.TextInput.SetValue("")
			m.Error = ""
			return m, nil
		}
	}

	m.TextInput, cmd = m.TextInput.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render("show instance"))
	s.WriteString("\n\n  ")
	s.WriteString(m.TextInput.View())
	s.WriteString("\n\n")

	if m.Error != "" {
		s.WriteString(common.ErrorStyle.Render(m.Error))
		s.WriteString("\n")
	}
	return s.String()
}
