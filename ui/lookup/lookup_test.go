package lookup

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/ui/common"
)

func setupStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	database.RegisterOrFetchInstance(context.Background(), "xn--bcher-kva.example")
	return database
}

func TestFind(t *testing.T) {
	store := setupStore(t)
	tests := []struct {
		host  string
		found bool
	}{
		{"xn--bcher-kva.example", true},
		{"Bücher.example", true},
		{"unknown.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			switch msg := Find(store, tt.host)().(type) {
			case common.ShowInstanceMsg:
				if !tt.found {
					t.Errorf("Expected no instance, got %s", msg.Instance.Host)
				} else if msg.Instance.Host != "xn--bcher-kva.example" {
					t.Errorf("Expected punycode host, got %s", msg.Instance.Host)
				}
			case common.ErrMsg:
				if tt.found {
					t.Errorf("Expected an instance, got error %v", msg.Err)
				}
			default:
				t.Errorf("Unexpected message %T", msg)
			}
		})
	}
}

func TestEnterLooksUp(t *testing.T) {
	m := InitialModel(setupStore(t))

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || m.Error != "Please enter a host" {
		t.Errorf("Expected empty input to be rejected, got %q", m.Error)
	}

	m.TextInput.SetValue("nowhere.example")
	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = m.Update(cmd())
	if !strings.Contains(m.Error, "unknown instance nowhere.example") {
		t.Errorf("Expected unknown instance error, got %q", m.Error)
	}
}
