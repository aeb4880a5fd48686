package common

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/mammut/domain"
)

type SessionState uint

const (
	InstancesView SessionState = iota
	LookupView
	InstanceView
)

// Store is what the admin console reads and changes.
type Store interface {
	ReadInstances(ctx context.Context) ([]domain.Instance, error)
	ReadInstanceByHost(ctx context.Context, host string) (*domain.Instance, error)
	SetInstanceSuspended(ctx context.Context, host string, suspended bool) error
	CountDeliveries(ctx context.Context) (int, error)
}

// Skipper names the hosts delivery would currently skip. May be nil.
type Skipper interface {
	SkippedInstances(ctx context.Context, hosts []string) ([]string, error)
}

// ShowInstanceMsg opens the detail view of one instance.
type ShowInstanceMsg struct {
	Instance *domain.Instance
}

// SuspendedMsg reports a finished suspend toggle.
type SuspendedMsg struct {
	Host      string
	Suspended bool
	Err       error
}

// ErrMsg carries a failed command to the view that started it.
type ErrMsg struct {
	Err error
}

// Suspend sets the suspension of host and reports the result.
func Suspend(store Store, host string, suspended bool) tea.Cmd {
	return func() tea.Msg {
		err := store.SetInstanceSuspended(context.Background(), host, suspended)
		return SuspendedMsg{Host: host, Suspended: suspended, Err: err}
	}
}
