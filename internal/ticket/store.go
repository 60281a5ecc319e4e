package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("ticket not found")
	ErrAgentNotFound = fmt.Errorf("%w: agent not found", ErrValidation)
)

// MutateFunc changes a locked ticket in place and returns the activity
// entries to store with the change. Returning an error aborts the update.
type MutateFunc func(t *Ticket) ([]ActivityLogEntry, error)

// Store persists tickets. Update runs fn while holding the ticket so that
// concurrent updates of one ticket are applied one after another.
type Store interface {
	Create(ctx context.Context, t *Ticket, entry ActivityLogEntry) error
	Get(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context, f Filter) ([]Ticket, error)
	Update(ctx context.Context, id string, fn MutateFunc) (*Ticket, error)
	Activity(ctx context.Context, ticketID string) ([]ActivityLogEntry, error)
	Agent(ctx context.Context, id string) (*Agent, error)
	Agents(ctx context.Context) ([]Agent, error)
}

// DefaultAgents is the support team a fresh store starts with.
func DefaultAgents() []Agent {
	return []Agent{
		{ID: "agent-1", Name: "علي أحمد", Email: "ali@support.com", Avatar: "/ali-agent.jpg", Role: "admin", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "agent-2", Name: "فاطمة حسن", Email: "fatima@support.com", Avatar: "/fatima-agent.jpg", Role: "agent", CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{ID: "agent-3", Name: "يوسف محمد", Email: "youssef@support.com", Avatar: "/youssef-agent.jpg", Role: "agent", CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
}
