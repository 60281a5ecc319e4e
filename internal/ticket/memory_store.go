package ticket

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps tickets in process memory. Used when no Postgres DSN is
// configured and in tests.
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu       sync.Mutex
	tickets  map[string]*Ticket
	activity map[string][]ActivityLogEntry
	agents   map[string]Agent
}

func NewMemoryStore(agents []Agent) *MemoryStore {
	s := &MemoryStore{
		tickets:  make(map[string]*Ticket),
		activity: make(map[string][]ActivityLogEntry),
		agents:   make(map[string]Agent, len(agents)),
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func copyTicket(t *Ticket) *Ticket {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.Messages = slices.Clone(t.Messages)
	if t.Assignee != nil {
		a := *t.Assignee
		c.Assignee = &a
	}
	if t.SLADeadline != nil {
		d := *t.SLADeadline
		c.SLADeadline = &d
	}
	return &c
}

func (s *MemoryStore) Create(_ context.Context, t *Ticket, entry ActivityLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = copyTicket(t)
	s.activity[t.ID] = append(s.activity[t.ID], entry)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTicket(t), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Ticket{}
	for _, t := range s.tickets {
		if f.match(t) {
			out = append(out, *copyTicket(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn MutateFunc) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := copyTicket(t)
	entries, err := fn(working)
	if err != nil {
		return nil, err
	}
	s.tickets[id] = working
	s.activity[id] = append(s.activity[id], entries...)
	return copyTicket(working), nil
}

// Activity returns the log of a ticket, newest first.
func (s *MemoryStore) Activity(_ context.Context, ticketID string) ([]ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticketID]; !ok {
		return nil, ErrNotFound
	}
	log := slices.Clone(s.activity[ticketID])
	// Entries are appended in order; reverse keeps equal timestamps stable.
	slices.Reverse(log)
	sort.SliceStable(log, func(i, j int) bool { return log[i].CreatedAt.After(log[j].CreatedAt) })
	return log, nil
}

func (s *MemoryStore) Agent(_ context.Context, id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return &a, nil
}

func (s *MemoryStore) Agents(_ context.Context) ([]Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
