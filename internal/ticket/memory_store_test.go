package ticket

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(DefaultAgents())
	ctx := context.Background()

	tk := &Ticket{ID: "t-1", Status: StatusOpen, Tags: []string{"a"}, Messages: []Message{{ID: "m-1"}}}
	if err := store.Create(ctx, tk, ActivityLogEntry{ID: "e-1", TicketID: "t-1", Action: ActionCreated}); err != nil {
		t.Fatalf("create: %v", err)
	}
	tk.Tags[0] = "mutated"

	got, _ := store.Get(ctx, "t-1")
	if got.Tags[0] != "a" {
		t.Error("store shares tags with caller")
	}
	got.Messages = append(got.Messages, Message{ID: "m-2"})

	again, _ := store.Get(ctx, "t-1")
	if len(again.Messages) != 1 {
		t.Error("store shares messages with caller")
	}
}

func TestMemoryStore_UpdateAbortsOnError(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	_ = store.Create(ctx, &Ticket{ID: "t-1", Status: StatusOpen}, ActivityLogEntry{ID: "e-1"})

	boom := errors.New("boom")
	_, err := store.Update(ctx, "t-1", func(t *Ticket) ([]ActivityLogEntry, error) {
		t.Status = StatusClosed
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := store.Get(ctx, "t-1")
	if got.Status != StatusOpen {
		t.Error("aborted update was stored")
	}
	log, _ := store.Activity(ctx, "t-1")
	if len(log) != 1 {
		t.Errorf("activity has %d entries", len(log))
	}
}

func TestMemoryStore_Agents(t *testing.T) {
	store := NewMemoryStore(DefaultAgents())
	ctx := context.Background()

	agents, _ := store.Agents(ctx)
	if len(agents) != 3 || agents[0].ID != "agent-1" {
		t.Fatalf("agents %+v", agents)
	}
	if _, err := store.Agent(ctx, "nobody"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	if _, err := store.Activity(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
