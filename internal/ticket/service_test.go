package ticket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
)

var clockStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// testStore builds the store behind newTestService. The Postgres suite
// swaps it out to rerun the service tests against PgStore.
var testStore = func(t *testing.T) Store {
	return NewMemoryStore(DefaultAgents())
}

func newTestService(t *testing.T, lang string) *Service {
	t.Helper()
	svc := NewService(testStore(t), logger.NewNop(), metrics.NewNop(), 0, lang)
	svc.now = (&fakeClock{now: clockStart}).Now
	return svc
}

func createTicket(t *testing.T, svc *Service) *Ticket {
	t.Helper()
	tk, err := svc.Create(context.Background(), CreateInput{
		Title:       "Refund not received",
		Category:    "billing",
		Priority:    PriorityMedium,
		Description: "I cancelled my booking two days ago",
		Customer:    Customer{ID: "cust-1", Name: "Sara", Email: "sara@example.com"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tk
}

func ptr[T any](v T) *T { return &v }

func TestCreate_SeedsMessagesAndLog(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	if tk.Status != StatusOpen || tk.UnreadCount != 1 {
		t.Fatalf("status %s unread %d, want open/1", tk.Status, tk.UnreadCount)
	}
	if len(tk.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(tk.Messages))
	}
	if tk.Messages[0].Sender != SenderCustomer || tk.Messages[1].Sender != SenderSystem {
		t.Errorf("message senders %s, %s", tk.Messages[0].Sender, tk.Messages[1].Sender)
	}
	if tk.Messages[1].Content != LabelsFor("ar").Opened {
		t.Errorf("system message %q", tk.Messages[1].Content)
	}
	if len(tk.Tags) != 1 || tk.Tags[0] != "billing" {
		t.Errorf("tags %v", tk.Tags)
	}
	if tk.SLADeadline == nil || !tk.SLADeadline.Equal(tk.CreatedAt.Add(DefaultSLA)) {
		t.Errorf("sla deadline %v", tk.SLADeadline)
	}

	log, err := svc.Activity(ctx, tk.ID)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(log) != 1 || log[0].Action != ActionCreated {
		t.Fatalf("activity %+v", log)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(t, "ar")
	cases := map[string]CreateInput{
		"no title":       {Description: "x", Customer: Customer{ID: "c"}},
		"no description": {Title: "x", Customer: Customer{ID: "c"}},
		"no customer":    {Title: "x", Description: "x"},
		"bad priority":   {Title: "x", Description: "x", Customer: Customer{ID: "c"}, Priority: "urgent"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestUpdate_OneMessageAndEntryPerChange(t *testing.T) {
	tests := []struct {
		name    string
		update  Update
		actions []Action
	}{
		{"nothing", Update{}, nil},
		{"same values", Update{Status: ptr(StatusOpen), Priority: ptr(PriorityMedium)}, nil},
		{"status", Update{Status: ptr(StatusPending)}, []Action{ActionStatusChange}},
		{"priority", Update{Priority: ptr(PriorityLow)}, []Action{ActionPriorityChange}},
		{"assign", Update{AssigneeID: ptr("agent-2")}, []Action{ActionAssigned}},
		{
			"all three",
			Update{AssigneeID: ptr("agent-3"), Priority: ptr(PriorityHigh), Status: ptr(StatusClosed)},
			[]Action{ActionStatusChange, ActionPriorityChange, ActionAssigned},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, "ar")
			ctx := context.Background()
			tk := createTicket(t, svc)

			updated, err := svc.Update(ctx, tk.ID, tt.update, Actor{ID: "agent-1", Name: "Ali", Type: ActorAgent})
			if err != nil {
				t.Fatalf("update: %v", err)
			}

			added := updated.Messages[len(tk.Messages):]
			if len(added) != len(tt.actions) {
				t.Fatalf("got %d new messages, want %d", len(added), len(tt.actions))
			}
			for _, m := range added {
				if m.Sender != SenderSystem || m.Type != MessageSystem {
					t.Errorf("unexpected message %+v", m)
				}
			}

			log, _ := svc.Activity(ctx, tk.ID)
			entries := log[:len(log)-1] // drop "created"
			if len(entries) != len(tt.actions) {
				t.Fatalf("got %d new entries, want %d", len(entries), len(tt.actions))
			}
			// Activity is newest first.
			for i, want := range tt.actions {
				got := entries[len(entries)-1-i]
				if got.Action != want {
					t.Errorf("entry %d is %s, want %s", i, got.Action, want)
				}
				if got.ActorID != "agent-1" {
					t.Errorf("entry %d actor %q", i, got.ActorID)
				}
			}

			if len(added) > 0 && updated.LastMessage != added[len(added)-1].Content {
				t.Errorf("lastMessage %q, want last system message", updated.LastMessage)
			}
			if !updated.UpdatedAt.After(tk.UpdatedAt) {
				t.Error("updatedAt not refreshed")
			}
		})
	}
}

func TestUpdate_CloseAndEscalate(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	updated, err := svc.Update(ctx, tk.ID, Update{Status: ptr(StatusClosed), Priority: ptr(PriorityHigh)}, Actor{ID: "agent-1", Name: "علي أحمد", Type: ActorAgent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	l := LabelsFor("ar")
	n := len(updated.Messages)
	if updated.Messages[n-2].Content != l.StatusChanged(StatusClosed) {
		t.Errorf("first message %q", updated.Messages[n-2].Content)
	}
	if updated.Messages[n-1].Content != l.PriorityChanged(PriorityHigh) {
		t.Errorf("second message %q", updated.Messages[n-1].Content)
	}
	if updated.LastMessage != l.PriorityChanged(PriorityHigh) {
		t.Errorf("lastMessage %q", updated.LastMessage)
	}

	log, _ := svc.Activity(ctx, tk.ID)
	if log[1].Metadata["oldStatus"] != "open" || log[1].Metadata["newStatus"] != "closed" {
		t.Errorf("status metadata %v", log[1].Metadata)
	}
	if log[0].Metadata["newPriority"] != "high" {
		t.Errorf("priority metadata %v", log[0].Metadata)
	}

	// closed tickets can be reopened
	reopened, err := svc.Update(ctx, tk.ID, Update{Status: ptr(StatusOpen)}, Actor{})
	if err != nil || reopened.Status != StatusOpen {
		t.Fatalf("reopen: %v %v", reopened, err)
	}
}

func TestUpdate_AssignAndUnassign(t *testing.T) {
	svc := newTestService(t, "en")
	ctx := context.Background()
	tk := createTicket(t, svc)

	assigned, err := svc.Update(ctx, tk.ID, Update{AssigneeID: ptr("agent-2")}, Actor{})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Assignee == nil || assigned.Assignee.Name != "فاطمة حسن" || assigned.AssigneeID != "agent-2" {
		t.Fatalf("assignee %+v", assigned.Assignee)
	}
	if assigned.LastMessage != "Ticket assigned to فاطمة حسن" {
		t.Errorf("lastMessage %q", assigned.LastMessage)
	}

	unassigned, err := svc.Update(ctx, tk.ID, Update{AssigneeID: ptr("")}, Actor{})
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if unassigned.Assignee != nil || unassigned.AssigneeID != "" {
		t.Fatalf("assignee not cleared: %+v", unassigned.Assignee)
	}

	log, _ := svc.Activity(ctx, tk.ID)
	if log[0].Action != ActionUnassigned || log[0].ActorType != ActorSystem {
		t.Errorf("latest entry %+v", log[0])
	}
}

func TestUpdate_UnknownAgent(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	_, err := svc.Update(ctx, tk.ID, Update{Status: ptr(StatusPending), AssigneeID: ptr("agent-99")}, Actor{})
	if !errors.Is(err, ErrAgentNotFound) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}

	got, _ := svc.Get(ctx, tk.ID)
	if got.Status != StatusOpen || len(got.Messages) != len(tk.Messages) {
		t.Error("ticket changed despite failed update")
	}
}

func TestUpdate_Errors(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	if _, err := svc.Update(ctx, "missing", Update{Status: ptr(StatusClosed)}, Actor{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, tk.ID, Update{Status: ptr(Status("archived"))}, Actor{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestUpdate_TagsOnly(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	updated, err := svc.Update(ctx, tk.ID, Update{Tags: []string{"billing", "refund"}}, Actor{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Tags) != 2 || len(updated.Messages) != len(tk.Messages) {
		t.Errorf("tags %v, messages %d", updated.Tags, len(updated.Messages))
	}
	if updated.LastMessage != tk.LastMessage {
		t.Errorf("lastMessage changed to %q", updated.LastMessage)
	}
}

func TestAddMessage_UnreadCount(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	if _, err := svc.AddMessage(ctx, tk.ID, MessageInput{Content: "any news?", Sender: SenderCustomer, SenderID: "cust-1", SenderName: "Sara"}); err != nil {
		t.Fatalf("customer message: %v", err)
	}
	if _, err := svc.AddMessage(ctx, tk.ID, MessageInput{Content: "checking", Sender: SenderAgent, SenderID: "agent-1", SenderName: "Ali"}); err != nil {
		t.Fatalf("agent message: %v", err)
	}

	got, _ := svc.Get(ctx, tk.ID)
	if got.UnreadCount != 2 {
		t.Errorf("unread %d, want 2", got.UnreadCount)
	}
	if got.LastMessage != "checking" {
		t.Errorf("lastMessage %q", got.LastMessage)
	}

	log, _ := svc.Activity(ctx, tk.ID)
	if len(log) != 3 || log[0].Action != ActionMessage || log[0].ActorType != ActorAgent {
		t.Errorf("activity %+v", log)
	}

	for range 2 {
		read, err := svc.MarkAsRead(ctx, tk.ID)
		if err != nil || read.UnreadCount != 0 {
			t.Fatalf("mark as read: %v %v", read, err)
		}
	}

	if _, err := svc.AddMessage(ctx, tk.ID, MessageInput{Sender: SenderCustomer}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for empty message, got %v", err)
	}
	if _, err := svc.AddMessage(ctx, "missing", MessageInput{Content: "x", Sender: SenderCustomer}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCounts(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()

	a := createTicket(t, svc)
	b := createTicket(t, svc)
	_, _ = svc.Create(ctx, CreateInput{Title: "t", Description: "d", Customer: Customer{ID: "cust-2"}})

	_, _ = svc.Update(ctx, a.ID, Update{Status: ptr(StatusClosed), Priority: ptr(PriorityHigh)}, Actor{})
	_, _ = svc.Update(ctx, b.ID, Update{Status: ptr(StatusPending), AssigneeID: ptr("agent-1")}, Actor{})

	all, err := svc.Counts(ctx, "")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := Counts{All: 3, Open: 1, Pending: 1, Closed: 1, High: 1, Unassigned: 2}
	if all != want {
		t.Errorf("counts %+v, want %+v", all, want)
	}

	mine, _ := svc.Counts(ctx, "cust-1")
	if mine.All != 2 || mine.Open != 0 {
		t.Errorf("customer counts %+v", mine)
	}
}

func TestList_Filters(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()

	a := createTicket(t, svc)
	b := createTicket(t, svc)
	_, _ = svc.Update(ctx, a.ID, Update{AssigneeID: ptr("agent-2")}, Actor{})

	list, err := svc.List(ctx, Filter{})
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %d %v", len(list), err)
	}
	if list[0].ID != a.ID {
		t.Error("list not sorted by updatedAt desc")
	}

	unassigned, _ := svc.List(ctx, Filter{Unassigned: true})
	if len(unassigned) != 1 || unassigned[0].ID != b.ID {
		t.Errorf("unassigned filter returned %d", len(unassigned))
	}

	byAgent, _ := svc.List(ctx, Filter{AssigneeID: "agent-2"})
	if len(byAgent) != 1 || byAgent[0].ID != a.ID {
		t.Errorf("assignee filter returned %d", len(byAgent))
	}

	if _, err := svc.List(ctx, Filter{Status: "archived"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestUpdate_ConcurrentChangesSerialised(t *testing.T) {
	svc := newTestService(t, "ar")
	ctx := context.Background()
	tk := createTicket(t, svc)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := PriorityLow
			if i%2 == 0 {
				p = PriorityHigh
			}
			_, _ = svc.Update(ctx, tk.ID, Update{Priority: &p}, Actor{})
		}()
	}
	wg.Wait()

	got, _ := svc.Get(ctx, tk.ID)
	log, _ := svc.Activity(ctx, tk.ID)
	if len(got.Messages)-len(tk.Messages) != len(log)-1 {
		t.Errorf("%d system messages but %d activity entries", len(got.Messages)-len(tk.Messages), len(log)-1)
	}
}
