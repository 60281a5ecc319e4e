package ticket

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
)

const DefaultSLA = 24 * time.Hour

var ErrValidation = errors.New("validation failed")

var systemActor = Actor{Type: ActorSystem}

type Service struct {
	store   Store
	log     logger.Logger
	metrics *metrics.Metrics
	sla     time.Duration
	lang    string
	now     func() time.Time
}

// NewService builds the ticket service. lang selects the wording of system
// messages on new tickets; existing tickets keep their own language.
func NewService(store Store, log logger.Logger, m *metrics.Metrics, sla time.Duration, lang string) *Service {
	if sla <= 0 {
		sla = DefaultSLA
	}
	if lang == "" {
		lang = "ar"
	}
	return &Service{
		store:   store,
		log:     log,
		metrics: m,
		sla:     sla,
		lang:    lang,
		now:     time.Now,
	}
}

func (in CreateInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case strings.TrimSpace(in.Description) == "":
		return fmt.Errorf("%w: description is required", ErrValidation)
	case in.Customer.ID == "":
		return fmt.Errorf("%w: customer is required", ErrValidation)
	case in.Priority != "" && !in.Priority.IsValid():
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Ticket, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.Category == "" {
		in.Category = "general"
	}

	now := s.now()
	l := LabelsFor(s.lang)
	deadline := now.Add(s.sla)
	id := uuid.NewString()

	t := &Ticket{
		ID:          id,
		Title:       in.Title,
		Category:    in.Category,
		Customer:    in.Customer,
		CustomerID:  in.Customer.ID,
		Status:      StatusOpen,
		Priority:    in.Priority,
		Tags:        []string{in.Category},
		Language:    s.lang,
		LastMessage: in.Description,
		UnreadCount: 1,
		SLADeadline: &deadline,
		Messages: []Message{
			{
				ID:         uuid.NewString(),
				TicketID:   id,
				Content:    in.Description,
				Sender:     SenderCustomer,
				SenderID:   in.Customer.ID,
				SenderName: in.Customer.Name,
				Type:       MessageText,
				Timestamp:  now,
			},
			systemMessage(id, l, l.Opened, now),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	entry := ActivityLogEntry{
		ID:        uuid.NewString(),
		TicketID:  id,
		Action:    ActionCreated,
		ActorID:   in.Customer.ID,
		ActorName: in.Customer.Name,
		ActorType: ActorCustomer,
		Metadata:  map[string]any{"title": in.Title},
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, t, entry); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.log.Info("ticket created", "ticket_id", id, "customer_id", in.Customer.ID, "priority", in.Priority)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Ticket, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Priority != "" && !f.Priority.IsValid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, f.Priority)
	}
	return s.store.List(ctx, f)
}

func (s *Service) Activity(ctx context.Context, id string) ([]ActivityLogEntry, error) {
	return s.store.Activity(ctx, id)
}

func (s *Service) Agents(ctx context.Context) ([]Agent, error) {
	return s.store.Agents(ctx)
}

func (u Update) validate() error {
	if u.Status != nil && !u.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *u.Status)
	}
	if u.Priority != nil && !u.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *u.Priority)
	}
	return nil
}

// Update applies u to the ticket. Status, priority and assignee are compared
// in that order; each one that differs yields one system message and one
// activity entry.
func (s *Service) Update(ctx context.Context, id string, u Update, actor Actor) (*Ticket, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	if actor.Type == "" {
		actor = systemActor
	}

	// The store holds the ticket while fn runs, so the agent is looked up first.
	var agent *Agent
	if u.AssigneeID != nil && *u.AssigneeID != "" {
		a, err := s.store.Agent(ctx, *u.AssigneeID)
		if err != nil {
			return nil, err
		}
		agent = a
	}

	var changed []string
	t, err := s.store.Update(ctx, id, func(t *Ticket) ([]ActivityLogEntry, error) {
		changed = changed[:0]
		now := s.now()
		l := LabelsFor(t.Language)

		var msgs []Message
		var entries []ActivityLogEntry
		record := func(field string, action Action, content string, meta map[string]any) {
			msgs = append(msgs, systemMessage(t.ID, l, content, now))
			entries = append(entries, ActivityLogEntry{
				ID:        uuid.NewString(),
				TicketID:  t.ID,
				Action:    action,
				ActorID:   actor.ID,
				ActorName: actorName(actor, l),
				ActorType: actor.Type,
				Metadata:  meta,
				CreatedAt: now,
			})
			changed = append(changed, field)
		}

		if u.Status != nil && *u.Status != t.Status {
			record("status", ActionStatusChange, l.StatusChanged(*u.Status),
				map[string]any{"oldStatus": string(t.Status), "newStatus": string(*u.Status)})
			t.Status = *u.Status
		}
		if u.Priority != nil && *u.Priority != t.Priority {
			record("priority", ActionPriorityChange, l.PriorityChanged(*u.Priority),
				map[string]any{"oldPriority": string(t.Priority), "newPriority": string(*u.Priority)})
			t.Priority = *u.Priority
		}
		if u.AssigneeID != nil && *u.AssigneeID != t.AssigneeID {
			if agent != nil {
				record("assignee", ActionAssigned, l.Assigned(agent.Name),
					map[string]any{"assigneeId": agent.ID, "assigneeName": agent.Name})
				t.Assignee = &Assignee{ID: agent.ID, Name: agent.Name, Avatar: agent.Avatar}
				t.AssigneeID = agent.ID
			} else {
				record("assignee", ActionUnassigned, l.Unassigned,
					map[string]any{"oldAssigneeId": t.AssigneeID})
				t.Assignee = nil
				t.AssigneeID = ""
			}
		}
		if u.Tags != nil {
			t.Tags = slices.Clone(u.Tags)
		}

		if len(msgs) > 0 {
			t.Messages = append(t.Messages, msgs...)
			t.LastMessage = msgs[len(msgs)-1].Content
		}
		t.UpdatedAt = now
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	for _, field := range changed {
		s.metrics.TicketUpdates.WithLabelValues(field).Inc()
	}
	if len(changed) > 0 {
		s.log.Info("ticket updated", "ticket_id", id, "fields", changed, "actor_id", actor.ID)
	}
	return t, nil
}

func (s *Service) AddMessage(ctx context.Context, id string, in MessageInput) (*Message, error) {
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}
	switch in.Sender {
	case SenderCustomer, SenderAgent, SenderSystem:
	default:
		return nil, fmt.Errorf("%w: unknown sender %q", ErrValidation, in.Sender)
	}
	if in.Type == "" {
		in.Type = MessageText
		if len(in.Attachments) > 0 {
			in.Type = MessageAttachment
		}
	}

	var msg Message
	_, err := s.store.Update(ctx, id, func(t *Ticket) ([]ActivityLogEntry, error) {
		now := s.now()
		msg = Message{
			ID:          uuid.NewString(),
			TicketID:    t.ID,
			Content:     in.Content,
			Sender:      in.Sender,
			SenderID:    in.SenderID,
			SenderName:  in.SenderName,
			Type:        in.Type,
			Attachments: slices.Clone(in.Attachments),
			Timestamp:   now,
		}
		t.Messages = append(t.Messages, msg)
		t.LastMessage = msg.Content
		t.UpdatedAt = now
		if in.Sender == SenderCustomer {
			t.UnreadCount++
		}
		return []ActivityLogEntry{{
			ID:        uuid.NewString(),
			TicketID:  t.ID,
			Action:    ActionMessage,
			ActorID:   in.SenderID,
			ActorName: in.SenderName,
			ActorType: senderActor(in.Sender),
			Metadata:  map[string]any{"messageId": msg.ID},
			CreatedAt: now,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Service) MarkAsRead(ctx context.Context, id string) (*Ticket, error) {
	return s.store.Update(ctx, id, func(t *Ticket) ([]ActivityLogEntry, error) {
		t.UnreadCount = 0
		return nil, nil
	})
}

// Counts aggregates over all tickets, or over one customer's tickets when
// customerID is set.
func (s *Service) Counts(ctx context.Context, customerID string) (Counts, error) {
	tickets, err := s.store.List(ctx, Filter{CustomerID: customerID})
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for _, t := range tickets {
		c.All++
		switch t.Status {
		case StatusOpen:
			c.Open++
		case StatusPending:
			c.Pending++
		case StatusClosed:
			c.Closed++
		}
		if t.Priority == PriorityHigh {
			c.High++
		}
		if t.AssigneeID == "" {
			c.Unassigned++
		}
	}
	return c, nil
}

func systemMessage(ticketID string, l Labels, content string, at time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		Content:    content,
		Sender:     SenderSystem,
		SenderName: l.SystemName,
		Type:       MessageSystem,
		Timestamp:  at,
	}
}

func actorName(a Actor, l Labels) string {
	if a.Name == "" && a.Type == ActorSystem {
		return l.SystemName
	}
	return a.Name
}

func senderActor(s Sender) ActorType {
	switch s {
	case SenderCustomer:
		return ActorCustomer
	case SenderAgent:
		return ActorAgent
	}
	return ActorSystem
}
