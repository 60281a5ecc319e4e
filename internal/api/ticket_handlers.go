package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/ticket"
)

// visibleTicket loads a ticket the caller may see. Customers only see their
// own tickets; others look missing.
func visibleTicket(r *http.Request, svc TicketService) (*ticket.Ticket, error) {
	t, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if u := currentUser(r); !u.IsAdmin() && t.CustomerID != u.ID {
		return nil, ticket.ErrNotFound
	}
	return t, nil
}

func ticketActor(u *booking.User) ticket.Actor {
	return ticket.Actor{ID: u.ID, Name: u.Name, Type: ticket.ActorAgent}
}

func listTicketsHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := ticket.Filter{
			Status:     ticket.Status(q.Get("status")),
			Priority:   ticket.Priority(q.Get("priority")),
			AssigneeID: q.Get("assigneeId"),
			CustomerID: q.Get("customerId"),
			Unassigned: q.Get("unassigned") == "true",
		}
		if u := currentUser(r); !u.IsAdmin() {
			f.CustomerID = u.ID
		}

		tickets, err := svc.List(r.Context(), f)
		if err != nil {
			handleError(w, r, log, "list tickets", err)
			return
		}
		writeData(w, http.StatusOK, tickets)
	}
}

func createTicketHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTicketRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "create ticket", err)
			return
		}

		u := currentUser(r)
		t, err := svc.Create(r.Context(), ticket.CreateInput{
			Title:       req.Title,
			Category:    req.Category,
			Priority:    ticket.Priority(req.Priority),
			Description: req.Description,
			Customer:    ticket.Customer{ID: u.ID, Name: u.Name, Email: u.Email},
		})
		if err != nil {
			handleError(w, r, log, "create ticket", err)
			return
		}
		writeData(w, http.StatusCreated, t)
	}
}

func getTicketHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := visibleTicket(r, svc)
		if err != nil {
			handleError(w, r, log, "get ticket", err)
			return
		}
		writeData(w, http.StatusOK, t)
	}
}

// decodeTicketUpdate reads a PATCH body. An assigneeId of null or "" clears
// the assignee; a missing key leaves it alone.
func decodeTicketUpdate(r *http.Request) (ticket.Update, error) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return ticket.Update{}, err
	}

	var u ticket.Update
	field := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("%w: %s has the wrong type", errBadRequest, key)
		}
		return nil
	}

	var status, priority *string
	if err := field("status", &status); err != nil {
		return u, err
	}
	if err := field("priority", &priority); err != nil {
		return u, err
	}
	if err := field("tags", &u.Tags); err != nil {
		return u, err
	}
	if status != nil {
		s := ticket.Status(*status)
		u.Status = &s
	}
	if priority != nil {
		p := ticket.Priority(*priority)
		u.Priority = &p
	}

	if _, ok := raw["assigneeId"]; ok {
		var assignee *string
		if err := field("assigneeId", &assignee); err != nil {
			return u, err
		}
		if assignee == nil {
			assignee = new(string)
		}
		u.AssigneeID = assignee
	}
	return u, nil
}

func updateTicketHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := decodeTicketUpdate(r)
		if err != nil {
			handleError(w, r, log, "update ticket", err)
			return
		}

		t, err := svc.Update(r.Context(), chi.URLParam(r, "id"), u, ticketActor(currentUser(r)))
		if err != nil {
			handleError(w, r, log, "update ticket", err)
			return
		}
		writeData(w, http.StatusOK, t)
	}
}

func listMessagesHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := visibleTicket(r, svc)
		if err != nil {
			handleError(w, r, log, "list messages", err)
			return
		}
		msgs := t.Messages
		if msgs == nil {
			msgs = []ticket.Message{}
		}
		writeData(w, http.StatusOK, msgs)
	}
}

func addMessageHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "add message", err)
			return
		}
		t, err := visibleTicket(r, svc)
		if err != nil {
			handleError(w, r, log, "add message", err)
			return
		}

		u := currentUser(r)
		sender := ticket.SenderCustomer
		if u.IsAdmin() && t.CustomerID != u.ID {
			sender = ticket.SenderAgent
		}

		msg, err := svc.AddMessage(r.Context(), t.ID, ticket.MessageInput{
			Content:     req.Content,
			Sender:      sender,
			SenderID:    u.ID,
			SenderName:  u.Name,
			Type:        ticket.MessageType(req.Type),
			Attachments: req.Attachments,
		})
		if err != nil {
			handleError(w, r, log, "add message", err)
			return
		}
		writeData(w, http.StatusCreated, msg)
	}
}

func markTicketReadHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.MarkAsRead(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, log, "mark ticket read", err)
			return
		}
		writeData(w, http.StatusOK, t)
	}
}

func ticketActivityHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.Activity(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, log, "ticket activity", err)
			return
		}
		writeData(w, http.StatusOK, entries)
	}
}

func ticketCountsHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID := r.URL.Query().Get("customerId")
		if u := currentUser(r); !u.IsAdmin() {
			customerID = u.ID
		}
		counts, err := svc.Counts(r.Context(), customerID)
		if err != nil {
			handleError(w, r, log, "ticket counts", err)
			return
		}
		writeData(w, http.StatusOK, counts)
	}
}

func listAgentsHandler(svc TicketService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agents, err := svc.Agents(r.Context())
		if err != nil {
			handleError(w, r, log, "list agents", err)
			return
		}
		writeData(w, http.StatusOK, agents)
	}
}
