package ticket

import (
	"time"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
)

func (s Status) IsValid() bool {
	return s == StatusOpen || s == StatusPending || s == StatusClosed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) IsValid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
	SenderSystem   Sender = "system"
)

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageSystem     MessageType = "system"
	MessageAttachment MessageType = "attachment"
)

type Action string

const (
	ActionCreated        Action = "created"
	ActionStatusChange   Action = "status_change"
	ActionPriorityChange Action = "priority_change"
	ActionAssigned       Action = "assigned"
	ActionUnassigned     Action = "unassigned"
	ActionMessage        Action = "message"
)

type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorAgent    ActorType = "agent"
	ActorSystem   ActorType = "system"
)

type Customer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

type Assignee struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// Message is immutable once appended to a ticket.
type Message struct {
	ID          string       `json:"id"`
	TicketID    string       `json:"ticketId"`
	Content     string       `json:"content"`
	Sender      Sender       `json:"sender"`
	SenderID    string       `json:"senderId,omitempty"`
	SenderName  string       `json:"senderName"`
	Type        MessageType  `json:"type"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type ActivityLogEntry struct {
	ID        string         `json:"id"`
	TicketID  string         `json:"ticketId"`
	Action    Action         `json:"action"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorName string         `json:"actorName"`
	ActorType ActorType      `json:"actorType"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Ticket struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Customer    Customer   `json:"customer"`
	CustomerID  string     `json:"customerId"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Assignee    *Assignee  `json:"assignee"`
	AssigneeID  string     `json:"assigneeId"`
	Tags        []string   `json:"tags"`
	Language    string     `json:"language"`
	LastMessage string     `json:"lastMessage"`
	UnreadCount int        `json:"unreadCount"`
	SLADeadline *time.Time `json:"slaDeadline"`
	Messages    []Message  `json:"messages"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Actor struct {
	ID   string
	Name string
	Type ActorType
}

type CreateInput struct {
	Title       string
	Category    string
	Priority    Priority
	Description string
	Customer    Customer
}

// Update is a partial ticket change. Nil fields are left untouched. An
// AssigneeID pointing at "" clears the assignee.
type Update struct {
	Status     *Status
	Priority   *Priority
	AssigneeID *string
	Tags       []string
}

type MessageInput struct {
	Content     string
	Sender      Sender
	SenderID    string
	SenderName  string
	Type        MessageType
	Attachments []Attachment
}

type Filter struct {
	Status     Status
	Priority   Priority
	AssigneeID string
	CustomerID string
	Unassigned bool
}

func (f Filter) match(t *Ticket) bool {
	switch {
	case f.Status != "" && t.Status != f.Status:
		return false
	case f.Priority != "" && t.Priority != f.Priority:
		return false
	case f.AssigneeID != "" && t.AssigneeID != f.AssigneeID:
		return false
	case f.CustomerID != "" && t.CustomerID != f.CustomerID:
		return false
	case f.Unassigned && t.AssigneeID != "":
		return false
	}
	return true
}

type Counts struct {
	All        int `json:"all"`
	Open       int `json:"open"`
	Pending    int `json:"pending"`
	Closed     int `json:"closed"`
	High       int `json:"high"`
	Unassigned int `json:"unassigned"`
}
