package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticket_agents (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		avatar     TEXT NOT NULL DEFAULT '',
		role       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		category     TEXT NOT NULL,
		customer     JSONB NOT NULL,
		customer_id  TEXT NOT NULL,
		status       TEXT NOT NULL,
		priority     TEXT NOT NULL,
		assignee     JSONB,
		assignee_id  TEXT,
		tags         TEXT[] NOT NULL DEFAULT '{}',
		language     TEXT NOT NULL,
		last_message TEXT NOT NULL DEFAULT '',
		unread_count INT NOT NULL DEFAULT 0,
		sla_deadline TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_customer_idx ON tickets (customer_id)`,
	`CREATE INDEX IF NOT EXISTS tickets_updated_idx ON tickets (updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ticket_messages (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		ticket_id   TEXT NOT NULL REFERENCES tickets (id),
		content     TEXT NOT NULL,
		sender      TEXT NOT NULL,
		sender_id   TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL,
		type        TEXT NOT NULL,
		attachments JSONB,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ticket_messages_ticket_idx ON ticket_messages (ticket_id, seq)`,
	`CREATE TABLE IF NOT EXISTS ticket_activity (
		seq        BIGSERIAL PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		ticket_id  TEXT NOT NULL REFERENCES tickets (id),
		action     TEXT NOT NULL,
		actor_id   TEXT NOT NULL DEFAULT '',
		actor_name TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		metadata   JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ticket_activity_ticket_idx ON ticket_activity (ticket_id, created_at DESC)`,
}

const ticketColumns = `id, title, category, customer, customer_id, status, priority, assignee,
	assignee_id, tags, language, last_message, unread_count, sla_deadline, created_at, updated_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Store = (*PgStore)(nil)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the ticket tables if needed and upserts the given agents.
func (s *PgStore) Migrate(ctx context.Context, agents []Agent) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate tickets: %w", err)
		}
	}
	for _, a := range agents {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ticket_agents (id, name, email, avatar, role, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, a.ID, a.Name, a.Email, a.Avatar, a.Role, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("seed agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// Helpers

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var customer, assignee []byte
	var assigneeID *string
	var status, priority string

	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Category,
		&customer,
		&t.CustomerID,
		&status,
		&priority,
		&assignee,
		&assigneeID,
		&t.Tags,
		&t.Language,
		&t.LastMessage,
		&t.UnreadCount,
		&t.SLADeadline,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)
	if err := json.Unmarshal(customer, &t.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if len(assignee) > 0 {
		t.Assignee = &Assignee{}
		if err := json.Unmarshal(assignee, t.Assignee); err != nil {
			return nil, fmt.Errorf("decode assignee: %w", err)
		}
	}
	if assigneeID != nil {
		t.AssigneeID = *assigneeID
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return &t, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var sender, typ string
	var attachments []byte

	err := row.Scan(
		&m.ID,
		&m.TicketID,
		&m.Content,
		&sender,
		&m.SenderID,
		&m.SenderName,
		&typ,
		&attachments,
		&m.Timestamp,
	)
	if err != nil {
		return m, err
	}

	m.Sender = Sender(sender)
	m.Type = MessageType(typ)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return m, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return m, nil
}

func scanActivity(row pgx.Row) (ActivityLogEntry, error) {
	var e ActivityLogEntry
	var action, actorType string
	var metadata []byte

	err := row.Scan(
		&e.ID,
		&e.TicketID,
		&action,
		&e.ActorID,
		&e.ActorName,
		&actorType,
		&metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return e, err
	}

	e.Action = Action(action)
	e.ActorType = ActorType(actorType)
	e.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}

func assigneeArgs(t *Ticket) ([]byte, *string, error) {
	if t.Assignee == nil || t.AssigneeID == "" {
		return nil, nil, nil
	}
	raw, err := json.Marshal(t.Assignee)
	if err != nil {
		return nil, nil, err
	}
	id := t.AssigneeID
	return raw, &id, nil
}

func insertMessages(ctx context.Context, q querier, msgs []Message) error {
	for _, m := range msgs {
		var attachments []byte
		if len(m.Attachments) > 0 {
			raw, err := json.Marshal(m.Attachments)
			if err != nil {
				return err
			}
			attachments = raw
		}
		_, err := q.Exec(ctx, `
			INSERT INTO ticket_messages (id, ticket_id, content, sender, sender_id, sender_name, type, attachments, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, m.ID, m.TicketID, m.Content, string(m.Sender), m.SenderID, m.SenderName, string(m.Type), attachments, m.Timestamp)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func insertActivity(ctx context.Context, q querier, entries []ActivityLogEntry) error {
	for _, e := range entries {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			INSERT INTO ticket_activity (id, ticket_id, action, actor_id, actor_name, actor_type, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.ID, e.TicketID, string(e.Action), e.ActorID, e.ActorName, string(e.ActorType), raw, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
	}
	return nil
}

func loadMessages(ctx context.Context, q querier, ticketIDs ...string) (map[string][]Message, error) {
	rows, err := q.Query(ctx, `
		SELECT id, ticket_id, content, sender, sender_id, sender_name, type, attachments, created_at
		FROM ticket_messages
		WHERE ticket_id = ANY($1)
		ORDER BY seq
	`, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Message, len(ticketIDs))
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[m.TicketID] = append(out[m.TicketID], m)
	}
	return out, rows.Err()
}

// Interface methods

func (s *PgStore) Create(ctx context.Context, t *Ticket, entry ActivityLogEntry) error {
	customer, err := json.Marshal(t.Customer)
	if err != nil {
		return err
	}
	assignee, assigneeID, err := assigneeArgs(t)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.Title, t.Category, customer, t.CustomerID, string(t.Status), string(t.Priority), assignee,
		assigneeID, t.Tags, t.Language, t.LastMessage, t.UnreadCount, t.SLADeadline, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	if err := insertMessages(ctx, tx, t.Messages); err != nil {
		return err
	}
	if err := insertActivity(ctx, tx, []ActivityLogEntry{entry}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Get(ctx context.Context, id string) (*Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	msgs, err := loadMessages(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs[id]
	return t, nil
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]Ticket, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if f.AssigneeID != "" {
		add("assignee_id = $%d", f.AssigneeID)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.Unassigned {
		where = append(where, "assignee_id IS NULL")
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Ticket{}
	var ids []string
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	msgs, err := loadMessages(ctx, s.pool, ids...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Messages = msgs[out[i].ID]
	}
	return out, nil
}

// Update locks the ticket row for the duration of fn and stores the result,
// the messages fn appended and the returned activity in one transaction.
func (s *PgStore) Update(ctx context.Context, id string, fn MutateFunc) (*Ticket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTicket(tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	msgs, err := loadMessages(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs[id]
	before := len(t.Messages)

	entries, err := fn(t)
	if err != nil {
		return nil, err
	}

	assignee, assigneeID, err := assigneeArgs(t)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, priority = $3, assignee = $4, assignee_id = $5, tags = $6,
			last_message = $7, unread_count = $8, sla_deadline = $9, updated_at = $10
		WHERE id = $1
	`, id, string(t.Status), string(t.Priority), assignee, assigneeID, t.Tags,
		t.LastMessage, t.UnreadCount, t.SLADeadline, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	if len(t.Messages) > before {
		if err := insertMessages(ctx, tx, t.Messages[before:]); err != nil {
			return nil, err
		}
	}
	if err := insertActivity(ctx, tx, entries); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PgStore) Activity(ctx context.Context, ticketID string) ([]ActivityLogEntry, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, ticketID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, action, actor_id, actor_name, actor_type, metadata, created_at
		FROM ticket_activity
		WHERE ticket_id = $1
		ORDER BY created_at DESC, seq DESC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ActivityLogEntry{}
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var createdAt time.Time
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Avatar, &a.Role, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	a.CreatedAt = createdAt
	return &a, nil
}

func (s *PgStore) Agent(ctx context.Context, id string) (*Agent, error) {
	return scanAgent(s.pool.QueryRow(ctx, `
		SELECT id, name, email, avatar, role, created_at
		FROM ticket_agents
		WHERE id = $1
	`, id))
}

func (s *PgStore) Agents(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, avatar, role, created_at
		FROM ticket_agents
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
