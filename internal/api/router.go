package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/care-marketplace/internal/auth"
	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
	"github.com/hackgods/care-marketplace/internal/ticket"
	"github.com/hackgods/care-marketplace/internal/tracking"
)

type BookingService interface {
	UserResolver
	ReserveAndBook(ctx context.Context, user *booking.User, req booking.Request) (*booking.Result, error)
	ListBookings(ctx context.Context, requester *booking.User, f booking.ListFilter) (*booking.Page, error)
	GetBooking(ctx context.Context, requester *booking.User, id string) (*booking.Booking, error)
	ChangeStatus(ctx context.Context, requester *booking.User, id string, to booking.Status, reason string) (*booking.Booking, error)
	Rate(ctx context.Context, requester *booking.User, id string, rating int, review string) (*booking.Booking, error)
	DeleteBooking(ctx context.Context, requester *booking.User, id string) error
}

type TrackingService interface {
	Vocabulary(refType tracking.ReferenceType) (tracking.Vocabulary, error)
	Get(ctx context.Context, refType tracking.ReferenceType, refID string) (*tracking.Record, error)
	GetByID(ctx context.Context, id string) (*tracking.Record, error)
	GetByTrackingNumber(ctx context.Context, number string) (*tracking.Record, error)
	Create(ctx context.Context, in tracking.CreateInput) (*tracking.Record, bool, error)
	Advance(ctx context.Context, id string, in tracking.AdvanceInput) (*tracking.Record, error)
	AdvanceNext(ctx context.Context, id, note string, by tracking.ChangedBy, byName string) (*tracking.Record, error)
	UploadResults(ctx context.Context, id, url, note string) (*tracking.Record, error)
	UpdateDetails(ctx context.Context, id string, f tracking.Fields) (*tracking.Record, error)
	List(ctx context.Context, f tracking.ListFilter) (*tracking.Page, error)
}

type TicketService interface {
	Create(ctx context.Context, in ticket.CreateInput) (*ticket.Ticket, error)
	Get(ctx context.Context, id string) (*ticket.Ticket, error)
	List(ctx context.Context, f ticket.Filter) ([]ticket.Ticket, error)
	Update(ctx context.Context, id string, u ticket.Update, actor ticket.Actor) (*ticket.Ticket, error)
	AddMessage(ctx context.Context, id string, in ticket.MessageInput) (*ticket.Message, error)
	MarkAsRead(ctx context.Context, id string) (*ticket.Ticket, error)
	Counts(ctx context.Context, customerID string) (ticket.Counts, error)
	Activity(ctx context.Context, id string) ([]ticket.ActivityLogEntry, error)
	Agents(ctx context.Context) ([]ticket.Agent, error)
}

type RouterConfig struct {
	Bookings BookingService
	Tracking TrackingService
	Tickets  TicketService
	Tokens   *auth.Tokens
	Log      logger.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Health   []Dependency
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Bookings, log))

		r.Get("/bookings", listBookingsHandler(cfg.Bookings, log))
		r.Post("/bookings", createBookingHandler(cfg.Bookings, log))
		r.Get("/bookings/{id}", getBookingHandler(cfg.Bookings, log))
		r.Put("/bookings/{id}", updateBookingHandler(cfg.Bookings, log))
		r.With(RequireAdmin(log)).Delete("/bookings/{id}", deleteBookingHandler(cfg.Bookings, log))

		r.Get("/tracking", getTrackingHandler(cfg.Tracking, log))
		r.Post("/tracking", createTrackingHandler(cfg.Tracking, log))

		r.Get("/tickets", listTicketsHandler(cfg.Tickets, log))
		r.Post("/tickets", createTicketHandler(cfg.Tickets, log))
		r.Get("/tickets/counts", ticketCountsHandler(cfg.Tickets, log))
		r.With(RequireAdmin(log)).Get("/tickets/agents", listAgentsHandler(cfg.Tickets, log))
		r.Get("/tickets/{id}", getTicketHandler(cfg.Tickets, log))
		r.With(RequireAdmin(log)).Patch("/tickets/{id}", updateTicketHandler(cfg.Tickets, log))
		r.Get("/tickets/{id}/messages", listMessagesHandler(cfg.Tickets, log))
		r.Post("/tickets/{id}/messages", addMessageHandler(cfg.Tickets, log))
		r.With(RequireAdmin(log)).Post("/tickets/{id}/read", markTicketReadHandler(cfg.Tickets, log))
		r.With(RequireAdmin(log)).Get("/tickets/{id}/activity", ticketActivityHandler(cfg.Tickets, log))

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(log))

			r.Get("/tracking", listTrackingHandler(cfg.Tracking, log))
			r.Post("/tracking/upload-results", uploadResultsHandler(cfg.Tracking, log))
			r.Get("/tracking/{id}", adminGetTrackingHandler(cfg.Tracking, log))
			r.Patch("/tracking/{id}", advanceTrackingHandler(cfg.Tracking, log))
			r.Post("/tracking/{id}/next", advanceNextHandler(cfg.Tracking, log))
		})
	})

	return r
}
