package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hackgods/care-marketplace/internal/auth"
	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/logger"
	redisclient "github.com/hackgods/care-marketplace/internal/redis"
	"github.com/hackgods/care-marketplace/internal/ticket"
	"github.com/hackgods/care-marketplace/internal/tracking"
)

var (
	errBadRequest = errors.New("invalid request")
	errForbidden  = errors.New("admin access required")
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg, Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: could not parse JSON body", errBadRequest)
	}
	return nil
}

// classify maps a service error to its HTTP status and machine code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "authentication_required"
	case errors.Is(err, errForbidden), errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, "forbidden"

	case errors.Is(err, booking.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, booking.ErrProviderNotFound):
		return http.StatusNotFound, "provider_not_found"
	case errors.Is(err, booking.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"
	case errors.Is(err, tracking.ErrNotFound):
		return http.StatusNotFound, "tracking_not_found"
	case errors.Is(err, ticket.ErrNotFound):
		return http.StatusNotFound, "ticket_not_found"

	case errors.Is(err, booking.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, booking.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, booking.ErrCapacityFull):
		return http.StatusConflict, "capacity_full"
	case errors.Is(err, booking.ErrWalletBusy), errors.Is(err, redisclient.ErrLockNotAcquired):
		return http.StatusConflict, "wallet_busy"
	case errors.Is(err, booking.ErrAlreadyRated):
		return http.StatusConflict, "already_rated"
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, tracking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"

	case errors.Is(err, tracking.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, ticket.ErrAgentNotFound):
		return http.StatusBadRequest, "agent_not_found"
	case errors.Is(err, booking.ErrValidation),
		errors.Is(err, tracking.ErrValidation),
		errors.Is(err, ticket.ErrValidation),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "validation_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// handleError writes err as an error envelope. Unexpected errors are logged
// and their text is not exposed.
func handleError(w http.ResponseWriter, r *http.Request, log logger.Logger, op string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			"op", op,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
