package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/logger"
)

func createBookingHandler(svc BookingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "create booking", err)
			return
		}

		res, err := svc.ReserveAndBook(r.Context(), currentUser(r), booking.Request{
			SlotID:        req.SlotID,
			PatientName:   req.PatientName,
			PatientPhone:  req.PatientPhone,
			PatientEmail:  req.PatientEmail,
			PatientAge:    req.PatientAge,
			PatientGender: req.PatientGender,
			Address:       req.Address,
			Symptoms:      req.Symptoms,
			Notes:         req.Notes,
			PaymentMethod: booking.PaymentMethod(req.PaymentMethod),
			DiscountCode:  req.DiscountCode,
		})
		if err != nil {
			handleError(w, r, log, "create booking", err)
			return
		}

		b := res.Booking
		resp := CreateBookingResponse{
			Booking: BookingSummary{
				ID:            b.ID,
				BookingNumber: b.BookingNumber,
				Date:          b.Date,
				StartTime:     b.StartTime,
				TotalPrice:    b.TotalPrice,
				Status:        b.Status,
				PaymentStatus: b.PaymentStatus,
			},
		}
		if res.Payment != nil {
			resp.Payment = &PaymentSummary{
				TransactionID: res.Payment.TransactionID,
				Status:        res.Payment.Status,
			}
		}

		writeData(w, http.StatusCreated, resp)
	}
}

func listBookingsHandler(svc BookingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := booking.ListFilter{
			Status:     booking.Status(q.Get("status")),
			ProviderID: q.Get("providerId"),
		}
		var err error
		if f.StartDate, err = parseDate(q, "startDate"); err != nil {
			handleError(w, r, log, "list bookings", err)
			return
		}
		if f.EndDate, err = parseDate(q, "endDate"); err != nil {
			handleError(w, r, log, "list bookings", err)
			return
		}
		if f.Page, f.Limit, err = parsePaging(q); err != nil {
			handleError(w, r, log, "list bookings", err)
			return
		}

		page, err := svc.ListBookings(r.Context(), currentUser(r), f)
		if err != nil {
			handleError(w, r, log, "list bookings", err)
			return
		}

		writeData(w, http.StatusOK, ListBookingsResponse{
			Bookings: page.Bookings,
			Pagination: Pagination{
				Page:  page.Page,
				Limit: page.Limit,
				Total: page.Total,
				Pages: page.Pages,
			},
		})
	}
}

func getBookingHandler(svc BookingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.GetBooking(r.Context(), currentUser(r), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, log, "get booking", err)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

func updateBookingHandler(svc BookingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateBookingRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "update booking", err)
			return
		}
		if req.Status == "" && req.Rating == nil {
			handleError(w, r, log, "update booking", fmt.Errorf("%w: status or rating is required", errBadRequest))
			return
		}

		id := chi.URLParam(r, "id")
		var (
			b   *booking.Booking
			err error
		)
		if req.Status != "" {
			b, err = svc.ChangeStatus(r.Context(), currentUser(r), id, booking.Status(req.Status), req.CancelReason)
			if err != nil {
				handleError(w, r, log, "change booking status", err)
				return
			}
		}
		if req.Rating != nil {
			b, err = svc.Rate(r.Context(), currentUser(r), id, *req.Rating, req.Review)
			if err != nil {
				handleError(w, r, log, "rate booking", err)
				return
			}
		}
		writeData(w, http.StatusOK, b)
	}
}

func deleteBookingHandler(svc BookingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteBooking(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
			handleError(w, r, log, "delete booking", err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"message": "booking deleted"})
	}
}

// parseDate reads a YYYY-MM-DD or RFC 3339 query value.
func parseDate(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be a date", errBadRequest, key)
}

func parsePaging(q url.Values) (page, limit int, err error) {
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: page must be a number", errBadRequest)
		}
		if page > booking.MaxPage {
			return 0, 0, fmt.Errorf("%w: page must be at most %d", errBadRequest, booking.MaxPage)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: limit must be a number", errBadRequest)
		}
	}
	return page, limit, nil
}
