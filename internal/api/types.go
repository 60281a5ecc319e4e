package api

import (
	"time"

	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/ticket"
	"github.com/hackgods/care-marketplace/internal/tracking"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type CreateBookingRequest struct {
	SlotID        string `json:"slotId"`
	PatientName   string `json:"patientName"`
	PatientPhone  string `json:"patientPhone"`
	PatientEmail  string `json:"patientEmail"`
	PatientAge    *int   `json:"patientAge"`
	PatientGender string `json:"patientGender"`
	Address       string `json:"address"`
	Symptoms      string `json:"symptoms"`
	Notes         string `json:"notes"`
	PaymentMethod string `json:"paymentMethod"`
	DiscountCode  string `json:"discountCode"`
}

type BookingSummary struct {
	ID            string                `json:"id"`
	BookingNumber string                `json:"bookingNumber"`
	Date          time.Time             `json:"date"`
	StartTime     string                `json:"startTime"`
	TotalPrice    int64                 `json:"totalPrice"`
	Status        booking.Status        `json:"status"`
	PaymentStatus booking.PaymentStatus `json:"paymentStatus"`
}

type PaymentSummary struct {
	TransactionID string           `json:"transactionId"`
	Status        booking.TxStatus `json:"status"`
}

type CreateBookingResponse struct {
	Booking BookingSummary  `json:"booking"`
	Payment *PaymentSummary `json:"payment,omitempty"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type ListBookingsResponse struct {
	Bookings   []booking.Booking `json:"bookings"`
	Pagination Pagination        `json:"pagination"`
}

// UpdateBookingRequest changes the status, rates the visit, or both.
type UpdateBookingRequest struct {
	Status       string `json:"status"`
	CancelReason string `json:"cancelReason"`
	Rating       *int   `json:"rating"`
	Review       string `json:"review"`
}

type CreateTrackingRequest struct {
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
	InitialStatus string `json:"initialStatus"`
	Note          string `json:"note"`
}

type AdvanceTrackingRequest struct {
	Status          string     `json:"status"`
	Note            string     `json:"note"`
	ChangedBy       string     `json:"changedBy"`
	ChangedByName   string     `json:"changedByName"`
	AssignedTo      *string    `json:"assignedTo"`
	AssignedToPhone *string    `json:"assignedToPhone"`
	ResultsFileURL  *string    `json:"resultsFileUrl"`
	ActualDelivery  *time.Time `json:"actualDelivery"`
}

type AdvanceNextRequest struct {
	Note          string `json:"note"`
	ChangedBy     string `json:"changedBy"`
	ChangedByName string `json:"changedByName"`
}

type UploadResultsRequest struct {
	TrackingID     string `json:"trackingId"`
	ResultsFileURL string `json:"resultsFileUrl"`
	Note           string `json:"note"`
}

type HistoryView struct {
	tracking.HistoryEntry
	StatusInfo *tracking.StatusInfo `json:"statusInfo,omitempty"`
}

// TrackingView is a record decorated with labels and the timeline phases.
type TrackingView struct {
	*tracking.Record
	StatusHistory     []HistoryView         `json:"statusHistory"`
	CurrentStatusInfo *tracking.StatusInfo  `json:"currentStatusInfo,omitempty"`
	Timeline          []tracking.Classified `json:"timeline"`
	AvailableStatuses []tracking.StatusInfo `json:"availableStatuses,omitempty"`
}

type TrackingListResponse struct {
	Records    []tracking.Record `json:"records"`
	Pagination Pagination        `json:"pagination"`
}

type CreateTicketRequest struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

type AddMessageRequest struct {
	Content     string              `json:"content"`
	Type        string              `json:"type"`
	Attachments []ticket.Attachment `json:"attachments"`
}
