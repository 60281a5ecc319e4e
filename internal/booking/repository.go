package booking

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrPaymentNotFound  = errors.New("payment transaction not found")
	ErrSlotUnavailable  = errors.New("slot is unavailable or already booked")
	// ErrInsufficientFunds is returned by DebitWallet when the balance does
	// not cover the amount. A debit already applied for the same booking is
	// not an error.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrDuplicate         = errors.New("duplicate record")
	ErrAlreadyRated      = errors.New("booking has already been rated")
)

// Repository contains all persistence needed by the booking service.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetProviderByID(ctx context.Context, id string) (*Provider, error)
	IncrementProviderPatients(ctx context.Context, id string) error
	// AddProviderRating folds one rating into the provider's running average.
	AddProviderRating(ctx context.Context, id string, rating int) error

	// Slots. ReserveSlot flips available -> booked atomically and returns
	// ErrSlotUnavailable when the slot is missing or already taken.
	ReserveSlot(ctx context.Context, slotID string) (*Slot, error)
	ReleaseSlot(ctx context.Context, slotID string) error
	LinkSlotBooking(ctx context.Context, slotID, bookingID string) error

	// Bookings
	CreateBooking(ctx context.Context, b *Booking) error
	GetBookingByID(ctx context.Context, id string) (*Booking, error)
	ListBookings(ctx context.Context, f ListFilter) ([]Booking, int, error)
	CountActiveBookingsOnDay(ctx context.Context, providerID string, day time.Time) (int, error)
	// UpdateBookingStatus applies change only while the booking is still in
	// status from. A lost race yields ErrInvalidTransition.
	UpdateBookingStatus(ctx context.Context, id string, from Status, change StatusChange) (*Booking, error)
	// MarkBookingPaid moves a pending/pending booking to confirmed/paid. It
	// is a no-op on a booking that is already paid and returns
	// ErrInvalidTransition when the booking left pending another way.
	MarkBookingPaid(ctx context.Context, id string, at time.Time) error
	MarkBookingPaymentFailed(ctx context.Context, id string, at time.Time) error
	SetBookingPaymentStatus(ctx context.Context, id string, status PaymentStatus) error
	// RateBooking stores a review on a completed booking that has none yet.
	// It returns ErrAlreadyRated when the booking was rated meanwhile and
	// ErrInvalidTransition when it is no longer completed.
	RateBooking(ctx context.Context, id string, rating int, review string, at time.Time) (*Booking, error)
	DeleteBooking(ctx context.Context, id string) error
	FindUnsettledWalletBookings(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error)

	// Payment transactions. Unique per (bookingId, type).
	CreatePaymentTransaction(ctx context.Context, tx *PaymentTransaction) error
	GetPaymentTransaction(ctx context.Context, bookingID string, typ TxType) (*PaymentTransaction, error)
	SetPaymentTransactionStatus(ctx context.Context, bookingID string, typ TxType, status TxStatus, at time.Time) error

	// Wallet. Both operations are keyed by booking id and safe to replay.
	// CreditWallet reports false when there was no debit to reverse.
	DebitWallet(ctx context.Context, userID, bookingID string, amount int64) error
	CreditWallet(ctx context.Context, userID, bookingID string, amount int64) (bool, error)
	// RecordWalletTransaction upserts on (referenceId, type).
	RecordWalletTransaction(ctx context.Context, tx *WalletTransaction) error
}
