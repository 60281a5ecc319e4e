package booking

import (
	"fmt"
	"math/rand/v2"
	"time"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
)

type SlotType string

const (
	SlotClinic   SlotType = "clinic"
	SlotHospital SlotType = "hospital"
	SlotOnline   SlotType = "online"
	SlotHome     SlotType = "home"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentCash || m == PaymentWallet
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type ReceptionType string

const (
	ReceptionOpen    ReceptionType = "open"
	ReceptionLimited ReceptionType = "limited"
)

// Amounts are in the smallest currency unit.

type Slot struct {
	ID         string     `bson:"_id" json:"id"`
	ProviderID string     `bson:"providerId" json:"providerId"`
	Date       time.Time  `bson:"date" json:"date"`
	StartTime  string     `bson:"startTime" json:"startTime"`
	EndTime    string     `bson:"endTime" json:"endTime"`
	Duration   int        `bson:"duration" json:"duration"`
	Type       SlotType   `bson:"type" json:"type"`
	Price      int64      `bson:"price" json:"price"`
	Status     SlotStatus `bson:"status" json:"status"`
	BookingID  string     `bson:"bookingId,omitempty" json:"bookingId,omitempty"`
	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updatedAt" json:"updatedAt"`
}

type Provider struct {
	ID                string        `bson:"_id" json:"id"`
	Name              string        `bson:"name" json:"name"`
	Specialty         string        `bson:"specialty" json:"specialty"`
	ConsultationFee   int64         `bson:"consultationFee" json:"consultationFee"`
	ReceptionType     ReceptionType `bson:"receptionType" json:"receptionType"`
	ReceptionCapacity int           `bson:"receptionCapacity" json:"receptionCapacity"`
	TotalPatients     int           `bson:"totalPatients" json:"totalPatients"`
	Rating            float64       `bson:"rating" json:"rating"`
	ReviewsCount      int           `bson:"reviewsCount" json:"reviewsCount"`
}

type User struct {
	ID            string `bson:"_id" json:"id"`
	Email         string `bson:"email" json:"email"`
	Name          string `bson:"name" json:"name"`
	Phone         string `bson:"phone" json:"phone"`
	Role          Role   `bson:"role" json:"role"`
	WalletBalance int64  `bson:"walletBalance" json:"walletBalance"`
	// WalletDebits holds the booking ids already charged to this wallet.
	WalletDebits []string `bson:"walletDebits,omitempty" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type Booking struct {
	ID            string        `bson:"_id" json:"id"`
	BookingNumber string        `bson:"bookingNumber" json:"bookingNumber"`
	UserID        string        `bson:"userId" json:"userId"`
	ProviderID    string        `bson:"providerId" json:"providerId"`
	SlotID        string        `bson:"slotId" json:"slotId"`
	PatientName   string        `bson:"patientName" json:"patientName"`
	PatientPhone  string        `bson:"patientPhone" json:"patientPhone"`
	PatientEmail  string        `bson:"patientEmail,omitempty" json:"patientEmail,omitempty"`
	PatientAge    *int          `bson:"patientAge,omitempty" json:"patientAge,omitempty"`
	PatientGender string        `bson:"patientGender,omitempty" json:"patientGender,omitempty"`
	Date          time.Time     `bson:"date" json:"date"`
	StartTime     string        `bson:"startTime" json:"startTime"`
	EndTime       string        `bson:"endTime" json:"endTime"`
	Type          SlotType      `bson:"type" json:"type"`
	Address       string        `bson:"address,omitempty" json:"address,omitempty"`
	Symptoms      string        `bson:"symptoms,omitempty" json:"symptoms,omitempty"`
	Notes         string        `bson:"notes,omitempty" json:"notes,omitempty"`
	Price         int64         `bson:"price" json:"price"`
	DiscountCode  string        `bson:"discountCode,omitempty" json:"discountCode,omitempty"`
	DiscountAmt   int64         `bson:"discountAmount" json:"discountAmount"`
	TotalPrice    int64         `bson:"totalPrice" json:"totalPrice"`
	PaymentMethod PaymentMethod `bson:"paymentMethod" json:"paymentMethod"`
	PaymentStatus PaymentStatus `bson:"paymentStatus" json:"paymentStatus"`
	Status        Status        `bson:"status" json:"status"`
	CancelReason  string        `bson:"cancelReason,omitempty" json:"cancelReason,omitempty"`
	CancelledBy   Role          `bson:"cancelledBy,omitempty" json:"cancelledBy,omitempty"`
	CancelledAt   *time.Time    `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	CompletedAt   *time.Time    `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	Rating        int           `bson:"rating,omitempty" json:"rating,omitempty"`
	Review        string        `bson:"review,omitempty" json:"review,omitempty"`
	ReviewedAt    *time.Time    `bson:"reviewedAt,omitempty" json:"reviewedAt,omitempty"`
	CreatedAt     time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt" json:"updatedAt"`
}

type TxType string

const (
	TxPayment TxType = "payment"
	TxRefund  TxType = "refund"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

type PaymentTransaction struct {
	ID            string        `bson:"_id" json:"id"`
	TransactionID string        `bson:"transactionId" json:"transactionId"`
	BookingID     string        `bson:"bookingId" json:"bookingId"`
	UserID        string        `bson:"userId" json:"userId"`
	Amount        int64         `bson:"amount" json:"amount"`
	Currency      string        `bson:"currency" json:"currency"`
	Method        PaymentMethod `bson:"method" json:"method"`
	Type          TxType        `bson:"type" json:"type"`
	Status        TxStatus      `bson:"status" json:"status"`
	CompletedAt   *time.Time    `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	FailedAt      *time.Time    `bson:"failedAt,omitempty" json:"failedAt,omitempty"`
	CreatedAt     time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt" json:"updatedAt"`
}

type WalletTxType string

const (
	WalletDebit  WalletTxType = "debit"
	WalletCredit WalletTxType = "credit"
)

type WalletTransaction struct {
	ID          string       `bson:"_id" json:"id"`
	UserID      string       `bson:"userId" json:"userId"`
	Type        WalletTxType `bson:"type" json:"type"`
	Amount      int64        `bson:"amount" json:"amount"`
	Description string       `bson:"description" json:"description"`
	ReferenceID string       `bson:"referenceId" json:"referenceId"`
	CreatedAt   time.Time    `bson:"createdAt" json:"createdAt"`
}

// Request is the input of ReserveAndBook.
type Request struct {
	SlotID        string
	PatientName   string
	PatientPhone  string
	PatientEmail  string
	PatientAge    *int
	PatientGender string
	Address       string
	Symptoms      string
	Notes         string
	PaymentMethod PaymentMethod
	DiscountCode  string
}

func (r Request) validate() error {
	switch {
	case r.SlotID == "":
		return fmt.Errorf("%w: slotId is required", ErrValidation)
	case r.PatientName == "":
		return fmt.Errorf("%w: patientName is required", ErrValidation)
	case r.PatientPhone == "":
		return fmt.Errorf("%w: patientPhone is required", ErrValidation)
	case r.PaymentMethod == "":
		return fmt.Errorf("%w: paymentMethod is required", ErrValidation)
	case !r.PaymentMethod.IsValid():
		return fmt.Errorf("%w: paymentMethod must be cash or wallet", ErrValidation)
	case r.PatientGender != "" && r.PatientGender != "male" && r.PatientGender != "female":
		return fmt.Errorf("%w: patientGender must be male or female", ErrValidation)
	case r.PatientAge != nil && (*r.PatientAge < 0 || *r.PatientAge > 150):
		return fmt.Errorf("%w: patientAge out of range", ErrValidation)
	}
	return nil
}

// Result is what a successful booking hands back to the caller.
type Result struct {
	Booking *Booking
	Payment *PaymentTransaction
}

type ListFilter struct {
	UserID     string
	Status     Status
	ProviderID string
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	Limit      int
}

type Page struct {
	Bookings []Booking
	Total    int
	Page     int
	Limit    int
	Pages    int
}

// StatusChange carries the fields written alongside a status flip.
type StatusChange struct {
	To           Status
	At           time.Time
	CancelReason string
	CancelledBy  Role
}

func yearMonth(t time.Time) string {
	return fmt.Sprintf("%02d%02d", t.Year()%100, int(t.Month()))
}

// NewBookingNumber returns BK + yymm + 4 random digits.
func NewBookingNumber(now time.Time) string {
	return fmt.Sprintf("BK%s%04d", yearMonth(now), rand.IntN(10000))
}

// NewTransactionID returns TXN + yymm + 5 random digits.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN%s%05d", yearMonth(now), rand.IntN(100000))
}
