package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
	redisclient "github.com/hackgods/care-marketplace/internal/redis"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage bounds the skip so page*limit cannot overflow.
	MaxPage          = 100_000
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrCapacityFull      = errors.New("provider has reached its daily reception capacity")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("operation not allowed for this user")
	ErrWalletBusy        = errors.New("wallet is busy with another payment, please retry")
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	discount DiscountPolicy
	log      logger.Logger
	metrics  *metrics.Metrics
	currency string
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, discount DiscountPolicy, log logger.Logger, m *metrics.Metrics, currency string) *Service {
	if discount == nil {
		discount = NoDiscount{}
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		discount: discount,
		log:      log,
		metrics:  m,
		currency: currency,
		now:      time.Now,
	}
}

// ResolveUser loads the account behind a session.
func (s *Service) ResolveUser(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// attempt tracks one ReserveAndBook call so the slot can be released on
// any failure that happens before the booking is stored.
type attempt struct {
	user      *User
	req       Request
	slot      *Slot
	provider  *Provider
	discount  int64
	total     int64
	booking   *Booking
	payment   *PaymentTransaction
	persisted bool
}

// ReserveAndBook claims a slot and turns it into a booking. The slot claim is
// a compare-and-swap, so of N concurrent callers for one slot exactly one
// gets past the first step. Wallet bookings are settled under a per-user
// lock.
func (s *Service) ReserveAndBook(ctx context.Context, user *User, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		s.metrics.BookingFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	slot, err := s.repo.ReserveSlot(ctx, req.SlotID)
	if err != nil {
		s.metrics.BookingFailures.WithLabelValues(failureKind(err)).Inc()
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	a := &attempt{user: user, req: req, slot: slot}
	if err := s.book(ctx, a); err != nil {
		if !a.persisted {
			s.releaseSlot(ctx, slot.ID)
		}
		s.metrics.BookingFailures.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}

	s.metrics.Bookings.WithLabelValues(string(req.PaymentMethod), string(a.booking.Status)).Inc()
	s.log.Info("booking created",
		"booking_id", a.booking.ID,
		"booking_number", a.booking.BookingNumber,
		"user_id", user.ID,
		"slot_id", slot.ID,
		"payment_method", req.PaymentMethod,
		"status", a.booking.Status,
	)
	return &Result{Booking: a.booking, Payment: a.payment}, nil
}

func (s *Service) book(ctx context.Context, a *attempt) error {
	provider, err := s.repo.GetProviderByID(ctx, a.slot.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return err
		}
		return fmt.Errorf("load provider: %w", err)
	}
	a.provider = provider

	if err := s.checkCapacity(ctx, provider, a.slot); err != nil {
		return err
	}

	discount, err := s.discount.Quote(ctx, a.req.DiscountCode, a.slot.Price)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return err
		}
		return fmt.Errorf("quote discount: %w", err)
	}
	if discount < 0 || discount > a.slot.Price {
		return fmt.Errorf("%w: discount %d outside [0, %d]", ErrValidation, discount, a.slot.Price)
	}
	a.discount = discount
	a.total = a.slot.Price - discount

	if a.req.PaymentMethod == PaymentWallet {
		err = s.locker.WithUserLock(ctx, a.user.ID, func(lockCtx context.Context) error {
			return s.persist(lockCtx, a)
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return ErrWalletBusy
		}
	} else {
		err = s.persist(ctx, a)
	}
	if err != nil {
		return err
	}

	if err := s.repo.IncrementProviderPatients(ctx, provider.ID); err != nil {
		s.log.Warn("failed to increment provider patients", "provider_id", provider.ID, "error", err)
	}
	if a.req.DiscountCode != "" {
		if err := s.discount.Redeem(ctx, a.req.DiscountCode); err != nil {
			s.log.Warn("failed to redeem discount code", "code", a.req.DiscountCode, "booking_id", a.booking.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) checkCapacity(ctx context.Context, p *Provider, slot *Slot) error {
	if p.ReceptionType != ReceptionLimited || p.ReceptionCapacity <= 0 {
		return nil
	}
	n, err := s.repo.CountActiveBookingsOnDay(ctx, p.ID, slot.Date)
	if err != nil {
		return fmt.Errorf("count bookings: %w", err)
	}
	if n >= p.ReceptionCapacity {
		return ErrCapacityFull
	}
	return nil
}

// persist runs the balance check, the booking and payment writes and, for
// wallet payments, settlement. For wallet payments it runs under the user's
// wallet lock.
func (s *Service) persist(ctx context.Context, a *attempt) error {
	if a.req.PaymentMethod == PaymentWallet {
		u, err := s.repo.GetUserByID(ctx, a.user.ID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return err
			}
			return fmt.Errorf("load wallet: %w", err)
		}
		if u.WalletBalance < a.total {
			return ErrInsufficientFunds
		}
	}

	now := s.now()
	b := &Booking{
		BookingNumber: NewBookingNumber(now),
		UserID:        a.user.ID,
		ProviderID:    a.slot.ProviderID,
		SlotID:        a.slot.ID,
		PatientName:   a.req.PatientName,
		PatientPhone:  a.req.PatientPhone,
		PatientEmail:  a.req.PatientEmail,
		PatientAge:    a.req.PatientAge,
		PatientGender: a.req.PatientGender,
		Date:          a.slot.Date,
		StartTime:     a.slot.StartTime,
		EndTime:       a.slot.EndTime,
		Type:          a.slot.Type,
		Address:       a.req.Address,
		Symptoms:      a.req.Symptoms,
		Notes:         a.req.Notes,
		Price:         a.slot.Price,
		DiscountCode:  a.req.DiscountCode,
		DiscountAmt:   a.discount,
		TotalPrice:    a.total,
		PaymentMethod: a.req.PaymentMethod,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateBooking(ctx, b); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	a.booking = b
	a.persisted = true

	if err := s.repo.LinkSlotBooking(ctx, a.slot.ID, b.ID); err != nil {
		s.log.Error("partial failure: link slot to booking", "slot_id", a.slot.ID, "booking_id", b.ID, "error", err)
	}

	pt := &PaymentTransaction{
		TransactionID: NewTransactionID(now),
		BookingID:     b.ID,
		UserID:        a.user.ID,
		Amount:        a.total,
		Currency:      s.currency,
		Method:        a.req.PaymentMethod,
		Type:          TxPayment,
		Status:        TxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreatePaymentTransaction(ctx, pt); err != nil {
		// Settlement recreates the record for wallet bookings.
		s.log.Error("partial failure: create payment transaction", "booking_id", b.ID, "error", err)
		pt = nil
	}
	a.payment = pt

	if a.req.PaymentMethod != PaymentWallet {
		return nil
	}

	if err := s.settle(ctx, b); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.failSettlement(ctx, b)
			return err
		}
		s.metrics.Settlements.WithLabelValues("deferred").Inc()
		s.log.Error("partial failure: wallet settlement deferred to reconciler", "booking_id", b.ID, "error", err)
		return nil
	}
	s.metrics.Settlements.WithLabelValues("settled").Inc()

	if pt != nil {
		completed := b.UpdatedAt
		pt.Status = TxCompleted
		pt.CompletedAt = &completed
		pt.UpdatedAt = completed
	}
	return nil
}

// settle charges the wallet for a pending wallet booking. Every write is
// keyed by the booking id, so settle can be replayed after a crash.
func (s *Service) settle(ctx context.Context, b *Booking) error {
	if err := s.repo.DebitWallet(ctx, b.UserID, b.ID, b.TotalPrice); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("debit wallet: %w", err)
	}

	now := s.now()
	if err := s.repo.MarkBookingPaid(ctx, b.ID, now); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// The booking was cancelled while the debit was in flight.
			if _, cerr := s.repo.CreditWallet(ctx, b.UserID, b.ID, b.TotalPrice); cerr != nil {
				s.log.Error("failed to reverse wallet debit", "booking_id", b.ID, "error", cerr)
			}
			return err
		}
		return fmt.Errorf("mark booking paid: %w", err)
	}

	err := s.repo.SetPaymentTransactionStatus(ctx, b.ID, TxPayment, TxCompleted, now)
	if errors.Is(err, ErrPaymentNotFound) {
		err = s.repo.CreatePaymentTransaction(ctx, &PaymentTransaction{
			TransactionID: NewTransactionID(now),
			BookingID:     b.ID,
			UserID:        b.UserID,
			Amount:        b.TotalPrice,
			Currency:      s.currency,
			Method:        PaymentWallet,
			Type:          TxPayment,
			Status:        TxCompleted,
			CompletedAt:   &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err != nil {
		return fmt.Errorf("complete payment transaction: %w", err)
	}

	if err := s.repo.RecordWalletTransaction(ctx, &WalletTransaction{
		UserID:      b.UserID,
		Type:        WalletDebit,
		Amount:      b.TotalPrice,
		Description: fmt.Sprintf("Booking #%s", b.BookingNumber),
		ReferenceID: b.ID,
		CreatedAt:   now,
	}); err != nil {
		s.log.Warn("failed to record wallet transaction", "booking_id", b.ID, "error", err)
	}

	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentPaid
	b.UpdatedAt = now
	return nil
}

func (s *Service) failSettlement(ctx context.Context, b *Booking) {
	now := s.now()
	if err := s.repo.MarkBookingPaymentFailed(ctx, b.ID, now); err != nil {
		s.log.Error("failed to mark booking payment failed", "booking_id", b.ID, "error", err)
		return
	}
	if err := s.repo.SetPaymentTransactionStatus(ctx, b.ID, TxPayment, TxFailed, now); err != nil && !errors.Is(err, ErrPaymentNotFound) {
		s.log.Warn("failed to mark payment transaction failed", "booking_id", b.ID, "error", err)
	}
	s.releaseSlot(ctx, b.SlotID)

	b.Status = StatusCancelled
	b.PaymentStatus = PaymentFailed
	s.metrics.Settlements.WithLabelValues("failed").Inc()
}

// SettlePending replays settlement for wallet bookings created before cutoff
// that are still unpaid. It returns how many were settled and how many were
// cancelled for lack of funds.
func (s *Service) SettlePending(ctx context.Context, cutoff time.Time) (settled, failed int, err error) {
	pending, err := s.repo.FindUnsettledWalletBookings(ctx, cutoff, defaultUnsettledLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("find unsettled bookings: %w", err)
	}

	for i := range pending {
		b := &pending[i]
		err := s.locker.WithUserLock(ctx, b.UserID, func(lockCtx context.Context) error {
			return s.settle(lockCtx, b)
		})
		switch {
		case err == nil:
			settled++
			s.metrics.Settlements.WithLabelValues("settled").Inc()
			s.log.Info("settled pending wallet booking", "booking_id", b.ID)
		case errors.Is(err, ErrInsufficientFunds):
			s.failSettlement(ctx, b)
			failed++
			s.log.Info("cancelled unpaid wallet booking", "booking_id", b.ID)
		case ctx.Err() != nil:
			return settled, failed, ctx.Err()
		default:
			s.log.Error("failed to settle wallet booking", "booking_id", b.ID, "error", err)
		}
	}
	return settled, failed, nil
}

// ListBookings pages through bookings. Non-admins only ever see their own.
func (s *Service) ListBookings(ctx context.Context, requester *User, f ListFilter) (*Page, error) {
	if !requester.IsAdmin() {
		f.UserID = requester.ID
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		return nil, fmt.Errorf("%w: page must be at most %d", ErrValidation, MaxPage)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}

	items, total, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	return &Page{
		Bookings: items,
		Total:    total,
		Page:     f.Page,
		Limit:    f.Limit,
		Pages:    (total + f.Limit - 1) / f.Limit,
	}, nil
}

// GetBooking returns a booking visible to requester.
func (s *Service) GetBooking(ctx context.Context, requester *User, id string) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if !requester.IsAdmin() && b.UserID != requester.ID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// ChangeStatus moves a booking along its lifecycle. Cancelling frees the
// slot and refunds a paid wallet booking.
func (s *Service) ChangeStatus(ctx context.Context, requester *User, id string, to Status, reason string) (*Booking, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	b, err := s.GetBooking(ctx, requester, id)
	if err != nil {
		return nil, err
	}

	if (to == StatusCompleted || to == StatusNoShow || to == StatusConfirmed) && !requester.IsAdmin() {
		return nil, ErrForbidden
	}
	if !CanTransition(b.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}

	change := StatusChange{To: to, At: s.now(), CancelReason: reason}
	if to == StatusCancelled {
		change.CancelledBy = RoleUser
		if requester.IsAdmin() {
			change.CancelledBy = RoleAdmin
		}
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, b.Status, change)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	s.log.Info("booking status changed",
		"booking_id", updated.ID,
		"from", b.Status,
		"to", to,
		"by", requester.ID,
	)

	if to == StatusCancelled {
		s.releaseSlot(ctx, updated.SlotID)
		if updated.PaymentMethod == PaymentWallet {
			if err := s.refund(ctx, updated); err != nil {
				s.log.Error("partial failure: refund cancelled booking", "booking_id", updated.ID, "error", err)
			}
		}
	}

	return updated, nil
}

// Rate records the patient's review of a completed booking and folds the
// rating into the provider's average. A booking is rated at most once.
func (s *Service) Rate(ctx context.Context, requester *User, id string, rating int, review string) (*Booking, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	b, err := s.GetBooking(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != requester.ID {
		return nil, ErrForbidden
	}
	if b.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: only completed bookings can be rated", ErrInvalidTransition)
	}
	if b.Rating != 0 {
		return nil, ErrAlreadyRated
	}

	rated, err := s.repo.RateBooking(ctx, b.ID, rating, review, s.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyRated) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("rate booking: %w", err)
	}

	if err := s.repo.AddProviderRating(context.WithoutCancel(ctx), rated.ProviderID, rating); err != nil {
		s.log.Error("partial failure: update provider rating", "booking_id", rated.ID, "provider_id", rated.ProviderID, "error", err)
	}

	s.log.Info("booking rated", "booking_id", rated.ID, "provider_id", rated.ProviderID, "rating", rating)
	return rated, nil
}

// DeleteBooking removes a booking outright. Admin only. The slot is freed
// and a paid wallet booking is refunded first so no money is stranded.
func (s *Service) DeleteBooking(ctx context.Context, requester *User, id string) error {
	if !requester.IsAdmin() {
		return ErrForbidden
	}

	b, err := s.GetBooking(ctx, requester, id)
	if err != nil {
		return err
	}

	if b.PaymentMethod == PaymentWallet && b.PaymentStatus == PaymentPaid {
		if err := s.refund(ctx, b); err != nil {
			return fmt.Errorf("refund before delete: %w", err)
		}
	}

	if err := s.repo.DeleteBooking(ctx, b.ID); err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return err
		}
		return fmt.Errorf("delete booking: %w", err)
	}
	if b.Status != StatusCancelled {
		s.releaseSlot(ctx, b.SlotID)
	}

	s.log.Info("booking deleted", "booking_id", b.ID, "slot_id", b.SlotID, "by", requester.ID)
	return nil
}

// refund credits the wallet back for a cancelled booking. The credit only
// applies when a matching debit is on record, so replays are harmless.
func (s *Service) refund(ctx context.Context, b *Booking) error {
	credited, err := s.repo.CreditWallet(ctx, b.UserID, b.ID, b.TotalPrice)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	if !credited {
		return nil
	}

	now := s.now()
	if err := s.repo.SetBookingPaymentStatus(ctx, b.ID, PaymentRefunded); err != nil {
		return fmt.Errorf("mark booking refunded: %w", err)
	}
	b.PaymentStatus = PaymentRefunded

	err = s.repo.CreatePaymentTransaction(ctx, &PaymentTransaction{
		TransactionID: NewTransactionID(now),
		BookingID:     b.ID,
		UserID:        b.UserID,
		Amount:        b.TotalPrice,
		Currency:      s.currency,
		Method:        PaymentWallet,
		Type:          TxRefund,
		Status:        TxCompleted,
		CompletedAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil && !errors.Is(err, ErrDuplicate) {
		s.log.Warn("failed to record refund transaction", "booking_id", b.ID, "error", err)
	}

	if err := s.repo.RecordWalletTransaction(ctx, &WalletTransaction{
		UserID:      b.UserID,
		Type:        WalletCredit,
		Amount:      b.TotalPrice,
		Description: fmt.Sprintf("Refund for booking #%s", b.BookingNumber),
		ReferenceID: b.ID,
		CreatedAt:   now,
	}); err != nil {
		s.log.Warn("failed to record wallet transaction", "booking_id", b.ID, "error", err)
	}

	s.log.Info("wallet refunded", "booking_id", b.ID, "user_id", b.UserID, "amount", b.TotalPrice)
	return nil
}

func (s *Service) releaseSlot(ctx context.Context, slotID string) {
	if err := s.repo.ReleaseSlot(context.WithoutCancel(ctx), slotID); err != nil {
		s.log.Error("failed to release slot", "slot_id", slotID, "error", err)
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrCapacityFull):
		return "capacity_full"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrWalletBusy):
		return "wallet_busy"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	}
	return "internal"
}
