package booking

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	users     map[string]*User
	providers map[string]*Provider
	slots     map[string]*Slot
	bookings  map[string]*Booking
	payments  map[string]*PaymentTransaction // bookingID/type
	walletTx  map[string]*WalletTransaction  // referenceID/type

	failCreateBooking error
	failMarkPaid      error
	releases          int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		users:     make(map[string]*User),
		providers: make(map[string]*Provider),
		slots:     make(map[string]*Slot),
		bookings:  make(map[string]*Booking),
		payments:  make(map[string]*PaymentTransaction),
		walletTx:  make(map[string]*WalletTransaction),
	}
}

func (m *mockRepo) addUser(u User) *User {
	m.users[u.ID] = &u
	return &u
}

func (m *mockRepo) addProvider(p Provider) {
	m.providers[p.ID] = &p
}

func (m *mockRepo) addSlot(s Slot) {
	if s.Status == "" {
		s.Status = SlotAvailable
	}
	m.slots[s.ID] = &s
}

func (m *mockRepo) user(id string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *m.users[id]
	u.WalletDebits = slices.Clone(u.WalletDebits)
	return u
}

func (m *mockRepo) slot(id string) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.slots[id]
}

func (m *mockRepo) payment(bookingID string, typ TxType) *PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.payments[bookingID+"/"+string(typ)]
	if !ok {
		return nil
	}
	c := *tx
	return &c
}

func (m *mockRepo) walletEntries() []WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WalletTransaction
	for _, tx := range m.walletTx {
		out = append(out, *tx)
	}
	return out
}

func (m *mockRepo) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *mockRepo) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *mockRepo) GetProviderByID(_ context.Context, id string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	c := *p
	return &c, nil
}

func (m *mockRepo) IncrementProviderPatients(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	p.TotalPatients++
	return nil
}

func (m *mockRepo) AddProviderRating(_ context.Context, id string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	p.Rating = (p.Rating*float64(p.ReviewsCount) + float64(rating)) / float64(p.ReviewsCount+1)
	p.ReviewsCount++
	return nil
}

func (m *mockRepo) ReserveSlot(_ context.Context, slotID string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.Status != SlotAvailable {
		return nil, ErrSlotUnavailable
	}
	s.Status = SlotBooked
	c := *s
	return &c, nil
}

func (m *mockRepo) ReleaseSlot(_ context.Context, slotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	if s, ok := m.slots[slotID]; ok {
		s.Status = SlotAvailable
		s.BookingID = ""
	}
	return nil
}

func (m *mockRepo) LinkSlotBooking(_ context.Context, slotID, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[slotID]; ok {
		s.BookingID = bookingID
	}
	return nil
}

func (m *mockRepo) CreateBooking(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateBooking != nil {
		return m.failCreateBooking
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	c := *b
	m.bookings[b.ID] = &c
	return nil
}

func (m *mockRepo) GetBookingByID(_ context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	c := *b
	return &c, nil
}

func (m *mockRepo) ListBookings(_ context.Context, f ListFilter) ([]Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Booking
	for _, b := range m.bookings {
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		if f.ProviderID != "" && b.ProviderID != f.ProviderID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.StartDate != nil && b.Date.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && b.Date.After(*f.EndDate) {
			continue
		}
		all = append(all, *b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })

	start := (f.Page - 1) * f.Limit
	if start > len(all) {
		start = len(all)
	}
	end := min(start+f.Limit, len(all))
	return all[start:end], len(all), nil
}

func (m *mockRepo) CountActiveBookingsOnDay(_ context.Context, providerID string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	y, mo, d := day.Date()
	for _, b := range m.bookings {
		by, bm, bd := b.Date.Date()
		if b.ProviderID != providerID || by != y || bm != mo || bd != d {
			continue
		}
		if b.Status == StatusCancelled || b.Status == StatusNoShow {
			continue
		}
		n++
	}
	return n, nil
}

func (m *mockRepo) UpdateBookingStatus(_ context.Context, id string, from Status, change StatusChange) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != from {
		return nil, ErrInvalidTransition
	}
	b.Status = change.To
	b.UpdatedAt = change.At
	switch change.To {
	case StatusCancelled:
		at := change.At
		b.CancelledAt = &at
		b.CancelledBy = change.CancelledBy
		b.CancelReason = change.CancelReason
	case StatusCompleted:
		at := change.At
		b.CompletedAt = &at
	}
	c := *b
	return &c, nil
}

func (m *mockRepo) MarkBookingPaid(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkPaid != nil {
		return m.failMarkPaid
	}
	b, ok := m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.PaymentStatus == PaymentPaid {
		return nil
	}
	if b.Status != StatusPending || b.PaymentStatus != PaymentPending {
		return ErrInvalidTransition
	}
	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentPaid
	b.UpdatedAt = at
	return nil
}

func (m *mockRepo) MarkBookingPaymentFailed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != StatusPending || b.PaymentStatus != PaymentPending {
		return ErrInvalidTransition
	}
	b.Status = StatusCancelled
	b.PaymentStatus = PaymentFailed
	b.CancelledAt = &at
	return nil
}

func (m *mockRepo) SetBookingPaymentStatus(_ context.Context, id string, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.PaymentStatus = status
	return nil
}

func (m *mockRepo) RateBooking(_ context.Context, id string, rating int, review string, at time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != StatusCompleted {
		return nil, ErrInvalidTransition
	}
	if b.Rating != 0 {
		return nil, ErrAlreadyRated
	}
	b.Rating = rating
	b.Review = review
	b.ReviewedAt = &at
	b.UpdatedAt = at
	c := *b
	return &c, nil
}

func (m *mockRepo) DeleteBooking(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[id]; !ok {
		return ErrBookingNotFound
	}
	delete(m.bookings, id)
	return nil
}

func (m *mockRepo) FindUnsettledWalletBookings(_ context.Context, createdBefore time.Time, limit int) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.PaymentMethod == PaymentWallet && b.PaymentStatus == PaymentPending &&
			b.Status == StatusPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, *b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) CreatePaymentTransaction(_ context.Context, tx *PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tx.BookingID + "/" + string(tx.Type)
	if _, ok := m.payments[key]; ok {
		return ErrDuplicate
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	c := *tx
	m.payments[key] = &c
	return nil
}

func (m *mockRepo) GetPaymentTransaction(_ context.Context, bookingID string, typ TxType) (*PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.payments[bookingID+"/"+string(typ)]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	c := *tx
	return &c, nil
}

func (m *mockRepo) SetPaymentTransactionStatus(_ context.Context, bookingID string, typ TxType, status TxStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.payments[bookingID+"/"+string(typ)]
	if !ok {
		return ErrPaymentNotFound
	}
	tx.Status = status
	tx.UpdatedAt = at
	if status == TxCompleted {
		tx.CompletedAt = &at
	}
	return nil
}

func (m *mockRepo) DebitWallet(_ context.Context, userID, bookingID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if slices.Contains(u.WalletDebits, bookingID) {
		return nil
	}
	if u.WalletBalance < amount {
		return ErrInsufficientFunds
	}
	u.WalletBalance -= amount
	u.WalletDebits = append(u.WalletDebits, bookingID)
	return nil
}

func (m *mockRepo) CreditWallet(_ context.Context, userID, bookingID string, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	i := slices.Index(u.WalletDebits, bookingID)
	if i < 0 {
		return false, nil
	}
	u.WalletBalance += amount
	u.WalletDebits = slices.Delete(u.WalletDebits, i, i+1)
	return true, nil
}

func (m *mockRepo) RecordWalletTransaction(_ context.Context, tx *WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tx.ReferenceID + "/" + string(tx.Type)
	if _, ok := m.walletTx[key]; ok {
		return nil
	}
	c := *tx
	m.walletTx[key] = &c
	return nil
}

// -- Mock discount policy --

type mockDiscount struct {
	codes    map[string]int64
	redeemed []string
}

func (d *mockDiscount) Quote(_ context.Context, code string, price int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	amt, ok := d.codes[code]
	if !ok {
		return 0, ErrInvalidDiscount
	}
	return min(amt, price), nil
}

func (d *mockDiscount) Redeem(_ context.Context, code string) error {
	d.redeemed = append(d.redeemed, code)
	return nil
}

var errBoom = errors.New("boom")
