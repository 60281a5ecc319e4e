package api

import (
	"context"
	"sync"
	"time"

	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/tracking"
)

// -- Fake booking service --

type fakeBookings struct {
	mu         sync.Mutex
	users      map[string]*booking.User
	bookErr    error
	lastReq    booking.Request
	lastFilter booking.ListFilter
	bookings   map[string]*booking.Booking
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{
		users: map[string]*booking.User{
			"user-1":  {ID: "user-1", Name: "Sara", Email: "sara@example.com", Role: booking.RoleUser},
			"user-2":  {ID: "user-2", Name: "Omar", Email: "omar@example.com", Role: booking.RoleUser},
			"admin-1": {ID: "admin-1", Name: "Ali", Email: "ali@example.com", Role: booking.RoleAdmin},
		},
		bookings: map[string]*booking.Booking{
			"bk-1": {ID: "bk-1", UserID: "user-1", Status: booking.StatusPending},
			"bk-2": {ID: "bk-2", UserID: "user-1", Status: booking.StatusCompleted},
		},
	}
}

func (f *fakeBookings) ResolveUser(_ context.Context, id string) (*booking.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, booking.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeBookings) ReserveAndBook(_ context.Context, user *booking.User, req booking.Request) (*booking.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	b := &booking.Booking{
		ID:            "bk-new",
		BookingNumber: "BK25030042",
		UserID:        user.ID,
		SlotID:        req.SlotID,
		Date:          time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		StartTime:     "10:00",
		TotalPrice:    200,
		PaymentMethod: req.PaymentMethod,
		Status:        booking.StatusConfirmed,
		PaymentStatus: booking.PaymentPaid,
	}
	return &booking.Result{
		Booking: b,
		Payment: &booking.PaymentTransaction{TransactionID: "TXN250300001", Status: booking.TxCompleted},
	}, nil
}

func (f *fakeBookings) ListBookings(_ context.Context, requester *booking.User, filter booking.ListFilter) (*booking.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return &booking.Page{Bookings: []booking.Booking{}, Total: 0, Page: 1, Limit: 20}, nil
}

func (f *fakeBookings) GetBooking(_ context.Context, requester *booking.User, id string) (*booking.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || (!requester.IsAdmin() && b.UserID != requester.ID) {
		return nil, booking.ErrBookingNotFound
	}
	c := *b
	return &c, nil
}

func (f *fakeBookings) ChangeStatus(ctx context.Context, requester *booking.User, id string, to booking.Status, reason string) (*booking.Booking, error) {
	b, err := f.GetBooking(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if !booking.CanTransition(b.Status, to) {
		return nil, booking.ErrInvalidTransition
	}
	b.Status = to
	b.CancelReason = reason
	return b, nil
}

func (f *fakeBookings) Rate(ctx context.Context, requester *booking.User, id string, rating int, review string) (*booking.Booking, error) {
	if rating < 1 || rating > 5 {
		return nil, booking.ErrValidation
	}
	b, err := f.GetBooking(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if b.Status != booking.StatusCompleted {
		return nil, booking.ErrInvalidTransition
	}
	b.Rating = rating
	b.Review = review
	return b, nil
}

func (f *fakeBookings) DeleteBooking(_ context.Context, requester *booking.User, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !requester.IsAdmin() {
		return booking.ErrForbidden
	}
	if _, ok := f.bookings[id]; !ok {
		return booking.ErrBookingNotFound
	}
	delete(f.bookings, id)
	return nil
}

// -- Fake tracking service --

type fakeTracking struct {
	mu         sync.Mutex
	vocab      tracking.Vocabularies
	records    map[string]*tracking.Record
	lastAdv    *tracking.AdvanceInput
	lastFields *tracking.Fields
}

func newFakeTracking() *fakeTracking {
	vocab := tracking.DefaultVocabularies()
	ordered := vocab[tracking.HomeTest].OrderedKeys()
	rec := &tracking.Record{
		ID:              "trk-1",
		TrackingNumber:  "HT25030001",
		ReferenceType:   tracking.HomeTest,
		ReferenceID:     "req-1",
		CurrentStatus:   ordered[1],
		OrderedStatuses: ordered,
		StatusHistory: []tracking.HistoryEntry{
			{Status: ordered[0], ChangedBy: tracking.BySystem},
			{Status: ordered[1], ChangedBy: tracking.ByAdmin},
		},
	}
	return &fakeTracking{vocab: vocab, records: map[string]*tracking.Record{rec.ID: rec}}
}

func (f *fakeTracking) Vocabulary(rt tracking.ReferenceType) (tracking.Vocabulary, error) {
	v, ok := f.vocab[rt]
	if !ok {
		return tracking.Vocabulary{}, tracking.ErrInvalidReferenceType
	}
	return v, nil
}

func (f *fakeTracking) Get(_ context.Context, rt tracking.ReferenceType, refID string) (*tracking.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ReferenceType == rt && r.ReferenceID == refID {
			return r, nil
		}
	}
	return nil, tracking.ErrNotFound
}

func (f *fakeTracking) GetByID(_ context.Context, id string) (*tracking.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return r, nil
}

func (f *fakeTracking) GetByTrackingNumber(_ context.Context, number string) (*tracking.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.TrackingNumber == number {
			return r, nil
		}
	}
	return nil, tracking.ErrNotFound
}

func (f *fakeTracking) Create(ctx context.Context, in tracking.CreateInput) (*tracking.Record, bool, error) {
	if rec, err := f.Get(ctx, in.ReferenceType, in.ReferenceID); err == nil {
		return rec, false, nil
	}
	v, err := f.Vocabulary(in.ReferenceType)
	if err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ordered := v.OrderedKeys()
	rec := &tracking.Record{
		ID:              "trk-new",
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		CurrentStatus:   ordered[0],
		OrderedStatuses: ordered,
		StatusHistory:   []tracking.HistoryEntry{{Status: ordered[0], ChangedBy: tracking.BySystem}},
	}
	f.records[rec.ID] = rec
	return rec, true, nil
}

func (f *fakeTracking) Advance(ctx context.Context, id string, in tracking.AdvanceInput) (*tracking.Record, error) {
	rec, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAdv = &in
	if !f.vocab[rec.ReferenceType].Contains(in.Status) {
		return nil, tracking.ErrInvalidStatus
	}
	rec.CurrentStatus = in.Status
	rec.StatusHistory = append(rec.StatusHistory, tracking.HistoryEntry{Status: in.Status, Note: in.Note, ChangedBy: in.ChangedBy})
	return rec, nil
}

func (f *fakeTracking) AdvanceNext(ctx context.Context, id, note string, by tracking.ChangedBy, byName string) (*tracking.Record, error) {
	rec, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := f.vocab[rec.ReferenceType]
	idx := v.Index(rec.CurrentStatus)
	if idx < 0 || idx == len(rec.OrderedStatuses)-1 {
		return nil, tracking.ErrInvalidTransition
	}
	return f.Advance(ctx, id, tracking.AdvanceInput{Status: rec.OrderedStatuses[idx+1], Note: note, ChangedBy: by, ChangedByName: byName})
}

func (f *fakeTracking) UploadResults(ctx context.Context, id, url, note string) (*tracking.Record, error) {
	if url == "" {
		return nil, tracking.ErrValidation
	}
	rec, err := f.Advance(ctx, id, tracking.AdvanceInput{Status: tracking.StatusResultsReady, Note: note, ChangedBy: tracking.ByAdmin})
	if err != nil {
		return nil, err
	}
	rec.ResultsFileURL = url
	return rec, nil
}

func (f *fakeTracking) UpdateDetails(ctx context.Context, id string, fields tracking.Fields) (*tracking.Record, error) {
	rec, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFields = &fields
	if fields.AssignedTo != nil {
		rec.AssignedTo = *fields.AssignedTo
	}
	if fields.Notes != nil {
		rec.Notes = *fields.Notes
	}
	return rec, nil
}

func (f *fakeTracking) List(_ context.Context, filter tracking.ListFilter) (*tracking.Page, error) {
	if filter.ReferenceType != "" && !filter.ReferenceType.IsValid() {
		return nil, tracking.ErrInvalidReferenceType
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []tracking.Record{}
	for _, r := range f.records {
		out = append(out, *r)
	}
	return &tracking.Page{Records: out, Total: len(out), Page: 1, Limit: 20, Pages: 1}, nil
}
