package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
)

// -- Mock Repository --

type mockRepo struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]*Record)}
}

func clone(r *Record) *Record {
	c := *r
	c.StatusHistory = append([]HistoryEntry(nil), r.StatusHistory...)
	c.OrderedStatuses = append([]string(nil), r.OrderedStatuses...)
	return &c
}

func (m *mockRepo) Insert(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.TrackingNumber == r.TrackingNumber ||
			(existing.ReferenceType == r.ReferenceType && existing.ReferenceID == r.ReferenceID) {
			return ErrDuplicate
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.records[r.ID] = clone(r)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *mockRepo) GetByReference(_ context.Context, refType ReferenceType, refID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ReferenceType == refType && r.ReferenceID == refID {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetByTrackingNumber(_ context.Context, number string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TrackingNumber == number {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) AppendStatus(_ context.Context, id string, entry HistoryEntry, f Fields) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.StatusHistory = append(r.StatusHistory, entry)
	r.CurrentStatus = entry.Status
	r.UpdatedAt = entry.CreatedAt
	f.apply(r)
	return clone(r), nil
}

func (m *mockRepo) UpdateFields(_ context.Context, id string, f Fields) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	f.apply(r)
	return clone(r), nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if f.ReferenceType != "" && r.ReferenceType != f.ReferenceType {
			continue
		}
		if f.Status != "" && r.CurrentStatus != f.Status {
			continue
		}
		if f.Search != "" &&
			!strings.Contains(strings.ToLower(r.TrackingNumber), strings.ToLower(f.Search)) &&
			!strings.Contains(strings.ToLower(r.AssignedTo), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *clone(r))
	}
	return out, len(out), nil
}

// -- Mock subject updater --

type mockSubjects struct {
	statuses map[string]string
	results  map[string]string
	err      error
}

func newMockSubjects() *mockSubjects {
	return &mockSubjects{statuses: map[string]string{}, results: map[string]string{}}
}

func (m *mockSubjects) SetStatus(_ context.Context, refType ReferenceType, refID, status string) error {
	if m.err != nil {
		return m.err
	}
	m.statuses[string(refType)+"/"+refID] = status
	return nil
}

func (m *mockSubjects) SetResultsFile(_ context.Context, refType ReferenceType, refID, url string) error {
	if m.err != nil {
		return m.err
	}
	m.results[string(refType)+"/"+refID] = url
	return nil
}

func newTestService(repo Repository, subjects SubjectUpdater) *Service {
	svc := NewService(repo, DefaultVocabularies(), subjects, logger.NewNop(), metrics.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC) }
	return svc
}

func assertInvariant(t *testing.T, r *Record) {
	t.Helper()
	if len(r.StatusHistory) == 0 {
		t.Fatal("empty status history")
	}
	if last := r.StatusHistory[len(r.StatusHistory)-1].Status; last != r.CurrentStatus {
		t.Fatalf("currentStatus %q != last history status %q", r.CurrentStatus, last)
	}
}

func TestGetOrCreate_Lazy(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)

	first, err := svc.GetOrCreate(context.Background(), HomeTest, "X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.CurrentStatus != "order_created" || len(first.StatusHistory) != 1 {
		t.Fatalf("got status=%q history=%d", first.CurrentStatus, len(first.StatusHistory))
	}
	if first.StatusHistory[0].ChangedBy != BySystem {
		t.Errorf("changedBy = %s, want system", first.StatusHistory[0].ChangedBy)
	}
	if !strings.HasPrefix(first.TrackingNumber, "HT2605") || len(first.TrackingNumber) != 11 {
		t.Errorf("tracking number %q", first.TrackingNumber)
	}
	assertInvariant(t, first)

	second, err := svc.GetOrCreate(context.Background(), HomeTest, "X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID || len(second.StatusHistory) != 1 {
		t.Errorf("second call changed the record: %+v", second)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(newMockRepo(), nil)

	tests := []struct {
		name    string
		in      CreateInput
		wantErr error
	}{
		{"unknown type", CreateInput{ReferenceType: "pizza", ReferenceID: "1"}, ErrValidation},
		{"missing id", CreateInput{ReferenceType: ProductOrder}, ErrValidation},
		{"bad initial status", CreateInput{ReferenceType: ProductOrder, ReferenceID: "1", InitialStatus: "sample_collected"}, ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Create(context.Background(), tt.in); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAdvance_Scenario(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	rec, _ := svc.GetOrCreate(context.Background(), HomeTest, "X")

	for _, s := range []string{"payment_confirmed", "technician_assigned", "technician_on_way"} {
		var err error
		rec, err = svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: s})
		if err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}

	before := len(rec.StatusHistory)
	rec, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: "sample_collected", Note: "ok", ChangedBy: ByAdmin, ChangedByName: "admin1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.StatusHistory) != before+1 {
		t.Errorf("history grew by %d, want 1", len(rec.StatusHistory)-before)
	}
	if rec.CurrentStatus != "sample_collected" {
		t.Errorf("currentStatus = %q", rec.CurrentStatus)
	}
	last := rec.StatusHistory[len(rec.StatusHistory)-1]
	if last.Note != "ok" || last.ChangedByName != "admin1" || last.Forced {
		t.Errorf("last entry = %+v", last)
	}
	assertInvariant(t, rec)

	cls := Classify(rec.OrderedStatuses, rec.CurrentStatus)
	idx := 4
	for i, c := range cls {
		want := PhaseUpcoming
		if i < idx {
			want = PhasePast
		} else if i == idx {
			want = PhaseCurrent
		}
		if c.Phase != want {
			t.Errorf("%s: phase %s, want %s", c.Status, c.Phase, want)
		}
	}
}

func TestAdvance_AppendOnly(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	rec, _ := svc.GetOrCreate(context.Background(), ProductOrder, "order-1")

	moves := []string{"preparing", "payment_confirmed", "cancelled", "shipped", "shipped", "delivered"}
	for i, s := range moves {
		updated, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: s})
		if err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
		if len(updated.StatusHistory) != len(rec.StatusHistory)+1 {
			t.Fatalf("move %d: history %d -> %d", i, len(rec.StatusHistory), len(updated.StatusHistory))
		}
		for j := range rec.StatusHistory {
			if updated.StatusHistory[j] != rec.StatusHistory[j] {
				t.Fatalf("move %d rewrote history entry %d", i, j)
			}
		}
		assertInvariant(t, updated)
		rec = updated
	}
	if rec.ActualDelivery == nil {
		t.Error("delivered should set actualDelivery")
	}
}

func TestAdvance_ForcedFlag(t *testing.T) {
	tests := []struct {
		from, to string
		forced   bool
	}{
		{"order_created", "payment_confirmed", false},
		{"order_created", "shipped", true},
		{"shipped", "preparing", true},
		{"shipped", "cancelled", false},
		{"cancelled", "shipped", false},
		{"shipped", "shipped", false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			repo := newMockRepo()
			svc := newTestService(repo, nil)
			rec, _, _ := svc.Create(context.Background(), CreateInput{ReferenceType: ProductOrder, ReferenceID: "o", InitialStatus: tt.from})

			updated, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: tt.to})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := updated.StatusHistory[len(updated.StatusHistory)-1].Forced; got != tt.forced {
				t.Errorf("forced = %v, want %v", got, tt.forced)
			}
		})
	}
}

func TestAdvance_Errors(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	rec, _ := svc.GetOrCreate(context.Background(), ProductOrder, "order-1")

	if _, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: "sample_collected"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("foreign status: expected ErrInvalidStatus, got %v", err)
	}
	if _, err := svc.Advance(context.Background(), "missing", AdvanceInput{Status: "shipped"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing record: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: "shipped", ChangedBy: "robot"}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad changedBy: expected ErrValidation, got %v", err)
	}

	after, _ := repo.GetByID(context.Background(), rec.ID)
	if len(after.StatusHistory) != 1 {
		t.Errorf("rejected advances wrote history: %d entries", len(after.StatusHistory))
	}
}

func TestAdvanceNext(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	rec, _ := svc.GetOrCreate(context.Background(), HomeNursing, "visit-1")

	ordered := DefaultVocabularies()[HomeNursing].OrderedKeys()
	for _, want := range ordered[1:] {
		var err error
		rec, err = svc.AdvanceNext(context.Background(), rec.ID, "", ByAdmin, "")
		if err != nil {
			t.Fatalf("advance to %s: %v", want, err)
		}
		if rec.CurrentStatus != want {
			t.Fatalf("currentStatus = %s, want %s", rec.CurrentStatus, want)
		}
	}

	if _, err := svc.AdvanceNext(context.Background(), rec.ID, "", ByAdmin, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("at last status: expected ErrInvalidTransition, got %v", err)
	}

	rec2, _ := svc.GetOrCreate(context.Background(), HomeNursing, "visit-2")
	if _, err := svc.Advance(context.Background(), rec2.ID, AdvanceInput{Status: "cancelled"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.AdvanceNext(context.Background(), rec2.ID, "", ByAdmin, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("out-of-band: expected ErrInvalidTransition, got %v", err)
	}
}

func TestUploadResults(t *testing.T) {
	repo := newMockRepo()
	subjects := newMockSubjects()
	svc := newTestService(repo, subjects)

	ht, _ := svc.GetOrCreate(context.Background(), HomeTest, "test-1")
	updated, err := svc.UploadResults(context.Background(), ht.ID, "https://files/r.pdf", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.CurrentStatus != StatusResultsReady || updated.ResultsFileURL != "https://files/r.pdf" {
		t.Errorf("got status=%s url=%s", updated.CurrentStatus, updated.ResultsFileURL)
	}
	if subjects.results["home_test/test-1"] != "https://files/r.pdf" {
		t.Errorf("subject results not synced: %v", subjects.results)
	}
	assertInvariant(t, updated)

	po, _ := svc.GetOrCreate(context.Background(), ProductOrder, "order-1")
	updated, err = svc.UploadResults(context.Background(), po.ID, "https://files/invoice.pdf", "invoice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.CurrentStatus != "order_created" || len(updated.StatusHistory) != 2 {
		t.Errorf("got status=%s history=%d", updated.CurrentStatus, len(updated.StatusHistory))
	}

	if _, err := svc.UploadResults(context.Background(), po.ID, "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty url: expected ErrValidation, got %v", err)
	}
}

func TestAdvance_SyncsSubject(t *testing.T) {
	repo := newMockRepo()
	subjects := newMockSubjects()
	svc := newTestService(repo, subjects)
	rec, _ := svc.GetOrCreate(context.Background(), ProductOrder, "order-9")

	if _, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: "out_for_delivery"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := subjects.statuses["product_order/order-9"]; got != "shipped" {
		t.Errorf("subject status = %q, want shipped", got)
	}

	subjects.err = fmt.Errorf("subject store down")
	updated, err := svc.Advance(context.Background(), rec.ID, AdvanceInput{Status: "delivered"})
	if err != nil {
		t.Fatalf("subject failure must not fail the advance: %v", err)
	}
	if updated.CurrentStatus != "delivered" {
		t.Errorf("currentStatus = %s", updated.CurrentStatus)
	}
}

func TestList(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil)
	for i := 0; i < 3; i++ {
		_, _ = svc.GetOrCreate(context.Background(), ProductOrder, fmt.Sprintf("o-%d", i))
	}
	_, _ = svc.GetOrCreate(context.Background(), HomeTest, "t-1")

	page, err := svc.List(context.Background(), ListFilter{ReferenceType: ProductOrder})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 3 || page.Limit != DefaultPageLimit || page.Pages != 1 {
		t.Errorf("total=%d limit=%d pages=%d", page.Total, page.Limit, page.Pages)
	}

	if _, err := svc.List(context.Background(), ListFilter{ReferenceType: "nope"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	if _, err := svc.List(context.Background(), ListFilter{Page: math.MaxInt, Limit: MaxPageLimit}); !errors.Is(err, ErrValidation) {
		t.Errorf("huge page: expected ErrValidation, got %v", err)
	}
}
