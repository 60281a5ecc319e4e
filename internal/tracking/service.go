package tracking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	MaxPage          = 100_000

	maxNumberAttempts = 5
	createdNote       = "Order created"
	resultsNote       = "Results uploaded"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidReferenceType = fmt.Errorf("%w: unknown reference type", ErrValidation)
	ErrInvalidStatus        = errors.New("status is not valid for this tracking record")
	ErrInvalidTransition    = errors.New("no next status to advance to")
)

type Service struct {
	repo     Repository
	vocab    Vocabularies
	subjects SubjectUpdater
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService wires the engine. subjects may be nil, in which case subject
// entities are never touched.
func NewService(repo Repository, vocab Vocabularies, subjects SubjectUpdater, log logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		vocab:    vocab,
		subjects: subjects,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *Service) Vocabulary(refType ReferenceType) (Vocabulary, error) {
	v, ok := s.vocab[refType]
	if !ok || !refType.IsValid() {
		return Vocabulary{}, fmt.Errorf("%w: %q", ErrInvalidReferenceType, refType)
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, refType ReferenceType, refID string) (*Record, error) {
	if _, err := s.Vocabulary(refType); err != nil {
		return nil, err
	}
	if refID == "" {
		return nil, fmt.Errorf("%w: referenceId is required", ErrValidation)
	}
	return s.wrapGet(s.repo.GetByReference(ctx, refType, refID))
}

func (s *Service) GetByID(ctx context.Context, id string) (*Record, error) {
	return s.wrapGet(s.repo.GetByID(ctx, id))
}

func (s *Service) GetByTrackingNumber(ctx context.Context, number string) (*Record, error) {
	return s.wrapGet(s.repo.GetByTrackingNumber(ctx, number))
}

func (s *Service) wrapGet(rec *Record, err error) (*Record, error) {
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load tracking: %w", err)
	}
	return rec, nil
}

type CreateInput struct {
	ReferenceType ReferenceType
	ReferenceID   string
	InitialStatus string
	Note          string
}

// Create starts tracking a subject. An existing record for the same reference
// is returned unchanged with created=false.
func (s *Service) Create(ctx context.Context, in CreateInput) (rec *Record, created bool, err error) {
	vocab, err := s.Vocabulary(in.ReferenceType)
	if err != nil {
		return nil, false, err
	}
	if in.ReferenceID == "" {
		return nil, false, fmt.Errorf("%w: referenceId is required", ErrValidation)
	}
	if in.InitialStatus == "" {
		in.InitialStatus = vocab.Ordered[0].Key
	}
	if !vocab.Contains(in.InitialStatus) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidStatus, in.InitialStatus)
	}
	if in.Note == "" {
		in.Note = createdNote
	}

	existing, err := s.repo.GetByReference(ctx, in.ReferenceType, in.ReferenceID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("load tracking: %w", err)
	}

	now := s.now()
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		rec = &Record{
			TrackingNumber:  NewTrackingNumber(vocab.Prefix, now),
			ReferenceType:   in.ReferenceType,
			ReferenceID:     in.ReferenceID,
			CurrentStatus:   in.InitialStatus,
			OrderedStatuses: vocab.OrderedKeys(),
			StatusHistory: []HistoryEntry{{
				Status:    in.InitialStatus,
				Note:      in.Note,
				ChangedBy: BySystem,
				CreatedAt: now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.repo.Insert(ctx, rec)
		if err == nil {
			s.log.Info("tracking created",
				"tracking_id", rec.ID,
				"tracking_number", rec.TrackingNumber,
				"reference_type", rec.ReferenceType,
				"reference_id", rec.ReferenceID,
			)
			return rec, true, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return nil, false, fmt.Errorf("insert tracking: %w", err)
		}
		// Either a concurrent create for the same reference won, or the
		// tracking number collided and a new one is drawn.
		if existing, gerr := s.repo.GetByReference(ctx, in.ReferenceType, in.ReferenceID); gerr == nil {
			return existing, false, nil
		}
	}
	return nil, false, fmt.Errorf("insert tracking: %w", err)
}

// GetOrCreate returns the tracking for a subject, creating it at the first
// ordered status on first use.
func (s *Service) GetOrCreate(ctx context.Context, refType ReferenceType, refID string) (*Record, error) {
	rec, _, err := s.Create(ctx, CreateInput{ReferenceType: refType, ReferenceID: refID})
	return rec, err
}

type AdvanceInput struct {
	Status        string
	Note          string
	ChangedBy     ChangedBy
	ChangedByName string
	Fields        Fields
}

// Advance records a new status. Any status of the record's vocabulary is
// accepted; moves that go backward or skip ahead are flagged as forced.
func (s *Service) Advance(ctx context.Context, id string, in AdvanceInput) (*Record, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.advance(ctx, rec, in)
}

func (s *Service) advance(ctx context.Context, rec *Record, in AdvanceInput) (*Record, error) {
	if in.ChangedBy == "" {
		in.ChangedBy = ByAdmin
	}
	if !in.ChangedBy.IsValid() {
		return nil, fmt.Errorf("%w: unknown changedBy %q", ErrValidation, in.ChangedBy)
	}
	if !s.allowed(rec, in.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	now := s.now()
	entry := HistoryEntry{
		Status:        in.Status,
		Note:          in.Note,
		ChangedBy:     in.ChangedBy,
		ChangedByName: in.ChangedByName,
		Forced:        isForced(rec.OrderedStatuses, rec.CurrentStatus, in.Status),
		CreatedAt:     now,
	}
	fields := in.Fields
	if in.Status == StatusDelivered || in.Status == StatusCompleted {
		fields.ActualDelivery = &now
	}

	updated, err := s.repo.AppendStatus(ctx, rec.ID, entry, fields)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("append status: %w", err)
	}

	s.metrics.TrackingTransition.WithLabelValues(string(rec.ReferenceType), strconv.FormatBool(entry.Forced)).Inc()
	s.log.Info("tracking advanced",
		"tracking_id", rec.ID,
		"from", rec.CurrentStatus,
		"to", in.Status,
		"forced", entry.Forced,
		"changed_by", in.ChangedBy,
	)

	s.syncSubjectStatus(ctx, updated)
	return updated, nil
}

// AdvanceNext moves to the status right after the current one.
func (s *Service) AdvanceNext(ctx context.Context, id, note string, by ChangedBy, byName string) (*Record, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := slices.Index(rec.OrderedStatuses, rec.CurrentStatus)
	if idx < 0 || idx == len(rec.OrderedStatuses)-1 {
		return nil, fmt.Errorf("%w: current status %q", ErrInvalidTransition, rec.CurrentStatus)
	}
	return s.advance(ctx, rec, AdvanceInput{
		Status:        rec.OrderedStatuses[idx+1],
		Note:          note,
		ChangedBy:     by,
		ChangedByName: byName,
	})
}

// UploadResults attaches a results file. The record moves to results_ready
// when its vocabulary has it; otherwise the current status is re-recorded.
func (s *Service) UploadResults(ctx context.Context, id, url, note string) (*Record, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: resultsFileUrl is required", ErrValidation)
	}
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := rec.CurrentStatus
	if slices.Contains(rec.OrderedStatuses, StatusResultsReady) {
		status = StatusResultsReady
	}
	if note == "" {
		note = resultsNote
	}

	updated, err := s.advance(ctx, rec, AdvanceInput{
		Status:    status,
		Note:      note,
		ChangedBy: ByAdmin,
		Fields:    Fields{ResultsFileURL: &url},
	})
	if err != nil {
		return nil, err
	}

	if s.subjects != nil {
		if err := s.subjects.SetResultsFile(ctx, rec.ReferenceType, rec.ReferenceID, url); err != nil {
			s.log.Warn("failed to sync results file to subject",
				"tracking_id", rec.ID,
				"reference_id", rec.ReferenceID,
				"error", err,
			)
		}
	}
	return updated, nil
}

// UpdateDetails changes assignment, results or notes without a status move.
func (s *Service) UpdateDetails(ctx context.Context, id string, f Fields) (*Record, error) {
	rec, err := s.repo.UpdateFields(ctx, id, f)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.ReferenceType != "" && !f.ReferenceType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReferenceType, f.ReferenceType)
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

	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tracking: %w", err)
	}
	return &Page{
		Records: items,
		Total:   total,
		Page:    f.Page,
		Limit:   f.Limit,
		Pages:   (total + f.Limit - 1) / f.Limit,
	}, nil
}

func (s *Service) allowed(rec *Record, status string) bool {
	if status == "" {
		return false
	}
	if slices.Contains(rec.OrderedStatuses, status) {
		return true
	}
	v, ok := s.vocab[rec.ReferenceType]
	if !ok {
		return false
	}
	return slices.ContainsFunc(v.OutOfBand, func(si StatusInfo) bool { return si.Key == status })
}

// syncSubjectStatus is best effort. The tracking write has already happened
// and is not rolled back when the subject update fails.
func (s *Service) syncSubjectStatus(ctx context.Context, rec *Record) {
	if s.subjects == nil {
		return
	}
	mapped, ok := s.vocab[rec.ReferenceType].SubjectStatus[rec.CurrentStatus]
	if !ok {
		return
	}
	if err := s.subjects.SetStatus(ctx, rec.ReferenceType, rec.ReferenceID, mapped); err != nil {
		s.log.Warn("failed to sync subject status",
			"tracking_id", rec.ID,
			"reference_type", rec.ReferenceType,
			"reference_id", rec.ReferenceID,
			"status", mapped,
			"error", err,
		)
	}
}

func isForced(ordered []string, from, to string) bool {
	i, j := slices.Index(ordered, from), slices.Index(ordered, to)
	if i < 0 || j < 0 {
		return false
	}
	return j < i || j > i+1
}
