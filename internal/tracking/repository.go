package tracking

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("tracking record not found")
	ErrDuplicate = errors.New("tracking record already exists")
)

// Repository persists tracking records. AppendStatus must push the history
// entry and set currentStatus in one atomic write.
type Repository interface {
	Insert(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	GetByReference(ctx context.Context, refType ReferenceType, refID string) (*Record, error)
	GetByTrackingNumber(ctx context.Context, number string) (*Record, error)
	AppendStatus(ctx context.Context, id string, entry HistoryEntry, f Fields) (*Record, error)
	UpdateFields(ctx context.Context, id string, f Fields) (*Record, error)
	List(ctx context.Context, f ListFilter) ([]Record, int, error)
}

// SubjectUpdater mirrors tracking progress onto the entity being tracked
// (order, test request, nursing request).
type SubjectUpdater interface {
	SetStatus(ctx context.Context, refType ReferenceType, refID, status string) error
	SetResultsFile(ctx context.Context, refType ReferenceType, refID, url string) error
}
