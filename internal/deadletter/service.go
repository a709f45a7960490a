package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/txnflow/pkg/db"
	"github.com/angelmondragon/txnflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/pagination"
)

type repository interface {
	Insert(ctx context.Context, entry models.DeadLetter) (bool, error)
	FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error)
	List(ctx context.Context, transactionID string, after *pagination.Cursor, limit int) ([]models.DeadLetter, error)
}

// Service archives dead-letter records and serves them back for diagnosis.
type Service interface {
	Archive(ctx context.Context, rec events.DeadLetterRecord) (bool, error)
	List(ctx context.Context, q ListQuery) (*Page, error)
}

// Page is one slice of the archive. NextCursor is empty on the last page.
type Page struct {
	Items      []Record `json:"items"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// Record is the operator-facing view of an archived dead letter.
type Record struct {
	EventID       string          `json:"eventId"`
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	EventType     string          `json:"eventType"`
	ErrorMessage  string          `json:"errorMessage"`
	ErrorStack    string          `json:"errorStack,omitempty"`
	FailedAt      time.Time       `json:"failedAt"`
	ArchivedAt    time.Time       `json:"archivedAt"`
	OriginalEvent json.RawMessage `json:"originalEvent"`
}

type service struct {
	repo repository
	now  func() time.Time
}

func NewService(repo repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("dead-letter repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Archive(ctx context.Context, rec events.DeadLetterRecord) (bool, error) {
	original, err := rec.OriginalEvent.Marshal()
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode original event")
	}
	archivedAt := s.now().UTC()
	// records without a failure time fall back to the command's creation time
	failedAt := archivedAt
	switch {
	case rec.Error.Timestamp > 0:
		failedAt = time.UnixMilli(rec.Error.Timestamp).UTC()
	case rec.OriginalEvent.TS > 0:
		failedAt = rec.OriginalEvent.Time()
	}

	inserted, err := s.repo.Insert(ctx, models.DeadLetter{
		EventID:       rec.OriginalEvent.ID,
		TransactionID: rec.OriginalEvent.TransactionID,
		UserID:        rec.OriginalEvent.UserID,
		EventType:     string(rec.OriginalEvent.Type),
		OriginalEvent: string(original),
		ErrorMessage:  rec.Error.Message,
		ErrorStack:    rec.Error.Stack,
		FailedAt:      failedAt,
		ArchivedAt:    archivedAt,
	})
	if err != nil {
		if db.IsTransient(err) {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive dead letter")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "archive dead letter")
	}
	return inserted, nil
}

func (s *service) List(ctx context.Context, q ListQuery) (*Page, error) {
	after, err := pagination.ParseCursor(q.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(q.Limit)
	rows, err := s.repo.List(ctx, q.TransactionID, after, pagination.LimitWithBuffer(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}

	page := &Page{Items: make([]Record, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{At: last.FailedAt, ID: last.EventID})
	}
	for _, row := range rows {
		page.Items = append(page.Items, toRecord(row))
	}
	return page, nil
}

func toRecord(row models.DeadLetter) Record {
	rec := Record{
		EventID:       row.EventID,
		TransactionID: row.TransactionID,
		UserID:        row.UserID,
		EventType:     row.EventType,
		ErrorMessage:  row.ErrorMessage,
		ErrorStack:    row.ErrorStack,
		FailedAt:      row.FailedAt,
		ArchivedAt:    row.ArchivedAt,
	}
	if json.Valid([]byte(row.OriginalEvent)) {
		rec.OriginalEvent = json.RawMessage(row.OriginalEvent)
	}
	return rec
}
