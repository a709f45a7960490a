package deadletter

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/txnflow/pkg/db"
	"github.com/angelmondragon/txnflow/pkg/db/models"
	"github.com/angelmondragon/txnflow/pkg/pagination"
	"gorm.io/gorm"
)

const maxErrorMessageLen = 1024

// ListQuery filters archived records. Zero values list the most recent records.
type ListQuery struct {
	TransactionID string
	Limit         int
	Cursor        string
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// Insert stores entry. It reports false without error when the event id is
// already archived.
func (r *Repository) Insert(ctx context.Context, entry models.DeadLetter) (bool, error) {
	entry.ErrorMessage = truncate(entry.ErrorMessage, maxErrorMessageLen)
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Repository) FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error) {
	var row models.DeadLetter
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// List returns up to limit rows ordered newest failure first, starting after
// the given cursor.
func (r *Repository) List(ctx context.Context, transactionID string, after *pagination.Cursor, limit int) ([]models.DeadLetter, error) {
	query := r.db.WithContext(ctx).Model(&models.DeadLetter{})
	if txnID := strings.TrimSpace(transactionID); txnID != "" {
		query = query.Where("transaction_id = ?", txnID)
	}
	if after != nil {
		query = query.Where(
			"(failed_at < ?) OR (failed_at = ? AND event_id > ?)",
			after.At, after.At, after.ID,
		)
	}
	var rows []models.DeadLetter
	err := query.Order("failed_at DESC").Order("event_id").Limit(limit).Find(&rows).Error
	return rows, err
}

func truncate(message string, max int) string {
	if len(message) <= max {
		return message
	}
	return message[:max]
}
