package models

import "time"

// DeadLetter archives one saga command that the orchestrator could not process.
type DeadLetter struct {
	EventID       string    `gorm:"column:event_id;type:text;primaryKey" json:"eventId"`
	TransactionID string    `gorm:"column:transaction_id;type:text;not null;index:idx_dead_letters_transaction_id" json:"transactionId"`
	UserID        string    `gorm:"column:user_id;type:text;not null;default:''" json:"userId"`
	EventType     string    `gorm:"column:event_type;type:text;not null" json:"eventType"`
	OriginalEvent string    `gorm:"column:original_event;type:text;not null" json:"-"`
	ErrorMessage  string    `gorm:"column:error_message;type:text;not null" json:"errorMessage"`
	ErrorStack    string    `gorm:"column:error_stack;type:text;not null;default:''" json:"errorStack,omitempty"`
	FailedAt      time.Time `gorm:"column:failed_at;not null;index:idx_dead_letters_failed_at" json:"failedAt"`
	ArchivedAt    time.Time `gorm:"column:archived_at;not null" json:"archivedAt"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
